package tone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ally/internal/sentiment"
)

const defaultVersion = "2017-09-21"

// Client talks to the Watson Tone Analyzer v3 API.
type Client struct {
	baseURL  string
	apiKey   string
	version  string
	minScore float64
	client   *http.Client
}

func NewClient(baseURL, apiKey, version string, minScore float64) *Client {
	if version == "" {
		version = defaultVersion
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		version:  version,
		minScore: minScore,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type request struct {
	Text string `json:"text"`
}

type response struct {
	DocumentTone struct {
		Tones []struct {
			Score    float64 `json:"score"`
			ToneID   string  `json:"tone_id"`
			ToneName string  `json:"tone_name"`
		} `json:"tones"`
	} `json:"document_tone"`
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// Scores returns the raw document tones for text.
func (c *Client) Scores(ctx context.Context, text string) ([]sentiment.Score, error) {
	body, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	q := url.Values{}
	q.Set("version", c.version)
	q.Set("sentences", "false")
	endpoint := c.baseURL + "/v3/tone?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tone call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("tone error %d: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("tone error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	scores := make([]sentiment.Score, 0, len(apiResp.DocumentTone.Tones))
	for _, t := range apiResp.DocumentTone.Tones {
		scores = append(scores, sentiment.Score{Tone: t.ToneID, Score: t.Score})
	}
	return scores, nil
}

// Classify implements sentiment.Classifier.
func (c *Client) Classify(ctx context.Context, text string) (sentiment.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return sentiment.Sentiment{Label: sentiment.Neutral}, nil
	}
	scores, err := c.Scores(ctx, text)
	if err != nil {
		return sentiment.Sentiment{}, err
	}
	return sentiment.Pick(scores, c.minScore), nil
}

// Score implements sentiment.Scorer using the raw tone scores.
func (c *Client) Score(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	scores, err := c.Scores(ctx, text)
	if err != nil {
		return 0, err
	}
	return sentiment.Strongest(scores), nil
}
