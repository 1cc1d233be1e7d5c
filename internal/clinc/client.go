// Package clinc talks to a hosted Clinc conversational AI instance.
package clinc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized means the access token was rejected.
var ErrUnauthorized = errors.New("clinc: unauthorized")

type Config struct {
	BaseURL     string
	Username    string
	Password    string
	Institution string
	AIVersion   string
}

type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		// Clinc answers redirects to the login page on bad credentials.
		client: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Authenticate runs the password grant and returns an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"username":    {c.cfg.Username},
		"password":    {c.cfg.Password},
		"institution": {c.cfg.Institution},
		"grant_type":  {"password"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &tok); err != nil {
		return "", fmt.Errorf("clinc oauth: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("clinc oauth: empty access token")
	}
	c.logger.Debug("obtained clinc access token")
	return tok.AccessToken, nil
}

// QueryResult is the part of a Clinc query response ally uses.
type QueryResult struct {
	Text string
	// Dialog identifies the conversation on the Clinc side.
	Dialog string
}

type queryRequest struct {
	Query      string  `json:"query"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Device     string  `json:"device"`
	TimeOffset int     `json:"time_offset"`
	Dialog     string  `json:"dialog"`
	AIVersion  string  `json:"ai_version"`
}

// Query sends text within the dialog identified by dialogID (empty starts one).
func (c *Client) Query(ctx context.Context, token, dialogID, text string) (QueryResult, error) {
	body, err := json.Marshal(queryRequest{
		Query:     text,
		Device:    "ally",
		Dialog:    dialogID,
		AIVersion: c.cfg.AIVersion,
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return QueryResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var resp struct {
		Dialog  string `json:"dialog"`
		Visuals struct {
			FormattedResponse string `json:"formattedResponse"`
		} `json:"visuals"`
	}
	if err := c.do(req, &resp); err != nil {
		return QueryResult{}, fmt.Errorf("clinc query: %w", err)
	}
	return QueryResult{Text: resp.Visuals.FormattedResponse, Dialog: resp.Dialog}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
