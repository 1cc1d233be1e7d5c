// Package messenger bridges Facebook Messenger page conversations to ally.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultSendURL = "https://graph.facebook.com/v19.0/me/messages"

// Sender posts text replies through the Graph API Send endpoint.
type Sender struct {
	token  string
	client *http.Client
	logger *slog.Logger
	apiURL string
}

func NewSender(pageAccessToken string, logger *slog.Logger) *Sender {
	return &Sender{
		token:  pageAccessToken,
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: defaultSendURL,
		logger: logger,
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	MessagingType string `json:"messaging_type"`
	Message       struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendText delivers text to the Messenger user recipientID.
func (s *Sender) SendText(ctx context.Context, recipientID, text string) error {
	var payload sendRequest
	payload.Recipient.ID = recipientID
	payload.MessagingType = "RESPONSE"
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal messenger payload: %w", err)
	}

	endpoint := s.apiURL + "?access_token=" + url.QueryEscape(s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("messenger send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var sendResp struct {
		MessageID string `json:"message_id"`
		Error     *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return fmt.Errorf("parse messenger response (status %d): %w", resp.StatusCode, err)
	}
	if sendResp.Error != nil {
		return fmt.Errorf("messenger error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("messenger status %d", resp.StatusCode)
	}

	s.logger.Debug("sent messenger reply", "recipient", recipientID, "message_id", sendResp.MessageID)
	return nil
}
