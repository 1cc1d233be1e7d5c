package messenger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// processedBody is returned for every webhook delivery so Messenger does
// not redeliver.
const processedBody = "Message Processed"

// Responder produces the reply to a user's text.
type Responder interface {
	Respond(ctx context.Context, userID, text string) (string, error)
}

// TextSender delivers a reply to a Messenger user.
type TextSender interface {
	SendText(ctx context.Context, recipientID, text string) error
}

type Handler struct {
	verifyToken    string
	responder      Responder
	sender         TextSender
	attachmentText string
	logger         *slog.Logger
}

// NewHandler wires the webhook. attachmentText answers non-text messages.
func NewHandler(verifyToken string, r Responder, s TextSender, attachmentText string, logger *slog.Logger) *Handler {
	return &Handler{
		verifyToken:    verifyToken,
		responder:      r,
		sender:         s,
		attachmentText: attachmentText,
		logger:         logger,
	}
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "Invalid verification token", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(q.Get("hub.challenge")))
}

type webhookEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string           `json:"id"`
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		MID         string            `json:"mid"`
		Text        string            `json:"text"`
		IsEcho      bool              `json:"is_echo"`
		Attachments []json.RawMessage `json:"attachments"`
	} `json:"message"`
}

// Receive handles message deliveries.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var evt webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.logger.Warn("invalid messenger payload", "error", err)
	} else {
		for _, entry := range evt.Entry {
			for _, m := range entry.Messaging {
				h.handleMessage(r.Context(), m)
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(processedBody))
}

func (h *Handler) handleMessage(ctx context.Context, m messagingEvent) {
	if m.Message == nil || m.Message.IsEcho || m.Sender.ID == "" {
		return
	}
	recipient := m.Sender.ID

	if m.Message.Text != "" {
		reply, err := h.responder.Respond(ctx, recipient, m.Message.Text)
		if err != nil {
			h.logger.Error("messenger reply failed", "recipient", recipient, "error", err)
			return
		}
		h.send(ctx, recipient, reply)
	}
	if len(m.Message.Attachments) > 0 {
		h.send(ctx, recipient, h.attachmentText)
	}
}

func (h *Handler) send(ctx context.Context, recipient, text string) {
	if text == "" {
		return
	}
	if err := h.sender.SendText(ctx, recipient, text); err != nil {
		h.logger.Error("messenger send failed", "recipient", recipient, "error", err)
	}
}
