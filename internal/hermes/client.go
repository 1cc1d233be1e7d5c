package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectTurnCompleted carries every turn whose session was persisted.
	SubjectTurnCompleted = "ally.turn.completed"
	// SubjectTurnDegraded carries turns answered from the fallback catalog.
	SubjectTurnDegraded = "ally.turn.degraded"
)

// ErrDisconnected is reported by Ready while the connection is down.
var ErrDisconnected = errors.New("nats disconnected")

// TurnEvent is emitted once per handled turn.
type TurnEvent struct {
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Sentiment string    `json:"sentiment,omitempty"`
	Degraded  bool      `json:"degraded"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Subject returns the subject the event is published on.
func (e TurnEvent) Subject() string {
	if e.Degraded {
		return SubjectTurnDegraded
	}
	return SubjectTurnCompleted
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("ally"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishTurn sends ev on its subject. Failures are logged, not returned.
func (c *Client) PublishTurn(ev TurnEvent) {
	if err := c.Publish(ev.Subject(), ev); err != nil {
		c.logger.Warn("publish turn event failed", "turn_id", ev.TurnID, "error", err)
	}
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Ready reports ErrDisconnected while the connection is down.
func (c *Client) Ready(context.Context) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	return nil
}

func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
