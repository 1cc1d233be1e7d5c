package clinc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/session"
)

// Responder answers messenger text through Clinc, keeping each user's token
// and dialog id on their session.
type Responder struct {
	client *Client
	store  session.Store
	locker *session.Locker
	logger *slog.Logger
	now    func() time.Time
}

func NewResponder(c *Client, st session.Store, locker *session.Locker, logger *slog.Logger) *Responder {
	if locker == nil {
		locker = session.NewLocker()
	}
	return &Responder{client: c, store: st, locker: locker, logger: logger, now: time.Now}
}

func (r *Responder) Respond(ctx context.Context, userID, text string) (string, error) {
	unlock := r.locker.Lock(userID)
	defer unlock()

	sess, err := r.store.Get(ctx, userID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = dialog.NewSession(userID)
	case err != nil:
		return "", fmt.Errorf("load session: %w", err)
	}

	up := sess.Upstream
	if up.AccessToken == "" {
		if up.AccessToken, err = r.client.Authenticate(ctx); err != nil {
			return "", err
		}
	}

	res, err := r.client.Query(ctx, up.AccessToken, up.Dialog, text)
	if errors.Is(err, ErrUnauthorized) {
		r.logger.Info("clinc token rejected, re-authenticating", "user_id", userID)
		if up.AccessToken, err = r.client.Authenticate(ctx); err != nil {
			return "", err
		}
		res, err = r.client.Query(ctx, up.AccessToken, up.Dialog, text)
	}
	if err != nil {
		return "", err
	}
	if res.Dialog != "" {
		up.Dialog = res.Dialog
	}

	next := sess.Clone()
	next.Upstream = up
	next.Version = sess.Version + 1
	next.UpdatedAt = r.now().UTC()
	if err := r.store.Save(ctx, next); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return res.Text, nil
}
