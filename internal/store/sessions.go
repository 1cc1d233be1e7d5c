package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/session"
)

var _ session.Store = (*Store)(nil)

// Get loads the session for userID.
func (s *Store) Get(ctx context.Context, userID string) (*dialog.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM ally_sessions WHERE user_id = $1`,
		userID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess dialog.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

// Save writes sess if the stored version is exactly one behind it.
func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var n int64
	if sess.Version == 1 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO ally_sessions (user_id, dialog_state, data, version, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO NOTHING`,
			sess.UserID, sess.DialogState.Key(), data, sess.Version, sess.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		n = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx, `
			UPDATE ally_sessions
			SET dialog_state = $2, data = $3, version = $4, updated_at = $5
			WHERE user_id = $1 AND version = $6`,
			sess.UserID, sess.DialogState.Key(), data, sess.Version, sess.UpdatedAt, sess.Version-1,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n = tag.RowsAffected()
	}

	if n == 0 {
		return session.ErrConflict
	}
	return nil
}

// Delete removes a user's session. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ally_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
