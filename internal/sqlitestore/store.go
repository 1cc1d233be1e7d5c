// Package sqlitestore keeps sessions in a local SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id      TEXT PRIMARY KEY,
	dialog_state TEXT NOT NULL,
	data_json    TEXT NOT NULL,
	version      INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
);
`

var _ session.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens the database at path and creates the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, userID string) (*dialog.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json FROM sessions WHERE user_id = ?`, userID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess dialog.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	updated := sess.UpdatedAt.UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if sess.Version == 1 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (user_id, dialog_state, data_json, version, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			sess.UserID, sess.DialogState.Key(), string(data), sess.Version, updated,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET dialog_state = ?, data_json = ?, version = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			sess.DialogState.Key(), string(data), sess.Version, updated, sess.UserID, sess.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrConflict
	}
	return nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
