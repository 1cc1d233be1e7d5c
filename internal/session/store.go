package session

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict means the stored version moved on since the session was read.
	ErrConflict = errors.New("session version conflict")
)

// Store persists sessions keyed by user id.
//
// Save uses optimistic versioning: a session with Version N is accepted only
// when the stored copy has Version N-1, or when none is stored and N is 1.
type Store interface {
	Get(ctx context.Context, userID string) (*dialog.Session, error)
	Save(ctx context.Context, s *dialog.Session) error
}
