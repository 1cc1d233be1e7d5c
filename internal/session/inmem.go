package session

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
)

// InMemoryStore keeps sessions in process memory. Values are cloned on the
// way in and out so callers never share a Session.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*dialog.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]*dialog.Session)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (*dialog.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, sess *dialog.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.data[sess.UserID]; ok {
		stored = cur.Version
	}
	if sess.Version != stored+1 {
		return ErrConflict
	}
	s.data[sess.UserID] = sess.Clone()
	return nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
