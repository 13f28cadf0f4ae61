package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store persists sessions. Implementations must make GetOrCreate safe under
// concurrent first touch of the same call id.
type Store interface {
	GetOrCreate(ctx context.Context, callID, tenantID string, seed Seed) (*Session, error)
	Get(ctx context.Context, callID, tenantID string) (*Session, error)
	// Save writes sess if its Version still matches the stored row and bumps it.
	Save(ctx context.Context, sess *Session) error
	// ExpireBefore deletes non-terminal sessions not updated since cutoff.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore keeps sessions in process memory for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetOrCreate(ctx context.Context, callID, tenantID string, seed Seed) (*Session, error) {
	callID, tenantID = strings.TrimSpace(callID), strings.TrimSpace(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[callID]; ok {
		if existing.TenantID != tenantID {
			return nil, ErrTenantMismatch
		}
		return existing.Clone(), nil
	}
	sess := New(callID, tenantID, seed, s.now())
	s.sessions[callID] = sess.Clone()
	return sess, nil
}

func (s *MemoryStore) Get(ctx context.Context, callID, tenantID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[strings.TrimSpace(callID)]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.TenantID != strings.TrimSpace(tenantID) {
		return nil, ErrTenantMismatch
	}
	return existing.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.CallID]
	if !ok {
		return ErrNotFound
	}
	if existing.TenantID != sess.TenantID {
		return ErrTenantMismatch
	}
	if existing.Version != sess.Version {
		return ErrStale
	}
	sess.Version++
	sess.UpdatedAt = s.now().UTC()
	s.sessions[sess.CallID] = sess.Clone()
	return nil
}

func (s *MemoryStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if !sess.Terminal() && sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
