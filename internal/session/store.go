package session

import (
	"context"
	"sync"
)

// Store persists sessions by namespaced key. Load reports absence with a
// false second return rather than an error.
type Store interface {
	Load(ctx context.Context, key string) (*Session, bool, error)
	Save(ctx context.Context, key string, s *Session) error
}

// MemoryStore keeps sessions in a map. It is the default when no path or
// endpoint is configured and the backing store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Load(ctx context.Context, key string) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, false, nil
	}
	cp := cloneSession(s)
	return &cp, true, nil
}

func (m *MemoryStore) Save(ctx context.Context, key string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneSession(s)
	m.sessions[key] = &cp
	return nil
}

func cloneSession(s *Session) Session {
	cp := Session{SessionID: s.SessionID}
	cp.History = append(cp.History, s.History...)
	cp.Turns = append(cp.Turns, s.Turns...)
	return cp
}
