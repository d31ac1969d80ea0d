package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/sekisho/internal/provider"
)

// Manager fronts a Store with a write-through cache. Writes for one session
// serialize on a per-session mutex; sessions do not contend with each other.
type Manager struct {
	store     Store
	namespace string

	mu    sync.Mutex
	cache map[string]*Session
	locks map[string]*sync.Mutex
}

func NewManager(store Store, namespace string) *Manager {
	return &Manager{
		store:     store,
		namespace: namespace,
		cache:     make(map[string]*Session),
		locks:     make(map[string]*sync.Mutex),
	}
}

// ResolveNamespace picks the store namespace for this boot. A reset request
// always mints a fresh one, which strands prior sessions without deleting
// them. Shared backends get a boot-scoped default so concurrent instances do
// not cross-read.
func ResolveNamespace(configured, storeType string, resetOnBoot bool) string {
	if resetOnBoot {
		ns := NewID("boot")
		slog.Info("session namespace re-minted", "namespace", ns)
		return ns
	}
	if configured != "" {
		return configured
	}
	if storeType != "memory" && storeType != "" {
		return NewID("boot")
	}
	return ""
}

func (m *Manager) Namespace() string { return m.namespace }

func (m *Manager) key(sessionID string) string {
	if m.namespace == "" {
		return sessionID
	}
	return m.namespace + ":" + sessionID
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// GetOrCreate returns a copy of the session: cache first, then store, then a
// fresh empty session. Absence is not an error.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (Session, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.getOrCreateLocked(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	return cloneSession(s), nil
}

func (m *Manager) getOrCreateLocked(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	cached, ok := m.cache[sessionID]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	stored, found, err := m.store.Load(ctx, m.key(sessionID))
	if err != nil {
		return nil, err
	}
	if !found {
		stored = &Session{SessionID: sessionID}
	}

	m.mu.Lock()
	m.cache[sessionID] = stored
	m.mu.Unlock()
	return stored, nil
}

func (m *Manager) AppendToHistory(ctx context.Context, sessionID string, messages ...provider.Message) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.getOrCreateLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	s.History = append(s.History, messages...)
	return m.store.Save(ctx, m.key(sessionID), s)
}

func (m *Manager) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.getOrCreateLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	s.Turns = append(s.Turns, turn)
	return m.store.Save(ctx, m.key(sessionID), s)
}
