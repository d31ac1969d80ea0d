package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/provider"
)

var idPattern = regexp.MustCompile(`^sess-[0-9a-f]+-[0-9a-f]{16}$`)

func TestNewIDShape(t *testing.T) {
	id := NewSessionID()
	assert.Regexp(t, idPattern, id)
	assert.NotEqual(t, id, NewSessionID())
}

func TestEnsureSessionID(t *testing.T) {
	assert.Equal(t, "sess-abc", EnsureSessionID("sess-abc"))
	assert.Regexp(t, idPattern, EnsureSessionID(""))
}

func TestResolveNamespace(t *testing.T) {
	assert.Equal(t, "team-a", ResolveNamespace("team-a", "file", false))
	assert.Empty(t, ResolveNamespace("", "memory", false))

	minted := ResolveNamespace("", "file", false)
	assert.Regexp(t, `^boot-`, minted)

	reset := ResolveNamespace("team-a", "file", true)
	assert.Regexp(t, `^boot-`, reset, "reset strands the configured namespace")
}

func TestManagerWriteThrough(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, "")
	ctx := t.Context()

	s, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Empty(t, s.History)

	require.NoError(t, m.AppendToHistory(ctx, "sess-1",
		provider.Message{Role: provider.RoleUser, Content: "hi"},
		provider.Message{Role: provider.RoleAssistant, Content: "hello"},
	))

	out := "hello"
	require.NoError(t, m.AppendTurn(ctx, "sess-1", TurnRecord{
		TurnID:        NewID("turn"),
		InputMessages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		OutputText:    &out,
	}))

	// Cached view and store view agree.
	s, err = m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, s.History, 2)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, "hello", *s.Turns[0].OutputText)

	stored, found, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, stored.History, 2)
	assert.Len(t, stored.Turns, 1)
}

func TestManagerNamespacesKeys(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, "ns1")
	ctx := t.Context()

	require.NoError(t, m.AppendToHistory(ctx, "sess-1", provider.Message{Role: provider.RoleUser, Content: "x"}))

	_, found, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Load(ctx, "ns1:sess-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetOrCreateReturnsCopy(t *testing.T) {
	m := NewManager(NewMemoryStore(), "")
	ctx := t.Context()

	s, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	s.History = append(s.History, provider.Message{Role: provider.RoleUser, Content: "mutated"})

	again, err := m.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, again.History)
}
