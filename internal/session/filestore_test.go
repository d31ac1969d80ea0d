package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := t.Context()

	_, found, err := fs.Load(ctx, "ns:sess-1")
	require.NoError(t, err)
	assert.False(t, found)

	out := "done"
	s := &Session{
		SessionID: "sess-1",
		History:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		Turns:     []TurnRecord{{TurnID: "turn-1", OutputText: &out}},
	}
	require.NoError(t, fs.Save(ctx, "ns:sess-1", s))

	got, found, err := fs.Load(ctx, "ns:sess-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "hi", got.History[0].Content)
	assert.Equal(t, "done", *got.Turns[0].OutputText)
}

func TestFileStoreDocumentShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, fs.Save(ctx, "a", &Session{SessionID: "a"}))
	require.NoError(t, fs.Save(ctx, "ns:b", &Session{SessionID: "b"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Sessions map[string]json.RawMessage `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Sessions, "a")
	assert.Contains(t, doc.Sessions, "ns:b")
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := t.Context()

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Save(ctx, "sess-1", &Session{SessionID: "sess-1"}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	_, found, err := reopened.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, _, err = fs.Load(t.Context(), "sess-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, found, err := fs.Load(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.False(t, found)
}
