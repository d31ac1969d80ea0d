package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	reg := NewRegistry("local")
	reg.Register(NewScripted("local"))
	reg.Register(NewScripted("remote"))

	tests := []struct {
		name         string
		model        string
		wantProvider string
		wantModel    string
		wantNil      bool
	}{
		{name: "bare model uses default", model: "qwen", wantProvider: "local", wantModel: "qwen"},
		{name: "prefixed model", model: "remote:gpt", wantProvider: "remote", wantModel: "gpt"},
		{name: "unknown provider", model: "nope:x", wantNil: true},
		{name: "empty model maps to default provider", model: "", wantProvider: "local", wantModel: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Resolve(tt.model)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantProvider, got.ProviderName)
			assert.Equal(t, tt.wantModel, got.Model)
		})
	}
}

func TestActivateIsExclusive(t *testing.T) {
	reg := NewRegistry("a")
	a := NewScripted("a")
	b := NewScripted("b")
	reg.Register(a)
	reg.Register(b)

	res := reg.Activate("a")
	assert.True(t, res.Switched)
	assert.Equal(t, "", res.From)
	assert.Equal(t, "a", res.To)
	assert.Equal(t, 1, a.StartCount())

	// Re-activating the active provider is a no-op.
	res = reg.Activate("a")
	assert.False(t, res.Switched)
	assert.Equal(t, 1, a.StartCount())
	assert.Equal(t, 0, a.StopCount())

	// Switching stops the previous provider before starting the next.
	res = reg.Activate("b")
	assert.True(t, res.Switched)
	assert.Equal(t, "a", res.From)
	assert.Equal(t, 1, a.StopCount())
	assert.Equal(t, 1, b.StartCount())
}

func TestActivateUnknownProvider(t *testing.T) {
	reg := NewRegistry("a")
	reg.Register(NewScripted("a"))

	res := reg.Activate("missing")
	assert.False(t, res.Switched)

	res = reg.Activate("")
	assert.False(t, res.Switched)
}

func TestScriptedReplaysAndRepeats(t *testing.T) {
	s := NewScripted("fake", "one", "two")

	r1, err := s.ChatOnce(t.Context(), ChatRequest{Model: "fake-tool"})
	require.NoError(t, err)
	r2, _ := s.ChatOnce(t.Context(), ChatRequest{Model: "fake-tool"})
	r3, _ := s.ChatOnce(t.Context(), ChatRequest{Model: "fake-tool"})

	assert.Equal(t, "one", r1.Content)
	assert.Equal(t, "two", r2.Content)
	assert.Equal(t, "two", r3.Content, "last reply repeats")
}
