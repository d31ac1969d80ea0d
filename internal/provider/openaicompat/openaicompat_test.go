package openaicompat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/config"
	"github.com/harunnryd/sekisho/internal/provider"
)

func endpointFor(t *testing.T, srv *httptest.Server) config.Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return config.Endpoint{Scheme: "http", Host: u.Hostname(), Port: port}
}

func TestChatOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "hi there"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := New("mnn", endpointFor(t, srv))
	resp, err := p.ChatOnce(t.Context(), provider.ChatRequest{
		Model:    "qwen",
		Messages: []provider.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestAuthHeadersForwardedPerRequest(t *testing.T) {
	var seenAuth, seenAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenAPIKey = r.Header.Get("x-api-key")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := New("upstream", endpointFor(t, srv))

	ctx := provider.WithAuthHeaders(t.Context(), []provider.AuthHeader{
		{Name: "Authorization", Value: "Bearer caller-token"},
		{Name: "x-api-key", Value: "caller-key"},
	})
	_, err := p.ChatOnce(ctx, provider.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer caller-token", seenAuth)
	assert.Equal(t, "caller-key", seenAPIKey)

	// Without scope headers nothing caller-specific leaks through.
	_, err = p.ChatOnce(t.Context(), provider.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, seenAuth)
	assert.Empty(t, seenAPIKey)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "qwen-7b", "owned_by": "vendor"},
				{"id": "phi-4", "owned_by": ""},
			},
		})
	}))
	defer srv.Close()

	p := New("lmdeploy", endpointFor(t, srv))
	models, err := p.ListModels(t.Context())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "vendor", models[0].OwnedBy)
	assert.Equal(t, "lmdeploy", models[1].OwnedBy, "empty owned_by falls back to provider name")
}

func TestEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{0.5, 0.25}},
			},
		})
	}))
	defer srv.Close()

	p := New("upstream", endpointFor(t, srv))
	vec, err := p.Embeddings(t.Context(), "text-embed", "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.25}, vec, 1e-6)
}

func TestChatStreamChunksContent(t *testing.T) {
	content := ""
	for len(content) < 100 {
		content += "abcdefghij"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := New("upstream", endpointFor(t, srv))
	var got string
	var chunks int
	err := p.ChatStream(t.Context(), provider.ChatRequest{Model: "m"}, func(d string) error {
		got += d
		chunks++
		assert.LessOrEqual(t, len(d), streamChunkSize)
		return nil
	}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Greater(t, chunks, 1)
}
