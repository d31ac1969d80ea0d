// Package httpapi serves the OpenAI- and Anthropic-compatible HTTP surface:
// chat completions with server-side tool orchestration, embeddings, models,
// responses, SSE streaming, and the MCP refresh endpoint.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/logger"
	"github.com/harunnryd/sekisho/internal/mcp"
	"github.com/harunnryd/sekisho/internal/metrics"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/session"
	"github.com/harunnryd/sekisho/internal/tool"
)

const DefaultProgressInterval = 2 * time.Second

// Router wires the HTTP surface onto the runtime pieces. Bridge may be nil
// when no MCP endpoints are configured.
type Router struct {
	Providers *provider.Registry
	Sessions  *session.Manager
	Tools     *tool.Registry
	Bridge    *mcp.Bridge

	// PrefixMode selects where endpoints mount: "v1" at the root only,
	// "api" under /api only, anything else mounts both.
	PrefixMode string

	ModelTimeout     time.Duration
	ToolTimeout      time.Duration
	ProgressInterval time.Duration
}

func (rt *Router) progressInterval() time.Duration {
	if rt.ProgressInterval > 0 {
		return rt.ProgressInterval
	}
	return DefaultProgressInterval
}

func (rt *Router) prefixes() []string {
	switch rt.PrefixMode {
	case "v1":
		return []string{""}
	case "api":
		return []string{"/api"}
	default:
		return []string{"", "/api"}
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range rt.prefixes() {
		mux.HandleFunc("GET "+prefix+"/health", rt.handleHealth)
		mux.HandleFunc("GET "+prefix+"/v1/models", rt.handleModels)
		mux.HandleFunc("POST "+prefix+"/v1/chat/completions", rt.handleChat)
		mux.HandleFunc("POST "+prefix+"/v1/embeddings", rt.handleEmbeddings)
		mux.HandleFunc("POST "+prefix+"/v1/responses", rt.handleResponses)
		mux.HandleFunc("POST "+prefix+"/v1/messages", rt.handleMessages)
		mux.HandleFunc("POST "+prefix+"/internal/refresh_mcp_tools", rt.handleRefreshMCPTools)
	}
	mux.Handle("GET /metrics", metrics.Handler())
	return rt.instrument(mux)
}

// statusRecorder captures the response status for metrics while keeping the
// Flusher contract SSE needs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rt *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := ulid.Make().String()
		w.Header().Set("x-request-id", traceID)
		r = r.WithContext(logger.WithTraceID(r.Context(), traceID))
		rt.logRequest(r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.RequestCount.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		slog.Info("request served", "trace_id", traceID, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed_ms", elapsed.Milliseconds())
	})
}

// logRequest logs the inbound request with secrets redacted, restoring the
// body for the handler.
func (rt *Router) logRequest(r *http.Request) {
	attrs := []any{"method", r.Method, "path", r.URL.Path}
	if sid := r.Header.Get("x-session-id"); sid != "" {
		attrs = append(attrs, "session_id", sid)
	}
	if r.Method == http.MethodPost && r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(raw))
			attrs = append(attrs, "body", logger.SanitizeJSON(raw))
		}
	}
	slog.Debug("request received", attrs...)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "unix_seconds": time.Now().Unix()})
}

// handleModels lists every registered provider's models. The default
// provider's ids come through bare; other providers are "provider:model".
func (rt *Router) handleModels(w http.ResponseWriter, r *http.Request) {
	defaultName := rt.Providers.DefaultName()
	data := make([]map[string]any, 0, 8)
	for _, p := range rt.Providers.List() {
		models, err := p.ListModels(r.Context())
		if err != nil {
			slog.Warn("list models failed", "provider", p.Name(), "error", err)
			continue
		}
		for _, m := range models {
			id := m.ID
			if p.Name() != defaultName {
				id = p.Name() + ":" + m.ID
			}
			ownedBy := m.OwnedBy
			if ownedBy == "" {
				ownedBy = p.Name()
			}
			data = append(data, map[string]any{
				"id":       id,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": ownedBy,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

type embeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

func (er *embeddingsRequest) inputText() (string, bool) {
	var s string
	if err := json.Unmarshal(er.Input, &s); err == nil {
		return s, true
	}
	var list []string
	if err := json.Unmarshal(er.Input, &list); err == nil && len(list) > 0 {
		return list[0], true
	}
	return "", false
}

func (rt *Router) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, errors.InvalidRequest("invalid json body"))
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, errors.InvalidRequest("missing field: model"))
		return
	}
	input, ok := req.inputText()
	if !ok || input == "" {
		writeOpenAIError(w, errors.InvalidRequest("missing field: input"))
		return
	}

	resolved := rt.Providers.Resolve(req.Model)
	if resolved == nil {
		writeOpenAIError(w, errors.Wrap(errors.ErrUnknownProvider, "unknown provider in model"))
		return
	}
	rt.activate(resolved.ProviderName)

	ctx := provider.WithAuthHeaders(r.Context(), authHeaders(r))
	vec, err := resolved.Provider.Embeddings(ctx, resolved.Model, input)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"object": "embedding", "embedding": vec, "index": 0},
		},
		"model": req.Model,
		"usage": map[string]any{"prompt_tokens": nil, "total_tokens": nil},
	})
}

func (rt *Router) handleRefreshMCPTools(w http.ResponseWriter, r *http.Request) {
	if rt.Bridge == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true, "servers": 0, "registered": 0, "tools": 0, "errors": []any{},
		})
		return
	}
	report := rt.Bridge.RegisterTools(r.Context(), rt.Tools)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         report.OK,
		"servers":    report.Servers,
		"registered": report.Registered,
		"tools":      report.Registered,
		"errors":     report.Errors,
	})
}

// activate makes the resolved provider the active one, counting switches.
func (rt *Router) activate(name string) {
	if rt.Providers.Activate(name).Switched {
		metrics.ProviderSwitches.Inc()
	}
}

// authHeaders captures the client credential headers a remote backend may
// need. Values bind to the request context, never to provider state.
func authHeaders(r *http.Request) []provider.AuthHeader {
	var out []provider.AuthHeader
	for _, name := range []string{"Authorization", "x-api-key", "api-key", "api_key"} {
		if v := r.Header.Get(name); v != "" {
			out = append(out, provider.AuthHeader{Name: name, Value: v})
		}
	}
	return out
}
