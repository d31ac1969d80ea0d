package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/orchestrator"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/session"
)

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system"`
	Messages    []wireMessage   `json:"messages"`
	MaxTokens   *int            `json:"max_tokens"`
	Stream      bool            `json:"stream"`
	Temperature *float32        `json:"temperature"`
	TopP        *float32        `json:"top_p"`
}

func (ar *anthropicRequest) providerMessages() []provider.Message {
	out := make([]provider.Message, 0, len(ar.Messages)+1)
	if system := flattenContent(ar.System); system != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: system})
	}
	for _, m := range ar.Messages {
		out = append(out, m.flatten())
	}
	return out
}

func anthropicStopReason(finishReason string) string {
	if finishReason == "length" {
		return "max_tokens"
	}
	return "end_turn"
}

// handleMessages is the Anthropic-compatible chat surface. The top-level
// system field folds into the message list; content blocks flatten to text.
func (rt *Router) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, errors.InvalidRequest("invalid json body"))
		return
	}
	if req.Model == "" {
		writeAnthropicError(w, errors.InvalidRequest("missing field: model"))
		return
	}
	if len(req.Messages) == 0 {
		writeAnthropicError(w, errors.InvalidRequest("missing field: messages"))
		return
	}

	resolved := rt.Providers.Resolve(req.Model)
	if resolved == nil {
		writeAnthropicError(w, errors.Wrap(errors.ErrUnknownProvider, "unknown provider in model"))
		return
	}
	rt.activate(resolved.ProviderName)

	ctx := provider.WithAuthHeaders(r.Context(), authHeaders(r))
	cctx, cancel := context.WithTimeout(ctx, rt.modelTimeout())
	defer cancel()
	resp, err := resolved.Provider.ChatOnce(cctx, provider.ChatRequest{
		Model:       resolved.Model,
		Messages:    req.providerMessages(),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		writeAnthropicError(w, timeoutError(cctx, ctx, err))
		return
	}
	if resp.Content == "" {
		writeAnthropicError(w, errors.Upstream("empty completion"))
		return
	}

	id := session.NewID("msg")
	stopReason := anthropicStopReason(resp.FinishReason)
	if req.Stream {
		rt.streamAnthropic(w, id, req.Model, resp.Content, stopReason)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"type":  "message",
		"role":  "assistant",
		"model": req.Model,
		"content": []map[string]any{
			{"type": "text", "text": resp.Content},
		},
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": nil, "output_tokens": nil},
	})
}

// streamAnthropic replays the completed answer through the Anthropic event
// sequence, text deltas chunked the same as the OpenAI stream.
func (rt *Router) streamAnthropic(w http.ResponseWriter, id, model, text, stopReason string) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, errors.Internal("response writer does not support streaming"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, payload map[string]any) bool {
		body, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(body) + "\n\n")); err != nil {
			return false
		}
		f.Flush()
		return true
	}

	if !emit("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":          id,
			"type":        "message",
			"role":        "assistant",
			"model":       model,
			"content":     []any{},
			"stop_reason": nil,
		},
	}) {
		return
	}
	if !emit("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	}) {
		return
	}
	for _, piece := range orchestrator.Chunks(text, orchestrator.TextChunkSize) {
		if !emit("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": piece},
		}) {
			return
		}
	}
	if !emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}) {
		return
	}
	if !emit("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
	}) {
		return
	}
	if !emit("message_stop", map[string]any{"type": "message_stop"}) {
		return
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	f.Flush()
}
