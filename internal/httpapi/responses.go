package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/session"
)

type responsesRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// inputText accepts a bare string or the structured input array, taking the
// first item's content.
func (rr *responsesRequest) inputText() (string, bool) {
	var s string
	if err := json.Unmarshal(rr.Input, &s); err == nil {
		return s, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rr.Input, &items); err != nil || len(items) == 0 {
		return "", false
	}
	if err := json.Unmarshal(items[0], &s); err == nil {
		return s, true
	}
	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(items[0], &obj); err != nil {
		return "", false
	}
	text := flattenContent(obj.Content)
	return text, text != ""
}

// handleResponses is the minimal Responses API shim: one user input, one
// output_text message back.
func (rt *Router) handleResponses(w http.ResponseWriter, r *http.Request) {
	var req responsesRequest
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
	cctx, cancel := context.WithTimeout(ctx, rt.modelTimeout())
	defer cancel()
	resp, err := resolved.Provider.ChatOnce(cctx, provider.ChatRequest{
		Model:    resolved.Model,
		Messages: []provider.Message{{Role: provider.RoleUser, Content: input}},
	})
	if err != nil {
		writeOpenAIError(w, timeoutError(cctx, ctx, err))
		return
	}
	if resp.Content == "" {
		writeOpenAIError(w, errors.Upstream("empty completion"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      session.NewID("resp"),
		"object":  "response",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"output": []map[string]any{
			{
				"id":   session.NewID("msg"),
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": resp.Content},
				},
			},
		},
	})
}
