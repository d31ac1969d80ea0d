// Package ollama adapts a remote Ollama daemon to the provider contract.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sekisho/internal/config"
	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
)

const streamChunkSize = 64

type Provider struct {
	endpoint config.Endpoint
	httpc    *http.Client

	mu        sync.Mutex
	lastModel string
}

func New(endpoint config.Endpoint) *Provider {
	return &Provider{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Start() {
	p.logPs("start")
}

// Stop evicts the last-used model so the next active provider gets the GPU.
func (p *Provider) Stop() {
	p.mu.Lock()
	model := p.lastModel
	p.lastModel = ""
	p.mu.Unlock()
	if model == "" {
		return
	}

	body := map[string]any{"model": model, "prompt": "", "stream": false, "keep_alive": 0}
	resp, err := p.post(context.Background(), "/api/generate", body)
	if err != nil {
		slog.Warn("ollama unload failed", "model", model, "error", err)
		return
	}
	resp.Body.Close()
	slog.Info("ollama unload", "model", model, "status", resp.StatusCode)
	p.logPs("stop")
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	resp, err := p.get(ctx, "/api/tags")
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstream, "ollama: failed to connect")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Upstream(fmt.Sprintf("ollama: /api/tags http %d", resp.StatusCode))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errors.Upstream("ollama: invalid json from /api/tags")
	}
	out := make([]provider.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name == "" {
			continue
		}
		out = append(out, provider.ModelInfo{ID: m.Name, OwnedBy: "ollama"})
	}
	return out, nil
}

func (p *Provider) Embeddings(ctx context.Context, model, input string) ([]float64, error) {
	p.rememberModel(model)

	resp, err := p.post(ctx, "/api/embeddings", map[string]any{"model": model, "prompt": input})
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstream, "ollama: failed to connect")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Upstream(fmt.Sprintf("ollama: /api/embeddings http %d", resp.StatusCode))
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Embedding == nil {
		return nil, errors.Upstream("ollama: invalid json from /api/embeddings")
	}
	return parsed.Embedding, nil
}

func (p *Provider) ChatOnce(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.rememberModel(req.Model)

	body := map[string]any{
		"model":    req.Model,
		"stream":   false,
		"messages": req.Messages,
	}
	resp, err := p.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstream, "ollama: failed to connect")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Upstream(fmt.Sprintf("ollama: /api/chat http %d", resp.StatusCode))
	}

	var parsed struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Done *bool `json:"done"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Message == nil {
		return nil, errors.Upstream("ollama: invalid json from /api/chat")
	}

	out := &provider.ChatResponse{Model: req.Model, Content: parsed.Message.Content, Done: true, FinishReason: "stop"}
	if parsed.Done != nil {
		out.Done = *parsed.Done
	}
	return out, nil
}

// ChatStream reuses ChatOnce and re-chunks the content so the SSE layer
// keeps a uniform delta cadence across adapters.
func (p *Provider) ChatStream(ctx context.Context, req provider.ChatRequest, onDelta provider.DeltaFunc, onDone provider.DoneFunc) error {
	resp, err := p.ChatOnce(ctx, req)
	if err != nil {
		return err
	}
	for i := 0; i < len(resp.Content); i += streamChunkSize {
		end := i + streamChunkSize
		if end > len(resp.Content) {
			end = len(resp.Content)
		}
		if err := onDelta(resp.Content[i:end]); err != nil {
			return err
		}
	}
	onDone(resp.FinishReason)
	return nil
}

func (p *Provider) rememberModel(model string) {
	p.mu.Lock()
	p.lastModel = model
	p.mu.Unlock()
}

func (p *Provider) logPs(tag string) {
	resp, err := p.get(context.Background(), "/api/ps")
	if err != nil {
		slog.Debug("ollama ps failed", "tag", tag, "error", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	slog.Debug("ollama ps", "tag", tag, "status", resp.StatusCode, "body", string(body))
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(path), nil)
	if err != nil {
		return nil, err
	}
	return p.httpc.Do(req)
}

func (p *Provider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.httpc.Do(req)
}

func (p *Provider) url(path string) string {
	base := strings.TrimRight(p.endpoint.BaseURL(), "/")
	return base + path
}
