// Package openaicompat adapts any OpenAI-compatible HTTP endpoint (llama
// server, vLLM, MNN, LMDeploy, ...) to the provider contract.
package openaicompat

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harunnryd/sekisho/internal/config"
	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
)

const streamChunkSize = 64

type Provider struct {
	name   string
	client *openai.Client
}

func New(name string, endpoint config.Endpoint) *Provider {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = strings.TrimRight(endpoint.BaseURL(), "/") + "/v1"
	cfg.HTTPClient = &http.Client{
		Timeout:   300 * time.Second,
		Transport: &authForwardTransport{base: http.DefaultTransport},
	}
	return &Provider{name: name, client: openai.NewClientWithConfig(cfg)}
}

// authForwardTransport copies the caller's credential headers out of the
// request context into the outgoing upstream request.
type authForwardTransport struct {
	base http.RoundTripper
}

func (t *authForwardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	headers := provider.AuthHeaders(req.Context())
	if len(headers) > 0 {
		req = req.Clone(req.Context())
		for _, h := range headers {
			req.Header.Set(h.Name, h.Value)
		}
	}
	return t.base.RoundTrip(req)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Start() {}
func (p *Provider) Stop()  {}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstream, "%s: list models", p.name)
	}
	out := make([]provider.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID == "" {
			continue
		}
		owned := m.OwnedBy
		if owned == "" {
			owned = p.name
		}
		out = append(out, provider.ModelInfo{ID: m.ID, OwnedBy: owned})
	}
	return out, nil
}

func (p *Provider) Embeddings(ctx context.Context, model, input string) ([]float64, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{input},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstream, "%s: embeddings", p.name)
	}
	if len(resp.Data) == 0 {
		return nil, errors.Upstream(p.name + ": empty embeddings response")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (p *Provider) ChatOnce(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	oreq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		oreq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		oreq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		oreq.TopP = *req.TopP
	}

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstream, "%s: chat completion", p.name)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Upstream(p.name + ": empty chat response")
	}

	choice := resp.Choices[0]
	finish := string(choice.FinishReason)
	if finish == "" {
		finish = "stop"
	}
	return &provider.ChatResponse{
		Model:        req.Model,
		Content:      choice.Message.Content,
		Done:         true,
		FinishReason: finish,
	}, nil
}

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

func toOpenAIMessages(messages []provider.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
