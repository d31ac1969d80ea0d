// Package llamacpp serves GGUF models from a local directory through an
// in-process engine.
package llamacpp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/harunnryd/sekisho/internal/config"
	runtimeerrors "github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
)

const maxLoadAttempts = 4

// errStopSequence cancels generation from inside the token callback when a
// stop suffix shows up in the accumulated output.
var errStopSequence = errors.New("stop sequence")

var stopSuffixes = []string{"\nUser:", "\nUSER:", "\nAssistant:", "\nASSISTANT:", "USER:", "ASSISTANT:"}

type Provider struct {
	mu     sync.Mutex
	cfg    config.LlamaConfig
	engine Engine
	logs   *LogBuffer
	index  *modelIndex
}

func New(cfg config.LlamaConfig, engine Engine, logs *LogBuffer) *Provider {
	root := cfg.Model
	if root == "" {
		// Conventional fallback when nothing is configured.
		if info, err := os.Stat("models"); err == nil && info.IsDir() {
			root = "models"
		}
	}
	return &Provider{
		cfg:    cfg,
		engine: engine,
		logs:   logs,
		index:  buildModelIndex(root),
	}
}

func (p *Provider) Name() string { return "llama_cpp" }

func (p *Provider) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.index.ids) == 0 {
		p.index = buildModelIndex(p.index.root)
	}
}

func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Unload()
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.index.ids) == 0 {
		return nil, runtimeerrors.Upstream("llama_cpp: missing model path")
	}
	out := make([]provider.ModelInfo, 0, len(p.index.ids))
	for _, id := range p.index.ids {
		out = append(out, provider.ModelInfo{ID: id, OwnedBy: "llama_cpp"})
	}
	return out, nil
}

func (p *Provider) Embeddings(ctx context.Context, model, input string) ([]float64, error) {
	return nil, runtimeerrors.Upstream("llama_cpp: embeddings not supported")
}

func (p *Provider) ChatOnce(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	var out strings.Builder
	finish := "stop"
	err := p.ChatStream(ctx, req, func(delta string) error {
		out.WriteString(delta)
		return nil
	}, func(fr string) {
		finish = fr
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimRight(out.String(), " \t\r\n")
	for _, stop := range []string{"\nUser:", "\nUser", "\nUSER:", "\nUSER"} {
		if strings.HasSuffix(text, stop) {
			text = strings.TrimRight(strings.TrimSuffix(text, stop), " \t\r\n")
		}
	}
	return &provider.ChatResponse{Model: req.Model, Content: text, Done: true, FinishReason: finish}, nil
}

// ChatStream serializes all generation on the provider mutex: one loaded
// model, one decode at a time.
func (p *Provider) ChatStream(ctx context.Context, req provider.ChatRequest, onDelta provider.DeltaFunc, onDone provider.DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := p.index.resolve(req.Model)
	if err != nil {
		return err
	}
	if err := p.ensureLoaded(path); err != nil {
		return err
	}

	params := p.genParams(req)
	prompt := buildPrompt(req.Messages)

	var acc strings.Builder
	finish, err := p.engine.Generate(ctx, prompt, params, func(piece string) error {
		if piece == "" {
			return nil
		}
		acc.WriteString(piece)
		for _, stop := range stopSuffixes {
			if strings.HasSuffix(acc.String(), stop) {
				return errStopSequence
			}
		}
		return onDelta(piece)
	})
	if errors.Is(err, errStopSequence) {
		finish, err = "stop", nil
	}
	if err != nil {
		return runtimeerrors.Wrap(runtimeerrors.ErrUpstream, err.Error())
	}
	if finish == "" {
		finish = "stop"
	}
	slog.Info("llama_cpp generation done", "finish_reason", finish, "model", req.Model)
	onDone(finish)

	if p.cfg.UnloadAfter {
		p.engine.Unload()
	}
	return nil
}

// ensureLoaded drives the metadata-override repair chain: failed loads are
// retried with overrides selected from the captured backend log, then a
// CUDA OOM gets one CPU-only retry.
func (p *Provider) ensureLoaded(path string) error {
	if p.engine.Loaded() == path {
		return nil
	}
	p.engine.Unload()

	if _, err := os.Stat(path); err != nil {
		return runtimeerrors.Upstream("llama_cpp: model file not found")
	}

	forceYarn := false
	forceGLM4Pre := false
	var overrides []MetadataOverride
	var lastErr error

	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		lastErr = p.engine.Load(path, p.loadOptions(overrides, p.cfg.NGPULayers))
		if lastErr == nil {
			return nil
		}

		forceYarn = forceYarn || p.logs.Contains("deepseek2.rope.scaling.yarn_log_multiplier")
		forceGLM4Pre = forceGLM4Pre || p.logs.Contains("unknown pre-tokenizer type: 'glm4'") ||
			(p.logs.Contains("unknown pre-tokenizer type") && p.logs.Contains("glm4"))

		next := pickOverrides(forceYarn, forceGLM4Pre)
		if len(next) == len(overrides) {
			break
		}
		overrides = next
	}

	if lastErr != nil && p.cfg.NGPULayers != 0 && p.cudaOOM() {
		slog.Warn("llama_cpp cuda oom, fallback to cpu")
		lastErr = p.engine.Load(path, p.loadOptions(overrides, 0))
		if lastErr == nil {
			return nil
		}
	}

	root := p.logs.LastContaining("llama_model_load: error loading model:")
	if root == "" {
		root = p.logs.LastContaining("error loading model")
	}
	if root == "" {
		root = p.logs.LastLine()
	}
	if root != "" {
		return runtimeerrors.Upstream("llama_cpp: failed to load model: " + root)
	}
	return runtimeerrors.Upstream("llama_cpp: failed to load model")
}

func (p *Provider) cudaOOM() bool {
	return p.logs.Contains("cudaMalloc failed") ||
		p.logs.Contains("unable to allocate CUDA") ||
		p.logs.Contains("CUDA out of memory")
}

func pickOverrides(forceYarn, forceGLM4Pre bool) []MetadataOverride {
	var out []MetadataOverride
	if forceYarn {
		out = append(out, MetadataOverride{Key: "deepseek2.rope.scaling.yarn_log_multiplier", IsFloat: true})
	}
	if forceGLM4Pre {
		out = append(out, MetadataOverride{Key: "tokenizer.ggml.pre", StrValue: "chatglm-bpe"})
	}
	return out
}

func (p *Provider) loadOptions(overrides []MetadataOverride, gpuLayers int) LoadOptions {
	return LoadOptions{
		NGPULayers: gpuLayers,
		MainGPU:    p.cfg.MainGPU,
		SplitMode:  p.cfg.SplitMode,
		OffloadKQV: p.cfg.OffloadKQV,
		FlashAttn:  p.cfg.FlashAttn,
		NCtx:       orDefault(p.cfg.NCtx, config.DefaultLlamaNCtx),
		NBatch:     p.cfg.NBatch,
		NUBatch:    p.cfg.NUBatch,
		Overrides:  overrides,
	}
}

func (p *Provider) genParams(req provider.ChatRequest) GenParams {
	params := GenParams{
		MaxNewTokens:  orDefault(p.cfg.MaxNewTokens, config.DefaultLlamaMaxNewTokens),
		Temperature:   p.cfg.Temperature,
		TopP:          p.cfg.TopP,
		MinP:          p.cfg.MinP,
		Seed:          p.cfg.Seed,
		PenaltyLastN:  orDefault(p.cfg.PenaltyLastN, config.DefaultLlamaPenaltyLastN),
		RepeatPenalty: p.cfg.RepeatPenalty,
		Grammar:       req.Grammar,
	}
	if params.RepeatPenalty == 0 {
		params.RepeatPenalty = config.DefaultLlamaRepeatPenalty
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxNewTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = float64(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = float64(*req.TopP)
	}
	if req.MinP != nil {
		params.MinP = float64(*req.MinP)
	}
	return params
}

// buildPrompt is the template-less fallback: ROLE-prefixed transcript with a
// trailing assistant cue.
func buildPrompt(messages []provider.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("ASSISTANT: ")
	return b.String()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
