package llamacpp

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
)

// MetadataOverride patches one model-metadata key at load time. The repair
// chain uses these to fix known-broken GGUF metadata without editing files.
type MetadataOverride struct {
	Key      string
	StrValue string
	FloatVal float64
	IsFloat  bool
}

type LoadOptions struct {
	NGPULayers int
	MainGPU    int
	SplitMode  string
	OffloadKQV bool
	FlashAttn  string
	NCtx       int
	NBatch     int
	NUBatch    int
	Overrides  []MetadataOverride
}

type GenParams struct {
	MaxNewTokens  int
	Temperature   float64
	TopP          float64
	MinP          float64
	Seed          int
	PenaltyLastN  int
	RepeatPenalty float64

	// Grammar is a GBNF grammar constraining the sampler; empty means
	// unconstrained generation.
	Grammar string
}

// Engine is the GGUF inference backend. Only its load/stream contract
// matters to the provider; token internals stay behind this boundary.
type Engine interface {
	// Load prepares path for generation, emitting diagnostics into the
	// shared log buffer. It is a no-op when path is already loaded.
	Load(path string, opts LoadOptions) error
	// Loaded reports the currently loaded model path, or "".
	Loaded() string
	Unload()
	// Generate streams text fragments to onToken and returns the finish
	// reason ("stop" or "length"). An error from onToken cancels
	// generation and is returned as-is.
	Generate(ctx context.Context, prompt string, params GenParams, onToken func(string) error) (string, error)
}

const ggufMagic = "GGUF"

// ggufEngine validates and tracks GGUF files but carries no sampler: builds
// without a linked decoder still get model discovery, activation and the
// load-repair chain, and fail generation with a clear error.
type ggufEngine struct {
	logs   *LogBuffer
	loaded string
}

func NewGGUFEngine(logs *LogBuffer) Engine {
	return &ggufEngine{logs: logs}
}

func (e *ggufEngine) Load(path string, opts LoadOptions) error {
	if e.loaded == path {
		return nil
	}
	e.loaded = ""

	f, err := os.Open(path)
	if err != nil {
		e.logs.Append(fmt.Sprintf("llama_model_load: error loading model: %v", err))
		return err
	}
	defer f.Close()

	header := make([]byte, 8)
	if _, err := f.Read(header); err != nil {
		e.logs.Append("llama_model_load: error loading model: short read")
		return fmt.Errorf("llama_cpp: short gguf header")
	}
	if string(header[:4]) != ggufMagic {
		e.logs.Append("llama_model_load: error loading model: invalid magic")
		return fmt.Errorf("llama_cpp: not a gguf file")
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	e.logs.Append(fmt.Sprintf("llama_model_loader: gguf version %d", version))
	for _, ov := range opts.Overrides {
		e.logs.Append("llama_model_loader: applying metadata override " + ov.Key)
	}

	e.loaded = path
	return nil
}

func (e *ggufEngine) Loaded() string { return e.loaded }

func (e *ggufEngine) Unload() { e.loaded = "" }

func (e *ggufEngine) Generate(ctx context.Context, prompt string, params GenParams, onToken func(string) error) (string, error) {
	return "", fmt.Errorf("llama_cpp: no inference backend linked in this build")
}
