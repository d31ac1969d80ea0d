package provider

import "context"

// Message is one chat turn. Content is always a flat string; array content
// parts are flattened at the HTTP boundary before reaching a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type ModelInfo struct {
	ID      string
	OwnedBy string
}

type ChatRequest struct {
	Model    string
	Messages []Message
	Stream   bool

	MaxTokens   *int
	Temperature *float32
	TopP        *float32
	MinP        *float32

	// Grammar constrains local GGUF generation; remote adapters ignore it.
	Grammar string
}

type ChatResponse struct {
	Model        string
	Content      string
	Done         bool
	FinishReason string
}

// DeltaFunc receives one streamed content fragment. Returning an error stops
// the stream; the provider treats it as client cancellation.
type DeltaFunc func(delta string) error

// DoneFunc receives the terminal finish reason ("stop" or "length").
type DoneFunc func(finishReason string)

// Provider is the uniform contract all inference backends implement.
// Start/Stop are activation hooks driven by the registry; they must stay
// brief beyond local I/O because the registry holds its mutex across them.
type Provider interface {
	Name() string
	Start()
	Stop()

	ListModels(ctx context.Context) ([]ModelInfo, error)
	Embeddings(ctx context.Context, model, input string) ([]float64, error)
	ChatOnce(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onDelta DeltaFunc, onDone DoneFunc) error
}
