package provider

import (
	"context"
	"sync"
)

// Scripted replays canned assistant outputs in order and repeats the last
// one when exhausted. It backs the "fake" provider used by gateway smoke
// tests: the first reply usually carries a tool_calls object, the second a
// final.
type Scripted struct {
	name    string
	mu      sync.Mutex
	replies []string
	next    int

	startCalls int
	stopCalls  int
}

func NewScripted(name string, replies ...string) *Scripted {
	return &Scripted{name: name, replies: replies}
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
}

func (s *Scripted) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
}

// StartCount reports how many times Start ran. Test hook.
func (s *Scripted) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// StopCount reports how many times Stop ran. Test hook.
func (s *Scripted) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

func (s *Scripted) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "fake-tool", OwnedBy: s.name}}, nil
}

func (s *Scripted) Embeddings(ctx context.Context, model, input string) ([]float64, error) {
	return []float64{0.1, 0.2, 0.3}, nil
}

func (s *Scripted) ChatOnce(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content := ""
	if len(s.replies) > 0 {
		idx := s.next
		if idx >= len(s.replies) {
			idx = len(s.replies) - 1
		}
		content = s.replies[idx]
		s.next++
	}
	return &ChatResponse{Model: req.Model, Content: content, Done: true, FinishReason: "stop"}, nil
}

func (s *Scripted) ChatStream(ctx context.Context, req ChatRequest, onDelta DeltaFunc, onDone DoneFunc) error {
	resp, err := s.ChatOnce(ctx, req)
	if err != nil {
		return err
	}
	const chunk = 64
	for i := 0; i < len(resp.Content); i += chunk {
		end := i + chunk
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
