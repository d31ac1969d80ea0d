package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/metrics"
	"github.com/harunnryd/sekisho/internal/orchestrator"
)

const keepaliveInterval = time.Second

// progressPadding defeats intermediary buffering on long-idle streams.
var progressPadding = strings.Repeat(" ", 256)

// sseStream writes OpenAI-style chat.completion.chunk frames plus the
// comment-line keepalives that hold idle connections open.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher

	id      string
	model   string
	created int64

	progressEvery time.Duration

	mu           sync.Mutex
	lastWrite    time.Time
	lastProgress time.Time
	wroteRole    bool
}

// newSSEStream sends the stream headers and returns a writer. Callers must
// have set any custom headers beforehand.
func newSSEStream(w http.ResponseWriter, id, model string, progressEvery time.Duration) (*sseStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	now := time.Now()
	return &sseStream{
		w:             w,
		f:             f,
		id:            id,
		model:         model,
		created:       now.Unix(),
		progressEvery: progressEvery,
		lastWrite:     now,
		lastProgress:  now,
	}, nil
}

func (s *sseStream) write(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(payload)
}

func (s *sseStream) writeLocked(payload string) error {
	if _, err := s.w.Write([]byte(payload)); err != nil {
		return err
	}
	s.f.Flush()
	s.lastWrite = time.Now()
	return nil
}

func (s *sseStream) chunk(delta map[string]any, finishReason any) error {
	body, err := json.Marshal(map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": finishReason},
		},
	})
	if err != nil {
		return err
	}
	return s.write("data: " + string(body) + "\n\n")
}

// role emits the assistant role chunk exactly once.
func (s *sseStream) role() error {
	s.mu.Lock()
	if s.wroteRole {
		s.mu.Unlock()
		return nil
	}
	s.wroteRole = true
	s.mu.Unlock()
	return s.chunk(map[string]any{"role": "assistant"}, nil)
}

func (s *sseStream) text(piece string) error {
	return s.chunk(map[string]any{"content": piece}, nil)
}

// toolCall streams one call's arguments in fixed-size pieces; the function
// name rides only the first piece.
func (s *sseStream) toolCall(index int, call orchestrator.ExecutedCall) error {
	pieces := orchestrator.Chunks(string(call.Arguments), orchestrator.ArgChunkSize)
	if len(pieces) == 0 {
		pieces = []string{""}
	}
	for i, piece := range pieces {
		fn := map[string]any{"arguments": piece}
		if i == 0 {
			fn["name"] = call.Name
		}
		delta := map[string]any{
			"tool_calls": []map[string]any{
				{"index": index, "id": call.ID, "type": "function", "function": fn},
			},
		}
		if err := s.chunk(delta, nil); err != nil {
			return err
		}
	}
	return nil
}

// toolResult is the synthetic delta carrying a tool outcome back to the
// client mid-stream.
func (s *sseStream) toolResult(result orchestrator.ExecutedResult) error {
	return s.chunk(map[string]any{
		"tool_result": map[string]any{
			"tool_call_id": result.ToolCallID,
			"name":         result.Name,
			"ok":           result.OK,
			"result":       result.Result,
		},
	}, nil)
}

func (s *sseStream) finalText(text string) error {
	for _, piece := range orchestrator.Chunks(text, orchestrator.TextChunkSize) {
		if err := s.text(piece); err != nil {
			return err
		}
	}
	return nil
}

func (s *sseStream) finish(reason string) error {
	if err := s.chunk(map[string]any{}, reason); err != nil {
		return err
	}
	return s.write("data: [DONE]\n\n")
}

// heartbeat keeps the connection visibly alive: a keepalive comment when a
// second passed since the last write, a padded progress comment on the
// slower progress cadence.
func (s *sseStream) heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.progressEvery > 0 && now.Sub(s.lastProgress) >= s.progressEvery {
		s.lastProgress = now
		return s.writeLocked(": progress" + progressPadding + "\n\n")
	}
	if now.Sub(s.lastWrite) >= keepaliveInterval {
		metrics.StreamKeepalives.Inc()
		return s.writeLocked(": keepalive\n\n")
	}
	return nil
}

// startPacer drives heartbeat from a background ticker for code paths that
// do not pump it themselves (provider-side streaming). Returns a stop func.
func (s *sseStream) startPacer(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := s.heartbeat(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// error emits an in-band error frame and terminates the stream. Once SSE
// headers are out, this is the only way to surface a failure.
func (s *sseStream) error(err error) {
	body, merr := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": errMessage(err),
			"type":    errors.TypeString(err),
		},
	})
	if merr != nil {
		return
	}
	_ = s.write("data: " + string(body) + "\n\n")
	_ = s.write("data: [DONE]\n\n")
}

// replay renders a completed loop result as a full SSE stream.
func (s *sseStream) replay(res *orchestrator.Result, finishReason string) error {
	if err := s.role(); err != nil {
		return err
	}
	resultByCall := make(map[string]orchestrator.ExecutedResult, len(res.Results))
	for _, r := range res.Results {
		resultByCall[r.ToolCallID] = r
	}
	for i, call := range res.Calls {
		if err := s.toolCall(i, call); err != nil {
			return err
		}
		if r, ok := resultByCall[call.ID]; ok {
			if err := s.toolResult(r); err != nil {
				return err
			}
		}
	}
	if err := s.finalText(res.FinalText); err != nil {
		return err
	}
	return s.finish(finishReason)
}
