// Package orchestrator runs the server-side tool loop: generate, parse tool
// calls, invoke handlers, feed results back, until the model produces a
// final answer or a budget expires. A planner variant plans all calls up
// front; both share the same execution and budget rules.
package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/gbnf"
	"github.com/harunnryd/sekisho/internal/parser"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/tool"
)

const (
	DefaultMaxSteps        = 6
	DefaultMaxToolCalls    = 16
	DefaultMaxPlanSteps    = 6
	DefaultMaxPlanRewrites = 2

	DefaultModelTimeout = 900 * time.Second
	DefaultToolTimeout  = 300 * time.Second

	// SSE chunk sizes for tool-call arguments and final text.
	ArgChunkSize  = 48
	TextChunkSize = 64

	heartbeatInterval = 250 * time.Millisecond
)

// Events receives loop progress for streaming responses. All fields are
// optional. A non-nil error from any callback means the client connection is
// gone: the loop stops emitting and returns that error after the current
// handler completes.
type Events struct {
	ToolCall   func(index int, call ExecutedCall) error
	ToolResult func(result ExecutedResult) error

	// Heartbeat fires roughly every 250ms while the loop waits on model
	// generation or a tool handler.
	Heartbeat func() error
}

// Loop carries one orchestrated turn's configuration.
type Loop struct {
	Provider provider.Provider
	Model    string

	Registry *tool.Registry
	Tools    []tool.Schema

	MaxSteps        int
	MaxToolCalls    int
	MaxPlanSteps    int
	MaxPlanRewrites int

	MaxTokens   *int
	Temperature *float32
	TopP        *float32
	MinP        *float32

	// ConstrainGrammar attaches the tool-call GBNF grammar to generation
	// requests. Only meaningful for the local GGUF runner.
	ConstrainGrammar bool

	ModelTimeout time.Duration
	ToolTimeout  time.Duration

	Events Events
}

func (l *Loop) normalize() {
	if l.MaxSteps <= 0 {
		l.MaxSteps = DefaultMaxSteps
	}
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = DefaultMaxToolCalls
	}
	if l.MaxPlanSteps <= 0 {
		l.MaxPlanSteps = DefaultMaxPlanSteps
	}
	// Zero means "use the default"; pass a negative to forbid rewrites.
	if l.MaxPlanRewrites == 0 {
		l.MaxPlanRewrites = DefaultMaxPlanRewrites
	} else if l.MaxPlanRewrites < 0 {
		l.MaxPlanRewrites = 0
	}
	if l.ModelTimeout <= 0 {
		l.ModelTimeout = DefaultModelTimeout
	}
	if l.ToolTimeout <= 0 {
		l.ToolTimeout = DefaultToolTimeout
	}
}

func (l *Loop) allowedNames() map[string]bool {
	names := make(map[string]bool, len(l.Tools))
	for _, t := range l.Tools {
		names[t.Name] = true
	}
	return names
}

// RunToolLoop is the direct loop: each step generates once, executes any
// parsed calls, and appends TOOL_RESULT messages until the model answers.
func (l *Loop) RunToolLoop(ctx context.Context, messages []provider.Message) (*Result, error) {
	l.normalize()
	out := &Result{FinishReason: "stop"}
	allowed := l.allowedNames()

	msgs := make([]provider.Message, 0, len(messages)+8)
	if len(l.Tools) > 0 {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: toolSystemPrompt(l.Tools)})
	}
	msgs = append(msgs, messages...)

	toolCallsUsed := 0
	for step := 0; step < l.MaxSteps; step++ {
		out.Steps = step + 1

		text, finish, err := l.generate(ctx, msgs)
		if err != nil {
			return out, err
		}

		calls := parser.Parse(text)
		if len(calls) == 0 {
			if final, ok := parser.Final(text); ok {
				out.FinalText = final
			} else {
				out.FinalText = text
			}
			out.FinishReason = finish
			return out, nil
		}

		for _, c := range calls {
			ec := ExecutedCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}

			if len(allowed) > 0 && !allowed[c.Name] {
				if err := l.record(out, &msgs, ec, tool.Failure("tool not allowed")); err != nil {
					return out, err
				}
				continue
			}
			if !l.Registry.Has(c.Name) {
				if err := l.record(out, &msgs, ec, tool.Failure("tool not found")); err != nil {
					return out, err
				}
				continue
			}
			if toolCallsUsed >= l.MaxToolCalls {
				out.HitToolLimit = true
				out.FinalText = "tool call limit exceeded"
				return out, nil
			}

			if err := l.emitCall(out, ec); err != nil {
				return out, err
			}
			res, err := l.invoke(ctx, ec)
			if err != nil {
				return out, err
			}
			toolCallsUsed++
			if err := l.emitResult(out, &msgs, ec, res); err != nil {
				return out, err
			}
		}
	}

	out.HitStepLimit = true
	out.FinalText = "tool loop exceeded max steps"
	return out, nil
}

// record registers a pre-invocation failure (not-allowed, not-found) as a
// full call/result pair without consuming tool budget.
func (l *Loop) record(out *Result, msgs *[]provider.Message, c ExecutedCall, res tool.Result) error {
	if err := l.emitCall(out, c); err != nil {
		return err
	}
	return l.emitResult(out, msgs, c, res)
}

func (l *Loop) emitCall(out *Result, c ExecutedCall) error {
	out.Calls = append(out.Calls, c)
	if l.Events.ToolCall != nil {
		return l.Events.ToolCall(len(out.Calls)-1, c)
	}
	return nil
}

func (l *Loop) emitResult(out *Result, msgs *[]provider.Message, c ExecutedCall, res tool.Result) error {
	er := ExecutedResult{ToolCallID: c.ID, Name: c.Name, OK: res.OK(), Result: res}
	out.Results = append(out.Results, er)
	*msgs = append(*msgs, provider.Message{
		Role:    provider.RoleUser,
		Content: "TOOL_RESULT " + c.Name + " " + res.JSON(),
	})
	if l.Events.ToolResult != nil {
		return l.Events.ToolResult(er)
	}
	return nil
}

// generate runs one non-streaming completion on a helper goroutine, pumping
// Heartbeat while waiting. The model timeout yields ErrTimeout.
func (l *Loop) generate(ctx context.Context, msgs []provider.Message) (text, finishReason string, err error) {
	req := provider.ChatRequest{
		Model:       l.Model,
		Messages:    msgs,
		MaxTokens:   l.MaxTokens,
		Temperature: l.Temperature,
		TopP:        l.TopP,
		MinP:        l.MinP,
	}
	if l.ConstrainGrammar && len(l.Tools) > 0 {
		names := make([]string, 0, len(l.Tools))
		for _, t := range l.Tools {
			names = append(names, t.Name)
		}
		req.Grammar = gbnf.ToolCallGrammar(names)
	}

	gctx, cancel := context.WithTimeout(ctx, l.ModelTimeout)
	defer cancel()

	type outcome struct {
		resp *provider.ChatResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := l.Provider.ChatOnce(gctx, req)
		done <- outcome{resp, err}
	}()

	tick := time.NewTicker(heartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case o := <-done:
			if o.err != nil {
				if stderrors.Is(gctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return "", "", errors.Wrap(errors.ErrTimeout, "model wait timed out")
				}
				return "", "", o.err
			}
			finish := o.resp.FinishReason
			if finish == "" {
				finish = "stop"
			}
			return o.resp.Content, finish, nil
		case <-tick.C:
			if l.Events.Heartbeat != nil {
				if err := l.Events.Heartbeat(); err != nil {
					cancel()
					<-done
					return "", "", err
				}
			}
		}
	}
}

// invoke dispatches one repaired, validated call. The handler runs on a
// detached context so client cancellation never strands backend state; a
// tool timeout produces a synthetic failure result, not an error.
func (l *Loop) invoke(ctx context.Context, c ExecutedCall) (tool.Result, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.ToolTimeout)
	defer cancel()

	type outcome struct {
		res tool.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := l.Registry.Invoke(tctx, c.Name, c.ID, c.Arguments)
		done <- outcome{res, err}
	}()

	tick := time.NewTicker(heartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case o := <-done:
			if o.err != nil {
				return tool.Failure(toolErrorMessage(o.err)), nil
			}
			return o.res, nil
		case <-tctx.Done():
			return tool.Failure("tool timeout"), nil
		case <-tick.C:
			if l.Events.Heartbeat != nil {
				if err := l.Events.Heartbeat(); err != nil {
					// Client gone: wait the handler out, then stop.
					o := <-done
					if o.err != nil {
						return tool.Failure(toolErrorMessage(o.err)), err
					}
					return o.res, err
				}
			}
		}
	}
}

// toolErrorMessage strips the sentinel suffix Wrap appends so tool results
// carry the bare validation message.
func toolErrorMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{errors.ErrInvalidArguments, errors.ErrToolNotFound, errors.ErrToolNotAllowed} {
		msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	}
	return msg
}

func toolSpecJSON(tools []tool.Schema) string {
	list := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		list = append(list, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	b, err := json.Marshal(map[string]any{"tools": list})
	if err != nil {
		return `{"tools":[]}`
	}
	return string(b)
}

// ToolSystemPrompt builds the JSON-protocol instruction block for a tool
// set. The HTTP layer reuses it for single-shot client-managed requests.
func ToolSystemPrompt(tools []tool.Schema) string {
	return toolSystemPrompt(tools)
}

func toolSystemPrompt(tools []tool.Schema) string {
	var b strings.Builder
	b.WriteString("You are a tool-using assistant.\n")
	b.WriteString("If you need to call tools, respond ONLY with a single JSON object:\n")
	b.WriteString(`{"tool_calls":[{"id":"call_1","name":"tool_name","arguments":{...}}]}` + "\n")
	b.WriteString("If you can answer without tools, respond ONLY with:\n")
	b.WriteString(`{"final":"..."}` + "\n")
	b.WriteString("Never include any extra text outside the JSON.\n")
	b.WriteString("Available tools spec:\n")
	b.WriteString(toolSpecJSON(tools))
	return b.String()
}

// Chunks splits s into pieces of at most n bytes, in order. SSE writers use
// it for tool-call argument and text deltas.
func Chunks(s string, n int) []string {
	if s == "" || n <= 0 {
		return nil
	}
	out := make([]string, 0, len(s)/n+1)
	for off := 0; off < len(s); off += n {
		end := off + n
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[off:end])
	}
	return out
}
