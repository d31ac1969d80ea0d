package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/gbnf"
	"github.com/harunnryd/sekisho/internal/logger"
	"github.com/harunnryd/sekisho/internal/metrics"
	"github.com/harunnryd/sekisho/internal/orchestrator"
	"github.com/harunnryd/sekisho/internal/parser"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/session"
)

// chatTurn carries one request's resolved state across the dispatch modes.
type chatTurn struct {
	req      *chatRequest
	resolved *provider.ResolvedModel

	sessionID string
	turnID    string

	// reqMessages is what the client sent; messages is that plus any
	// server-side history prepended.
	reqMessages []provider.Message
	messages    []provider.Message
	useHistory  bool

	temperature *float32
	topP        *float32
}

func (rt *Router) modelTimeout() time.Duration {
	if rt.ModelTimeout > 0 {
		return rt.ModelTimeout
	}
	return orchestrator.DefaultModelTimeout
}

func (rt *Router) toolTimeout() time.Duration {
	if rt.ToolTimeout > 0 {
		return rt.ToolTimeout
	}
	return orchestrator.DefaultToolTimeout
}

// handleChat dispatches /v1/chat/completions into one of three modes: a
// plain completion, a client-managed single shot that may return tool_calls,
// or the server-managed tool loop.
func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, errors.InvalidRequest("invalid json body"))
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, errors.InvalidRequest("missing field: model"))
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, errors.InvalidRequest("missing field: messages"))
		return
	}

	resolved := rt.Providers.Resolve(req.Model)
	if resolved == nil {
		writeOpenAIError(w, errors.Wrap(errors.ErrUnknownProvider, "unknown provider in model"))
		return
	}
	rt.activate(resolved.ProviderName)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("x-session-id")
	}
	sessionID = session.EnsureSessionID(sessionID)
	turnID := session.NewID("turn")
	w.Header().Set("x-session-id", sessionID)
	w.Header().Set("x-turn-id", turnID)

	ctx := provider.WithAuthHeaders(r.Context(), authHeaders(r))
	ctx = logger.WithSessionID(ctx, sessionID)

	turn := &chatTurn{
		req:         &req,
		resolved:    resolved,
		sessionID:   sessionID,
		turnID:      turnID,
		reqMessages: req.providerMessages(),
		useHistory:  req.serverHistoryDefault(),
		temperature: req.Temperature,
		topP:        req.TopP,
	}
	turn.messages = turn.reqMessages
	if turn.useHistory && rt.Sessions != nil {
		if s, err := rt.Sessions.GetOrCreate(ctx, sessionID); err != nil {
			slog.Warn("session load failed", "session_id", sessionID, "error", err)
		} else if len(s.History) > 0 {
			merged := make([]provider.Message, 0, len(s.History)+len(turn.reqMessages))
			merged = append(merged, s.History...)
			merged = append(merged, turn.reqMessages...)
			turn.messages = merged
		}
	}

	tools := req.requestedTools()
	toolsInPlay := len(tools) > 0 && !req.toolChoiceNone()
	serverKnobs := req.MaxSteps != nil || req.MaxToolCalls != nil || len(req.Planner) > 0 || req.Trace

	// GLM chat templates misbehave on greedy sampling when tool prompts are
	// attached; pin the known-good sampling point.
	if toolsInPlay && isGLMModel(resolved.Model) {
		temp, topP := float32(0.7), float32(1.0)
		turn.temperature, turn.topP = &temp, &topP
	}

	switch {
	case !toolsInPlay || (!hasFullSchemas(tools) && !serverKnobs):
		rt.chatDirect(ctx, w, turn)
	case hasFullSchemas(tools):
		rt.chatClientManaged(ctx, w, turn, tools)
	default:
		rt.chatServerManaged(ctx, w, turn, tools)
	}
}

// timeoutError converts a hit model deadline into ErrTimeout; client
// cancellation passes through untouched.
func timeoutError(tctx, ctx context.Context, err error) error {
	if stderrors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Wrap(errors.ErrTimeout, "model wait timed out")
	}
	return err
}

// chatDirect is a passthrough completion with no tool protocol attached.
func (rt *Router) chatDirect(ctx context.Context, w http.ResponseWriter, turn *chatTurn) {
	preq := provider.ChatRequest{
		Model:       turn.resolved.Model,
		Messages:    turn.messages,
		MaxTokens:   turn.req.MaxTokens,
		Temperature: turn.temperature,
		TopP:        turn.topP,
		MinP:        turn.req.MinP,
	}
	if turn.req.Stream {
		rt.streamDirect(ctx, w, turn, preq)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, rt.modelTimeout())
	defer cancel()
	resp, err := turn.resolved.Provider.ChatOnce(cctx, preq)
	if err != nil {
		writeOpenAIError(w, timeoutError(cctx, ctx, err))
		return
	}
	if resp.Content == "" {
		writeOpenAIError(w, errors.Upstream("empty completion"))
		return
	}
	rt.persistTurn(ctx, turn, resp.Content, nil, nil)
	writeJSON(w, http.StatusOK, chatEnvelope(turn, resp.Content, finishOr(resp.FinishReason), nil))
}

func (rt *Router) streamDirect(ctx context.Context, w http.ResponseWriter, turn *chatTurn, preq provider.ChatRequest) {
	s, err := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
	if err != nil {
		writeOpenAIError(w, errors.Internal(err.Error()))
		return
	}
	stop := s.startPacer(ctx)
	defer stop()

	if err := s.role(); err != nil {
		return
	}
	var full []byte
	finish := "stop"
	cctx, cancel := context.WithTimeout(ctx, rt.modelTimeout())
	defer cancel()
	preq.Stream = true
	err = turn.resolved.Provider.ChatStream(cctx, preq,
		func(delta string) error {
			full = append(full, delta...)
			return s.text(delta)
		},
		func(finishReason string) {
			finish = finishOr(finishReason)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.error(timeoutError(cctx, ctx, err))
		return
	}
	if err := s.finish(finish); err != nil {
		return
	}
	rt.persistTurn(ctx, turn, string(full), nil, nil)
}

// chatClientManaged runs exactly one constrained generation against the
// client-supplied schemas. Parsed tool calls go back to the client as an
// OpenAI tool_calls message; execution is the client's problem.
func (rt *Router) chatClientManaged(ctx context.Context, w http.ResponseWriter, turn *chatTurn, tools []requestedTool) {
	schemas := clientSchemas(tools)
	msgs := make([]provider.Message, 0, len(turn.messages)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: orchestrator.ToolSystemPrompt(schemas)})
	msgs = append(msgs, turn.messages...)

	preq := provider.ChatRequest{
		Model:       turn.resolved.Model,
		Messages:    msgs,
		MaxTokens:   turn.req.MaxTokens,
		Temperature: turn.temperature,
		TopP:        turn.topP,
		MinP:        turn.req.MinP,
	}
	if turn.resolved.ProviderName == "llama_cpp" {
		names := make([]string, 0, len(schemas))
		for _, t := range schemas {
			names = append(names, t.Name)
		}
		preq.Grammar = gbnf.ToolCallGrammar(names)
	}

	cctx, cancel := context.WithTimeout(ctx, rt.modelTimeout())
	defer cancel()
	resp, err := turn.resolved.Provider.ChatOnce(cctx, preq)
	if err != nil {
		if !turn.req.Stream {
			writeOpenAIError(w, timeoutError(cctx, ctx, err))
			return
		}
		s, serr := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
		if serr == nil {
			s.error(timeoutError(cctx, ctx, err))
		}
		return
	}

	calls := parser.Parse(resp.Content)
	if len(calls) > 0 {
		rt.respondToolCalls(w, turn, calls)
		return
	}

	final := resp.Content
	if text, ok := parser.Final(resp.Content); ok {
		final = text
	}
	if final == "" {
		writeOpenAIError(w, errors.Upstream("empty completion"))
		return
	}
	rt.persistTurn(ctx, turn, final, nil, nil)
	if turn.req.Stream {
		rt.streamFinal(w, turn, final, finishOr(resp.FinishReason), nil)
		return
	}
	writeJSON(w, http.StatusOK, chatEnvelope(turn, final, finishOr(resp.FinishReason), nil))
}

func (rt *Router) respondToolCalls(w http.ResponseWriter, turn *chatTurn, calls []parser.ToolCall) {
	if turn.req.Stream {
		s, err := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
		if err != nil {
			writeOpenAIError(w, errors.Internal(err.Error()))
			return
		}
		if err := s.role(); err != nil {
			return
		}
		for i, c := range calls {
			ec := orchestrator.ExecutedCall{ID: callID(c), Name: c.Name, Arguments: c.Arguments}
			if err := s.toolCall(i, ec); err != nil {
				return
			}
		}
		_ = s.finish("tool_calls")
		return
	}
	wire := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		wire = append(wire, map[string]any{
			"id":   callID(c),
			"type": "function",
			"function": map[string]any{
				"name":      c.Name,
				"arguments": string(c.Arguments),
			},
		})
	}
	writeJSON(w, http.StatusOK, chatEnvelope(turn, "", "tool_calls", wire))
}

func callID(c parser.ToolCall) string {
	if c.ID != "" {
		return c.ID
	}
	return parser.NewCallID()
}

// chatServerManaged runs the tool loop (or the planner) against the runtime
// registry, filtered to the requested names.
func (rt *Router) chatServerManaged(ctx context.Context, w http.ResponseWriter, turn *chatTurn, tools []requestedTool) {
	popts := turn.req.plannerOptions()
	loop := &orchestrator.Loop{
		Provider:         turn.resolved.Provider,
		Model:            turn.resolved.Model,
		Registry:         rt.Tools,
		Tools:            registrySchemas(rt.Tools, tools),
		MaxSteps:         derefInt(turn.req.MaxSteps),
		MaxToolCalls:     derefInt(turn.req.MaxToolCalls),
		MaxPlanSteps:     popts.MaxPlanSteps,
		MaxPlanRewrites:  popts.MaxRewrites,
		MaxTokens:        turn.req.MaxTokens,
		Temperature:      turn.temperature,
		TopP:             turn.topP,
		MinP:             turn.req.MinP,
		ConstrainGrammar: turn.resolved.ProviderName == "llama_cpp",
		ModelTimeout:     rt.modelTimeout(),
		ToolTimeout:      rt.toolTimeout(),
	}

	if turn.req.Stream && !turn.req.Trace {
		rt.streamLoop(ctx, w, turn, loop, popts.Enabled)
		return
	}

	res, err := rt.runOrchestrated(ctx, loop, turn.messages, popts.Enabled)
	recordToolMetrics(res)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	if turn.req.Trace {
		if raw, merr := json.Marshal(res.Trace()); merr == nil {
			w.Header().Set("x-runtime-trace", string(raw))
		}
	}
	if res.FinalText == "" {
		writeOpenAIError(w, errors.Upstream("empty completion"))
		return
	}
	rt.persistTurn(ctx, turn, res.FinalText, res.Calls, res.Results)
	if turn.req.Stream {
		// Trace wants the full result in a header, so the loop already ran;
		// replay it as a stream.
		s, serr := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
		if serr != nil {
			return
		}
		_ = s.replay(res, res.FinishReason)
		return
	}
	writeJSON(w, http.StatusOK, chatEnvelope(turn, res.FinalText, res.FinishReason, nil))
}

// streamLoop runs the loop cooperatively: tool calls, results, and
// keepalives flow while the loop executes.
func (rt *Router) streamLoop(ctx context.Context, w http.ResponseWriter, turn *chatTurn, loop *orchestrator.Loop, planner bool) {
	s, err := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
	if err != nil {
		writeOpenAIError(w, errors.Internal(err.Error()))
		return
	}
	if err := s.role(); err != nil {
		return
	}
	loop.Events = orchestrator.Events{
		ToolCall:   s.toolCall,
		ToolResult: s.toolResult,
		Heartbeat:  s.heartbeat,
	}

	res, err := rt.runOrchestrated(ctx, loop, turn.messages, planner)
	recordToolMetrics(res)
	if err != nil {
		if ctx.Err() != nil {
			// Client gone: nothing to write, nothing to persist.
			return
		}
		s.error(err)
		return
	}
	if err := s.finalText(res.FinalText); err != nil {
		return
	}
	if err := s.finish(res.FinishReason); err != nil {
		return
	}
	rt.persistTurn(ctx, turn, res.FinalText, res.Calls, res.Results)
}

// runOrchestrated picks planner or direct loop. A failed planning phase
// falls back to the direct loop, keeping the planner flags for the trace.
func (rt *Router) runOrchestrated(ctx context.Context, loop *orchestrator.Loop, msgs []provider.Message, planner bool) (*orchestrator.Result, error) {
	if !planner {
		return loop.RunToolLoop(ctx, msgs)
	}
	res, err := loop.RunPlanner(ctx, msgs)
	if err != nil || !res.PlannerFailed {
		return res, err
	}
	direct, derr := loop.RunToolLoop(ctx, msgs)
	if direct != nil {
		direct.UsedPlanner = true
		direct.PlannerFailed = true
		direct.PlanRewrites = res.PlanRewrites
	}
	return direct, derr
}

func recordToolMetrics(res *orchestrator.Result) {
	if res == nil {
		return
	}
	for _, r := range res.Results {
		metrics.ObserveToolResult(r.Name, r.OK)
	}
}

// streamFinal replays an already-complete answer as a stream.
func (rt *Router) streamFinal(w http.ResponseWriter, turn *chatTurn, text, finishReason string, _ []map[string]any) {
	s, err := newSSEStream(w, session.NewID("chatcmpl"), turn.req.Model, rt.progressInterval())
	if err != nil {
		writeOpenAIError(w, errors.Internal(err.Error()))
		return
	}
	if err := s.role(); err != nil {
		return
	}
	if err := s.finalText(text); err != nil {
		return
	}
	_ = s.finish(finishReason)
}

// persistTurn records the turn and, when the server owns history, appends
// the exchange (tool call transcript included) to it. Runs on a detached
// context: a client that hung up already got its answer.
func (rt *Router) persistTurn(ctx context.Context, turn *chatTurn, finalText string, calls []orchestrator.ExecutedCall, results []orchestrator.ExecutedResult) {
	if rt.Sessions == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	out := finalText
	record := session.TurnRecord{TurnID: turn.turnID, InputMessages: turn.reqMessages, OutputText: &out}
	if err := rt.Sessions.AppendTurn(pctx, turn.sessionID, record); err != nil {
		slog.Warn("turn persist failed", "session_id", turn.sessionID, "error", err)
		return
	}
	if !turn.useHistory {
		return
	}

	resultByCall := make(map[string]resultJSON, len(results))
	for _, r := range results {
		raw, err := json.Marshal(r.Result)
		if err != nil {
			raw = []byte(`{}`)
		}
		resultByCall[r.ToolCallID] = resultJSON{name: r.Name, raw: string(raw)}
	}

	hist := make([]provider.Message, 0, len(turn.reqMessages)+2*len(calls)+1)
	hist = append(hist, turn.reqMessages...)
	for _, c := range calls {
		hist = append(hist, provider.Message{
			Role:    provider.RoleAssistant,
			Content: "TOOL_CALL " + c.Name + " " + string(c.Arguments),
		})
		if r, ok := resultByCall[c.ID]; ok {
			hist = append(hist, provider.Message{
				Role:    provider.RoleUser,
				Content: "TOOL_RESULT " + r.name + " " + r.raw,
			})
		}
	}
	hist = append(hist, provider.Message{Role: provider.RoleAssistant, Content: finalText})
	if err := rt.Sessions.AppendToHistory(pctx, turn.sessionID, hist...); err != nil {
		slog.Warn("history persist failed", "session_id", turn.sessionID, "error", err)
	}
}

type resultJSON struct {
	name string
	raw  string
}

func chatEnvelope(turn *chatTurn, content, finishReason string, toolCalls []map[string]any) map[string]any {
	message := map[string]any{"role": "assistant", "content": content}
	if toolCalls != nil {
		message["content"] = nil
		message["tool_calls"] = toolCalls
	}
	return map[string]any{
		"id":      session.NewID("chatcmpl"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   turn.req.Model,
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": finishReason},
		},
		"usage": map[string]any{
			"prompt_tokens":     nil,
			"completion_tokens": nil,
			"total_tokens":      nil,
		},
	}
}

func finishOr(reason string) string {
	if reason == "" {
		return "stop"
	}
	return reason
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
