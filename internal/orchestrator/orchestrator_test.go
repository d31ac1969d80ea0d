package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/tool"
)

func adderRegistry(t *testing.T) (*tool.Registry, tool.Schema) {
	t.Helper()
	schema := tool.Schema{
		Name:        "adder",
		Description: "adds two numbers",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	}
	reg := tool.NewRegistry()
	reg.Register(schema, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return tool.Success(map[string]any{"sum": a + b})
	})
	return reg, schema
}

// capturing wraps a scripted provider and records every request it sees.
type capturing struct {
	*provider.Scripted
	mu       sync.Mutex
	requests []provider.ChatRequest
	block    bool
}

func (c *capturing) ChatOnce(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	block := c.block
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.Scripted.ChatOnce(ctx, req)
}

func (c *capturing) lastRequest() provider.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func userMessages(texts ...string) []provider.Message {
	out := make([]provider.Message, 0, len(texts))
	for _, t := range texts {
		out = append(out, provider.Message{Role: provider.RoleUser, Content: t})
	}
	return out
}

func TestRunToolLoopExecutesCallThenFinal(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"id":"call_1","name":"adder","arguments":{"a":2,"b":3}}]}`,
		`{"final":"2 + 3 = 5"}`,
	)

	l := &Loop{Provider: p, Model: "fake-tool", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunToolLoop(context.Background(), userMessages("add 2 and 3"))
	require.NoError(t, err)

	assert.Equal(t, "2 + 3 = 5", out.FinalText)
	assert.Equal(t, 2, out.Steps)
	require.Len(t, out.Calls, 1)
	assert.Equal(t, "call_1", out.Calls[0].ID)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].OK)
	assert.Equal(t, float64(5), out.Results[0].Result["sum"])
	assert.Equal(t, "stop", out.FinishReason)
}

func TestRunToolLoopRejectsDisallowedTool(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"grep","arguments":{}}]}`,
		`{"final":"done"}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunToolLoop(context.Background(), userMessages("search"))
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].OK)
	assert.Equal(t, "tool not allowed", out.Results[0].Result["error"])
	assert.Equal(t, "done", out.FinalText)
}

func TestRunToolLoopUnknownToolKeepsLooping(t *testing.T) {
	reg := tool.NewRegistry()
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"nonexistent","arguments":{}}]}`,
		`{"final":"gave up"}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg}
	out, err := l.RunToolLoop(context.Background(), userMessages("hi"))
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.Equal(t, "tool not found", out.Results[0].Result["error"])
	assert.Equal(t, "gave up", out.FinalText)
}

func TestRunToolLoopStepLimit(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"adder","arguments":{"a":1,"b":1}}]}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}, MaxSteps: 2}
	out, err := l.RunToolLoop(context.Background(), userMessages("loop forever"))
	require.NoError(t, err)

	assert.True(t, out.HitStepLimit)
	assert.Equal(t, "tool loop exceeded max steps", out.FinalText)
	assert.Equal(t, 2, out.Steps)
}

func TestRunToolLoopToolCallLimit(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"adder","arguments":{"a":1,"b":1}},{"name":"adder","arguments":{"a":2,"b":2}}]}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}, MaxToolCalls: 1}
	out, err := l.RunToolLoop(context.Background(), userMessages("add twice"))
	require.NoError(t, err)

	assert.True(t, out.HitToolLimit)
	assert.Equal(t, "tool call limit exceeded", out.FinalText)
	require.Len(t, out.Results, 1)
}

func TestRunToolLoopPlainTextPassesThrough(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake", "The answer is 42.")

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunToolLoop(context.Background(), userMessages("answer"))
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", out.FinalText)
	assert.Empty(t, out.Calls)
}

func TestRunToolLoopAttachesGrammar(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := &capturing{Scripted: provider.NewScripted("fake", `{"final":"ok"}`)}

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}, ConstrainGrammar: true}
	_, err := l.RunToolLoop(context.Background(), userMessages("hi"))
	require.NoError(t, err)
	assert.Contains(t, p.lastRequest().Grammar, `function_name ::= ("\"adder\"") ws`)

	l = &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	_, err = l.RunToolLoop(context.Background(), userMessages("hi"))
	require.NoError(t, err)
	assert.Empty(t, p.lastRequest().Grammar)
}

func TestRunToolLoopPrependsToolSystemPrompt(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := &capturing{Scripted: provider.NewScripted("fake", `{"final":"ok"}`)}

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	_, err := l.RunToolLoop(context.Background(), userMessages("hi"))
	require.NoError(t, err)

	first := p.lastRequest().Messages[0]
	assert.Equal(t, provider.RoleSystem, first.Role)
	assert.True(t, len(first.Content) > 0)
	assert.Contains(t, first.Content, "You are a tool-using assistant.")
	assert.Contains(t, first.Content, `"adder"`)
}

func TestRunToolLoopModelTimeout(t *testing.T) {
	reg, _ := adderRegistry(t)
	p := &capturing{Scripted: provider.NewScripted("fake"), block: true}

	l := &Loop{Provider: p, Model: "m", Registry: reg, ModelTimeout: 20 * time.Millisecond}
	_, err := l.RunToolLoop(context.Background(), userMessages("hang"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.ErrTimeout))
}

func TestRunToolLoopToolTimeout(t *testing.T) {
	schema := tool.Schema{Name: "slow", Parameters: map[string]any{"type": "object"}}
	reg := tool.NewRegistry()
	reg.Register(schema, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return tool.Success(nil)
	})
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"slow","arguments":{}}]}`,
		`{"final":"moved on"}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}, ToolTimeout: 20 * time.Millisecond}
	out, err := l.RunToolLoop(context.Background(), userMessages("slow"))
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].OK)
	assert.Equal(t, "tool timeout", out.Results[0].Result["error"])
	assert.Equal(t, "moved on", out.FinalText)
}

func TestRunToolLoopEmitsEventsInOrder(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"name":"adder","arguments":{"a":1,"b":2}}]}`,
		`{"final":"3"}`,
	)

	var order []string
	l := &Loop{
		Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema},
		Events: Events{
			ToolCall: func(i int, c ExecutedCall) error {
				order = append(order, "call:"+c.Name)
				return nil
			},
			ToolResult: func(r ExecutedResult) error {
				order = append(order, "result:"+r.Name)
				return nil
			},
		},
	}
	_, err := l.RunToolLoop(context.Background(), userMessages("add"))
	require.NoError(t, err)
	assert.Equal(t, []string{"call:adder", "result:adder"}, order)
}

func TestRunPlannerExecutesPlanAndSummarizes(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"plan":[{"name":"adder","arguments":{"a":2,"b":3}}]}`,
		`{"final":"sum is 5"}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunPlanner(context.Background(), userMessages("add 2 and 3"))
	require.NoError(t, err)

	assert.True(t, out.UsedPlanner)
	assert.False(t, out.PlannerFailed)
	assert.Equal(t, 1, out.PlanSteps)
	assert.Equal(t, 2, out.Steps)
	require.Len(t, out.Calls, 1)
	assert.Equal(t, "plan_1", out.Calls[0].ID)
	assert.Equal(t, "sum is 5", out.FinalText)
}

func TestRunPlannerRewritesInvalidPlan(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := &capturing{Scripted: provider.NewScripted("fake",
		`{"plan":[{"name":"adder","arguments":{"a":"x","b":3}}]}`,
		`{"plan":[{"name":"adder","arguments":{"a":1,"b":3}}]}`,
		`{"final":"4"}`,
	)}

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunPlanner(context.Background(), userMessages("add"))
	require.NoError(t, err)

	assert.Equal(t, 1, out.PlanRewrites)
	assert.Equal(t, "4", out.FinalText)

	// The rejection is fed back as a targeted user message.
	second := p.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, provider.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Plan rejected: invalid arguments for adder: field type mismatch: a")
	assert.Contains(t, last.Content, "Return a corrected plan JSON only.")
}

func TestRunPlannerFailsAfterRewriteBudget(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"plan":[{"name":"adder","arguments":{"a":"x","b":3}}]}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}, MaxPlanRewrites: -1}
	out, err := l.RunPlanner(context.Background(), userMessages("add"))
	require.NoError(t, err)

	assert.True(t, out.PlannerFailed)
	assert.Equal(t, "invalid arguments for adder: field type mismatch: a", out.FinalText)
	assert.Equal(t, 1, out.Steps)
}

func TestRunPlannerFinalShortCircuits(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake", `{"final":"no tools needed"}`)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunPlanner(context.Background(), userMessages("hello"))
	require.NoError(t, err)

	assert.Equal(t, "no tools needed", out.FinalText)
	assert.Equal(t, 1, out.Steps)
	assert.Zero(t, out.PlanSteps)
	assert.Empty(t, out.Calls)
}

func TestTraceShape(t *testing.T) {
	reg, schema := adderRegistry(t)
	p := provider.NewScripted("fake",
		`{"tool_calls":[{"id":"call_1","name":"adder","arguments":{"a":1,"b":2}}]}`,
		`{"final":"3"}`,
	)

	l := &Loop{Provider: p, Model: "m", Registry: reg, Tools: []tool.Schema{schema}}
	out, err := l.RunToolLoop(context.Background(), userMessages("add"))
	require.NoError(t, err)

	trace := out.Trace()
	assert.Equal(t, 2, trace["steps"])
	assert.Equal(t, false, trace["hit_step_limit"])
	assert.Equal(t, false, trace["used_planner"])

	calls, ok := trace["tool_calls"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0]["id"])
	assert.Equal(t, "adder", calls[0]["name"])

	results, ok := trace["tool_results"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["ok"])
}

func TestChunks(t *testing.T) {
	assert.Nil(t, Chunks("", 48))
	assert.Equal(t, []string{"abc"}, Chunks("abc", 48))

	pieces := Chunks("0123456789", 4)
	assert.Equal(t, []string{"0123", "4567", "89"}, pieces)
}
