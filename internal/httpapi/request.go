package httpapi

import (
	"encoding/json"
	"strings"

	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/tool"
)

// wireMessage tolerates both string content and the array-of-parts form;
// parts are flattened to one string before anything downstream sees them.
type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m wireMessage) flatten() provider.Message {
	return provider.Message{Role: m.Role, Content: flattenContent(m.Content)}
}

func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if text, ok := part["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

type plannerOptions struct {
	Enabled      bool
	MaxPlanSteps int
	MaxRewrites  int
}

// chatRequest is the /v1/chat/completions body. Orchestration knobs are
// pointers so "absent" and "zero" stay distinguishable.
type chatRequest struct {
	Model            string            `json:"model"`
	Messages         []wireMessage     `json:"messages"`
	Stream           bool              `json:"stream"`
	SessionID        string            `json:"session_id"`
	UseServerHistory *bool             `json:"use_server_history"`
	MaxSteps         *int              `json:"max_steps"`
	MaxToolCalls     *int              `json:"max_tool_calls"`
	Planner          json.RawMessage   `json:"planner"`
	Trace            bool              `json:"trace"`
	Tools            []json.RawMessage `json:"tools"`
	ToolChoice       json.RawMessage   `json:"tool_choice"`
	Temperature      *float32          `json:"temperature"`
	TopP             *float32          `json:"top_p"`
	MinP             *float32          `json:"min_p"`
	MaxTokens        *int              `json:"max_tokens"`
}

func (r *chatRequest) providerMessages() []provider.Message {
	out := make([]provider.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.flatten())
	}
	return out
}

// serverHistoryDefault is true iff the incoming messages carry no assistant
// or tool turns, i.e. the client is not managing its own transcript.
func (r *chatRequest) serverHistoryDefault() bool {
	if r.UseServerHistory != nil {
		return *r.UseServerHistory
	}
	for _, m := range r.Messages {
		if m.Role == provider.RoleAssistant || m.Role == provider.RoleTool {
			return false
		}
	}
	return true
}

func (r *chatRequest) plannerOptions() plannerOptions {
	opts := plannerOptions{}
	if len(r.Planner) == 0 {
		return opts
	}
	var flag bool
	if err := json.Unmarshal(r.Planner, &flag); err == nil {
		opts.Enabled = flag
		return opts
	}
	var obj struct {
		Enabled      *bool `json:"enabled"`
		MaxPlanSteps int   `json:"max_plan_steps"`
		MaxRewrites  int   `json:"max_rewrites"`
	}
	if err := json.Unmarshal(r.Planner, &obj); err != nil {
		return opts
	}
	if obj.Enabled != nil {
		opts.Enabled = *obj.Enabled
	}
	opts.MaxPlanSteps = obj.MaxPlanSteps
	opts.MaxRewrites = obj.MaxRewrites
	return opts
}

func (r *chatRequest) toolChoiceNone() bool {
	if len(r.ToolChoice) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(r.ToolChoice, &s); err == nil {
		return s == "none"
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(r.ToolChoice, &obj); err == nil {
		return obj.Type == "none"
	}
	return false
}

// requestedTool is one entry of the request's tools array. Parameters is nil
// for name-only stubs.
type requestedTool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func (r *chatRequest) requestedTools() []requestedTool {
	var out []requestedTool
	for _, raw := range r.Tools {
		var outer struct {
			Type     string `json:"type"`
			Name     string `json:"name"`
			Function *struct {
				Name        string         `json:"name"`
				Description string         `json:"description"`
				Parameters  map[string]any `json:"parameters"`
			} `json:"function"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		}
		if err := json.Unmarshal(raw, &outer); err != nil {
			continue
		}
		t := requestedTool{Name: outer.Name, Description: outer.Description, Parameters: outer.Parameters}
		if outer.Function != nil {
			t = requestedTool{
				Name:        outer.Function.Name,
				Description: outer.Function.Description,
				Parameters:  outer.Function.Parameters,
			}
		}
		if t.Name == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// hasFullSchemas reports whether any requested tool carries a real
// parameters object, which flips the request into client-managed mode.
func hasFullSchemas(tools []requestedTool) bool {
	for _, t := range tools {
		if len(t.Parameters) > 0 {
			return true
		}
	}
	return false
}

func clientSchemas(tools []requestedTool) []tool.Schema {
	out := make([]tool.Schema, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out = append(out, tool.Schema{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return out
}

// registrySchemas resolves name stubs against the runtime registry, keeping
// only tools that actually exist.
func registrySchemas(reg *tool.Registry, tools []requestedTool) []tool.Schema {
	out := make([]tool.Schema, 0, len(tools))
	for _, t := range tools {
		if schema, _, ok := reg.Get(t.Name); ok {
			out = append(out, schema)
		}
	}
	return out
}

func isGLMModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "glm")
}
