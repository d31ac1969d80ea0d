package orchestrator

import "encoding/json"

// ExecutedCall is one tool call the loop actually dispatched, in dispatch
// order. Arguments is the call's JSON argument object as text.
type ExecutedCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ExecutedResult pairs an executed call with its handler outcome.
type ExecutedResult struct {
	ToolCallID string
	Name       string
	OK         bool
	Result     map[string]any
}

// PlanStep is one validated planner step.
type PlanStep struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of one orchestrated turn, direct loop or planner.
type Result struct {
	FinalText    string
	FinishReason string

	Calls   []ExecutedCall
	Results []ExecutedResult

	Steps        int
	HitStepLimit bool
	HitToolLimit bool

	UsedPlanner   bool
	PlannerFailed bool
	PlanSteps     int
	PlanRewrites  int
	Plan          []PlanStep
}

// Trace renders the x-runtime-trace payload.
func (r *Result) Trace() map[string]any {
	calls := make([]map[string]any, 0, len(r.Calls))
	for _, c := range r.Calls {
		calls = append(calls, map[string]any{
			"id":        c.ID,
			"name":      c.Name,
			"arguments": string(c.Arguments),
		})
	}
	results := make([]map[string]any, 0, len(r.Results))
	for _, tr := range r.Results {
		results = append(results, map[string]any{
			"tool_call_id": tr.ToolCallID,
			"name":         tr.Name,
			"ok":           tr.OK,
			"result":       tr.Result,
		})
	}
	plan := make([]PlanStep, 0, len(r.Plan))
	plan = append(plan, r.Plan...)

	return map[string]any{
		"steps":          r.Steps,
		"hit_step_limit": r.HitStepLimit,
		"hit_tool_limit": r.HitToolLimit,
		"used_planner":   r.UsedPlanner,
		"planner_failed": r.PlannerFailed,
		"plan_steps":     r.PlanSteps,
		"plan_rewrites":  r.PlanRewrites,
		"plan":           plan,
		"tool_calls":     calls,
		"tool_results":   results,
	}
}
