package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/sekisho/internal/parser"
	"github.com/harunnryd/sekisho/internal/provider"
	"github.com/harunnryd/sekisho/internal/tool"
)

// RunPlanner is the two-phase variant: phase one asks the model for a full
// plan and validates it (with bounded rewrite retries), phase two executes
// the plan sequentially and summarizes the results. PlannerFailed on the
// result signals the caller to fall back to the direct loop.
func (l *Loop) RunPlanner(ctx context.Context, messages []provider.Message) (*Result, error) {
	l.normalize()
	out := &Result{FinishReason: "stop", UsedPlanner: true}
	allowed := l.allowedNames()

	planMsgs := make([]provider.Message, 0, len(messages)+2)
	planMsgs = append(planMsgs, provider.Message{Role: provider.RoleSystem, Content: plannerSystemPrompt(l.Tools, l.MaxPlanSteps)})
	planMsgs = append(planMsgs, messages...)

	var plan []PlanStep
	havePlan := false
	planText := ""
	rewrites := 0
	for attempt := 0; attempt <= l.MaxPlanRewrites; attempt++ {
		text, _, err := l.generate(ctx, planMsgs)
		if err != nil {
			out.PlannerFailed = true
			return out, err
		}
		planText = text

		if final, ok := parser.Final(text); ok {
			out.FinalText = final
			out.Steps = 1
			return out, nil
		}

		steps, ok := parsePlan(text)
		if !ok {
			if attempt == l.MaxPlanRewrites {
				out.PlannerFailed = true
				out.FinalText = planText
				out.Steps = 1
				return out, nil
			}
			planMsgs = append(planMsgs, provider.Message{
				Role:    provider.RoleUser,
				Content: "Plan invalid JSON. Return a corrected plan JSON only.",
			})
			continue
		}

		why := l.rejectPlan(steps, allowed)
		if why == "" {
			plan = steps
			havePlan = true
			break
		}
		if attempt == l.MaxPlanRewrites {
			out.PlannerFailed = true
			out.FinalText = why
			out.Steps = 1
			return out, nil
		}
		planMsgs = append(planMsgs, provider.Message{
			Role:    provider.RoleUser,
			Content: "Plan rejected: " + why + ". Return a corrected plan JSON only.",
		})
		rewrites = attempt + 1
	}

	if !havePlan {
		out.PlannerFailed = true
		out.FinalText = planText
		out.Steps = 1
		return out, nil
	}

	if len(plan) > l.MaxPlanSteps {
		plan = plan[:l.MaxPlanSteps]
	}
	out.PlanSteps = len(plan)
	out.PlanRewrites = rewrites
	out.Plan = plan

	execMsgs := make([]provider.Message, 0, len(messages)+len(plan)+4)
	execMsgs = append(execMsgs, messages...)

	toolCallsUsed := 0
	for i, step := range plan {
		if toolCallsUsed >= l.MaxToolCalls {
			out.HitToolLimit = true
			out.FinalText = "tool call limit exceeded"
			out.Steps = i + 1
			return out, nil
		}

		rawArgs, err := json.Marshal(step.Arguments)
		if err != nil {
			rawArgs = []byte("{}")
		}
		ec := ExecutedCall{ID: fmt.Sprintf("plan_%d", i+1), Name: step.Name, Arguments: rawArgs}

		switch {
		case len(allowed) > 0 && !allowed[step.Name]:
			if err := l.record(out, &execMsgs, ec, tool.Failure("tool not allowed")); err != nil {
				return out, err
			}
			toolCallsUsed++
		case !l.Registry.Has(step.Name):
			if err := l.record(out, &execMsgs, ec, tool.Failure("tool not found")); err != nil {
				return out, err
			}
			toolCallsUsed++
		default:
			if err := l.emitCall(out, ec); err != nil {
				return out, err
			}
			res, err := l.invoke(ctx, ec)
			if err != nil {
				return out, err
			}
			toolCallsUsed++
			if err := l.emitResult(out, &execMsgs, ec, res); err != nil {
				return out, err
			}
		}
	}

	finalMsgs := make([]provider.Message, 0, len(execMsgs)+2)
	finalMsgs = append(finalMsgs, provider.Message{Role: provider.RoleSystem, Content: summarizerSystemPrompt()})
	finalMsgs = append(finalMsgs, execMsgs...)

	text, finish, err := l.generate(ctx, finalMsgs)
	if err != nil {
		return out, err
	}
	out.Steps = 2
	out.FinishReason = finish
	if final, ok := parser.Final(text); ok {
		out.FinalText = final
		return out, nil
	}
	out.FinalText = text
	return out, nil
}

// rejectPlan returns "" for a valid plan or the reason the whole plan must
// be rewritten. Validation is shallow: allow-set, registry membership, and
// top-level schema types.
func (l *Loop) rejectPlan(steps []PlanStep, allowed map[string]bool) string {
	for _, s := range steps {
		if len(allowed) > 0 && !allowed[s.Name] {
			return "tool not allowed: " + s.Name
		}
		schema, _, ok := l.Registry.Get(s.Name)
		if !ok {
			return "tool not found: " + s.Name
		}
		if err := tool.ValidateLoose(schema, s.Arguments); err != nil {
			return "invalid arguments for " + s.Name + ": " + toolErrorMessage(err)
		}
	}
	return ""
}

// parsePlan decodes {"plan":[{name,arguments},…]}. Steps missing a name are
// skipped; missing arguments become an empty object.
func parsePlan(text string) ([]PlanStep, bool) {
	v, ok := parser.LooseJSON(text)
	if !ok {
		return nil, false
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := root["plan"].([]any)
	if !ok {
		return nil, false
	}

	out := make([]PlanStep, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		if name == "" {
			continue
		}
		args, ok := obj["arguments"].(map[string]any)
		if !ok {
			args = map[string]any{}
		}
		out = append(out, PlanStep{Name: name, Arguments: args})
	}
	return out, true
}

func plannerSystemPrompt(tools []tool.Schema, maxPlanSteps int) string {
	var b strings.Builder
	b.WriteString("You are a planner.\n")
	b.WriteString("Return ONLY a single JSON object and no extra text.\n")
	b.WriteString("If tools are needed, output:\n")
	b.WriteString(`{"plan":[{"name":"tool_name","arguments":{...}}]}` + "\n")
	fmt.Fprintf(&b, "The plan length MUST be <= %d.\n", maxPlanSteps)
	b.WriteString("If no tools are needed, output:\n")
	b.WriteString(`{"final":"..."}` + "\n")
	b.WriteString("Available tools spec:\n")
	b.WriteString(toolSpecJSON(tools))
	return b.String()
}

func summarizerSystemPrompt() string {
	return "You are a tool result summarizer.\n" +
		"You have been given TOOL_RESULT messages.\n" +
		"Return ONLY a single JSON object and no extra text:\n" +
		`{"final":"..."}` + "\n"
}
