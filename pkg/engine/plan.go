package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/concierge/pkg/tool"
)

// maxPlanSteps caps how many steps a plan may carry. Plans are advisory;
// the executor still re-checks budget and tool availability per step.
const maxPlanSteps = 4

// buildPlan asks the planning model for a short tool plan and falls back to a
// topic heuristic when the model is unavailable or returns something unusable.
func (e *Engine) buildPlan(ctx context.Context, s *runState) []PlanStep {
	prompt := buildPlannerPrompt(s.query, s.topic, e.tools)

	reply, err := e.gateway.SendPrompt(ctx, "planning", prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("planner unavailable, using heuristic plan")
		return heuristicPlan(s.topic, s.query, e.tools)
	}

	steps, err := parsePlanResponse(reply.Text)
	if err != nil {
		e.logger.Warn().Err(err).Msg("planner response invalid, using heuristic plan")
		return heuristicPlan(s.topic, s.query, e.tools)
	}

	steps = filterPlanSteps(steps, e.tools)
	if len(steps) == 0 {
		e.logger.Warn().Msg("planner named no registered tools, using heuristic plan")
		return heuristicPlan(s.topic, s.query, e.tools)
	}
	return steps
}

func buildPlannerPrompt(query, topic string, reg *tool.Registry) string {
	var sb strings.Builder
	sb.WriteString("You are a planner for a workplace assistant. Choose which tools to call, in order.\n")
	sb.WriteString("Return ONLY a JSON array of at most 4 steps: [{\"tool\":\"...\",\"goal\":\"...\"}].\n\n")
	sb.WriteString("Available tools:\n")

	for _, t := range reg.Tools() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", t.ID(), t.Description()))
	}

	sb.WriteString("\nTopic: ")
	if topic == "" {
		sb.WriteString("unknown")
	} else {
		sb.WriteString(topic)
	}
	sb.WriteString("\nQuestion:\n")
	sb.WriteString(query)
	sb.WriteString("\n")

	return sb.String()
}

func parsePlanResponse(content string) ([]PlanStep, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var steps []PlanStep
	if err := json.Unmarshal([]byte(content), &steps); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan is empty")
	}
	for i, step := range steps {
		if strings.TrimSpace(step.Tool) == "" {
			return nil, fmt.Errorf("step %d missing tool", i+1)
		}
	}
	return steps, nil
}

// filterPlanSteps drops steps naming unregistered tools and clamps the plan
// to maxPlanSteps.
func filterPlanSteps(steps []PlanStep, reg *tool.Registry) []PlanStep {
	var kept []PlanStep
	for _, step := range steps {
		step.Tool = strings.TrimSpace(step.Tool)
		if _, ok := reg.Get(step.Tool); !ok {
			continue
		}
		kept = append(kept, step)
		if len(kept) == maxPlanSteps {
			break
		}
	}
	return kept
}

// heuristicPlan builds a fixed plan per topic. Steps naming tools absent from
// the registry are dropped, so a trimmed-down deployment still gets a plan it
// can execute.
func heuristicPlan(topic, query string, reg *tool.Registry) []PlanStep {
	var steps []PlanStep

	switch topic {
	case "leave":
		steps = []PlanStep{
			{Tool: tool.SearchToolID, Goal: "find the leave policy"},
			{Tool: tool.LeaveBalanceToolID, Goal: "look up the remaining balance"},
			{Tool: tool.PolicyToolID, Goal: "check carryover and notice rules"},
		}
	case "benefits":
		steps = []PlanStep{
			{Tool: tool.SearchToolID, Goal: "find the benefits documentation"},
			{Tool: tool.CoverageToolID, Goal: "look up the enrolled coverage"},
		}
	case "payroll":
		steps = []PlanStep{
			{Tool: tool.SearchToolID, Goal: "find the payroll schedule"},
			{Tool: tool.PolicyToolID, Goal: "check reimbursement rules"},
		}
	case "it_support":
		steps = []PlanStep{
			{Tool: tool.SearchToolID, Goal: "find self-service instructions"},
		}
		if mentionsITIssue(query) {
			steps = append(steps, PlanStep{Tool: tool.TicketToolID, Goal: "file a support ticket"})
		}
	default:
		steps = []PlanStep{
			{Tool: tool.SearchToolID, Goal: "search the knowledge base"},
		}
	}

	return filterPlanSteps(steps, reg)
}

func mentionsITIssue(query string) bool {
	lower := strings.ToLower(query)
	for _, marker := range []string{"broken", "not working", "doesn't work", "can't", "cannot", "locked out", "error", "crash"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
