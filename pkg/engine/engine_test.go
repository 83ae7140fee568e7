package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/gateway"
	"github.com/zen-systems/concierge/pkg/tool"
)

type scriptedSender struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	prompts map[string][]string
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{
		replies: make(map[string]string),
		errs:    make(map[string]error),
		prompts: make(map[string][]string),
	}
}

func (s *scriptedSender) SendPrompt(ctx context.Context, category, prompt string, opts ...gateway.CallOption) (*gateway.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[category] = append(s.prompts[category], prompt)
	if err, ok := s.errs[category]; ok {
		return nil, err
	}
	text, ok := s.replies[category]
	if !ok {
		return nil, fmt.Errorf("no scripted reply for category %s", category)
	}
	return &gateway.Reply{Text: text, Backend: "scripted", Model: "scripted-1"}, nil
}

func (s *scriptedSender) promptsFor(category string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[category]...)
}

type stubTool struct {
	id     string
	invoke func(ctx context.Context, in tool.Input) *tool.Result
}

func (s stubTool) ID() string          { return s.id }
func (s stubTool) Description() string { return "stub " + s.id }

func (s stubTool) Invoke(ctx context.Context, in tool.Input) *tool.Result {
	return s.invoke(ctx, in)
}

func okTool(id string, sources ...string) stubTool {
	return stubTool{id: id, invoke: func(context.Context, tool.Input) *tool.Result {
		return tool.Success(id, "content from "+id, sources...)
	}}
}

func failTool(id, reason string) stubTool {
	return stubTool{id: id, invoke: func(context.Context, tool.Input) *tool.Result {
		return tool.Failure(id, reason)
	}}
}

func historyTools(result *Result) []string {
	ids := make([]string, len(result.History))
	for i, rec := range result.History {
		ids[i] = rec.ToolID
	}
	return ids
}

func TestRunExecutesPlanAndSynthesizes(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search","goal":"find benefits docs"},{"tool":"records.coverage","goal":"look up enrollment"}]`
	sender.replies["synthesis"] = "Your standard plan covers medical care with a $500 deductible and includes dental for two dependents."

	reg := tool.NewRegistry(
		okTool("kb.search", "kb:benefits/ben-ins-001"),
		okTool("records.coverage", "kb:benefits/ben-ins-001", "records:coverage/emp-1001"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{
		Query: "what does my insurance cover?",
		User:  tool.User{ID: "emp-1001", Role: "employee"},
		Topic: "benefits",
	})

	require.NotNil(t, result)
	assert.Equal(t, sender.replies["synthesis"], result.Answer)
	assert.Equal(t, []string{"kb.search", "records.coverage"}, result.ToolsUsed)
	assert.Equal(t, 2, result.Iterations)
	assert.False(t, result.BudgetExhausted)

	// Sources are the union of successful calls, duplicates removed.
	assert.Equal(t, []string{"kb:benefits/ben-ins-001", "records:coverage/emp-1001"}, result.Sources)

	require.NotEmpty(t, result.Trace)
	assert.Equal(t, "planning", result.Trace[0].Phase)
	assert.Equal(t, "plan: kb.search, records.coverage", result.Trace[0].Note)

	planPrompts := sender.promptsFor("planning")
	require.Len(t, planPrompts, 1)
	assert.Contains(t, planPrompts[0], "what does my insurance cover?")
	assert.Contains(t, planPrompts[0], "- kb.search: stub kb.search")

	synthPrompts := sender.promptsFor("synthesis")
	require.Len(t, synthPrompts, 1)
	assert.Contains(t, synthPrompts[0], "content from kb.search")
	assert.Contains(t, synthPrompts[0], "content from records.coverage")
}

func TestPlannerFailureFallsBackToHeuristicPlan(t *testing.T) {
	sender := newScriptedSender()
	sender.errs["planning"] = errors.New("planner down")
	sender.replies["synthesis"] = "You have 12.5 annual leave days remaining, and up to 5 days carry over each year."

	reg := tool.NewRegistry(
		okTool("kb.search", "kb:policies/pol-leave-001"),
		okTool("records.leave_balance", "records:leave/emp-1001"),
		okTool("policy.lookup", "policy:leave-carryover"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{
		Query: "how many leave days do I have left?",
		User:  tool.User{ID: "emp-1001"},
		Topic: "leave",
	})

	require.NotNil(t, result)
	assert.Equal(t, "plan: kb.search, records.leave_balance, policy.lookup", result.Trace[0].Note)
	assert.NotEmpty(t, result.Answer)
}

func TestPlanClampedToFourSteps(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[
		{"tool":"kb.search"},{"tool":"policy.lookup"},{"tool":"records.leave_balance"},
		{"tool":"records.coverage"},{"tool":"ticket.create"},{"tool":"kb.search"}
	]`
	sender.replies["synthesis"] = "Here is everything the assistant could gather about your question in one place."

	// Unsourced successes keep confidence under the sufficiency cutoff, so
	// the whole clamped plan runs.
	reg := tool.NewRegistry(
		okTool("kb.search"),
		okTool("policy.lookup"),
		okTool("records.leave_balance"),
		okTool("records.coverage"),
		okTool("ticket.create"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{Query: "tell me everything"})

	require.NotNil(t, result)
	assert.Equal(t, 4, result.Iterations)
	assert.Equal(t, []string{"kb.search", "policy.lookup", "records.leave_balance", "records.coverage"}, historyTools(result))
	assert.False(t, result.BudgetExhausted)
}

func TestForcedToolConsumedBeforePlan(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search"}]`
	sender.replies["synthesis"] = "Your remaining balance is 12.5 annual leave days as of the last payroll run."

	reg := tool.NewRegistry(
		okTool("kb.search", "kb:policies/pol-leave-001"),
		okTool("records.leave_balance", "records:leave/emp-1001"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{
		Query:      "leave balance?",
		User:       tool.User{ID: "emp-1001"},
		ForcedTool: "records.leave_balance",
	})

	require.NotNil(t, result)
	// The override runs once, then the plan proceeds; it is never replayed.
	assert.Equal(t, []string{"records.leave_balance", "kb.search"}, historyTools(result))
	assert.Contains(t, noteJoin(result.Trace), "forced records.leave_balance")
}

func TestIterationCeilingTerminatesRun(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search"},{"tool":"policy.lookup"},{"tool":"records.coverage"},{"tool":"ticket.create"}]`
	sender.replies["synthesis"] = "Partial answer: the assistant ran out of lookups before finishing the plan."

	reg := tool.NewRegistry(
		okTool("kb.search"),
		okTool("policy.lookup"),
		okTool("records.coverage"),
		okTool("ticket.create"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{
		Query:         "everything about benefits",
		MaxIterations: 2,
	})

	require.NotNil(t, result)
	assert.Equal(t, 2, result.Iterations)
	assert.True(t, result.BudgetExhausted)
	assert.NotEmpty(t, result.Answer)
	assert.Contains(t, noteJoin(result.Trace), "iteration ceiling reached")
}

func TestToolFailureRecordedNotRaised(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"records.leave_balance"},{"tool":"kb.search"}]`
	sender.replies["synthesis"] = "The policy grants 21 annual leave days; your exact balance could not be checked right now."

	reg := tool.NewRegistry(
		failTool("records.leave_balance", "records store offline"),
		okTool("kb.search", "kb:policies/pol-leave-001"),
	)
	eng := New(config.EngineConfig{}, reg, sender, WithFallbackTool(""))

	result := eng.Run(context.Background(), Request{Query: "leave balance?", Topic: "leave"})

	require.NotNil(t, result)
	require.Len(t, result.History, 2)
	assert.False(t, result.History[0].OK)
	assert.Equal(t, "records store offline", result.History[0].Error)
	assert.True(t, result.History[1].OK)

	// The failure reaches synthesis as guidance, not as an exception.
	synthPrompts := sender.promptsFor("synthesis")
	require.Len(t, synthPrompts, 1)
	assert.Contains(t, synthPrompts[0], "records.leave_balance was unavailable (records store offline)")

	// Only the successful call contributes sources.
	assert.Equal(t, []string{"kb:policies/pol-leave-001"}, result.Sources)
}

func TestReflectionForcesFallbackOncePerRun(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"policy.lookup"},{"tool":"policy.lookup"}]`
	sender.replies["synthesis"] = "The knowledge base covers this even though the policy index is unavailable at the moment."

	reg := tool.NewRegistry(
		failTool("policy.lookup", "policy index unavailable"),
		okTool("kb.search", "kb:policies/pol-leave-001"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{Query: "carryover rules?", Topic: "leave"})

	require.NotNil(t, result)
	assert.Equal(t, []string{"policy.lookup", "kb.search", "policy.lookup"}, historyTools(result))
	assert.Contains(t, noteJoin(result.Trace), "forcing kb.search")

	forced := 0
	for _, rec := range result.History {
		if rec.ToolID == "kb.search" {
			forced++
		}
	}
	assert.Equal(t, 1, forced)
}

func TestReflectionFinishesEarlyOnSufficientEvidence(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search"},{"tool":"records.coverage"},{"tool":"policy.lookup"}]`
	sender.replies["synthesis"] = "Your plan covers medical and dental; the enrollment details match the records on file."

	reg := tool.NewRegistry(
		okTool("kb.search", "kb:benefits/ben-ins-001"),
		okTool("records.coverage", "records:coverage/emp-1001"),
		okTool("policy.lookup", "policy:leave-carryover"),
	)
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{Query: "what does my plan cover?", Topic: "benefits"})

	require.NotNil(t, result)
	// Two sourced successes clear the sufficiency cutoff; the third step is skipped.
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"kb.search", "records.coverage"}, historyTools(result))
	assert.Contains(t, noteJoin(result.Trace), "sufficient")
	assert.False(t, result.BudgetExhausted)
}

func TestSynthesisFailureComposesDirectAnswer(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search"}]`
	sender.errs["synthesis"] = errors.New("all backends down")

	reg := tool.NewRegistry(okTool("kb.search", "kb:policies/pol-leave-001"))
	eng := New(config.EngineConfig{}, reg, sender)

	result := eng.Run(context.Background(), Request{Query: "leave policy?"})

	require.NotNil(t, result)
	assert.Contains(t, result.Answer, "content from kb.search")
	assert.Equal(t, []string{"kb:policies/pol-leave-001"}, result.Sources)
}

func TestRunWithNothingToDoStillAnswers(t *testing.T) {
	sender := newScriptedSender()
	sender.errs["planning"] = errors.New("planner down")
	sender.errs["synthesis"] = errors.New("synthesis down")

	eng := New(config.EngineConfig{}, tool.NewRegistry(), sender)

	result := eng.Run(context.Background(), Request{Query: "anything?"})

	require.NotNil(t, result)
	assert.Equal(t, 0, result.Iterations)
	assert.Contains(t, result.Answer, "could not find")
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
}

func TestDecoratorsAppliedInOrder(t *testing.T) {
	sender := newScriptedSender()
	sender.replies["planning"] = `[{"tool":"kb.search"}]`
	sender.replies["synthesis"] = "Annual leave accrues at 1.75 days per month, up to 21 days a year."

	notice := "This is general guidance, not a contractual statement."
	reg := tool.NewRegistry(okTool("kb.search", "kb:policies/pol-leave-001"))
	eng := New(config.EngineConfig{}, reg, sender,
		WithDecorators(SourceFooterDecorator{}, NoticeDecorator{Notice: notice}))

	result := eng.Run(context.Background(), Request{Query: "how fast does leave accrue?"})

	require.NotNil(t, result)
	footerAt := strings.Index(result.Answer, "Sources:")
	noticeAt := strings.Index(result.Answer, notice)
	require.GreaterOrEqual(t, footerAt, 0)
	require.GreaterOrEqual(t, noticeAt, 0)
	assert.Less(t, footerAt, noticeAt)
	assert.Contains(t, result.Answer, "- kb:policies/pol-leave-001")
}

func TestLowConfidenceDecorator(t *testing.T) {
	low := LowConfidenceDecorator{}.Decorate(Answer{Text: "Maybe.", Confidence: 0.2})
	assert.Contains(t, low.Text, "low confidence")

	high := LowConfidenceDecorator{}.Decorate(Answer{Text: "Certainly.", Confidence: 0.8})
	assert.Equal(t, "Certainly.", high.Text)

	custom := LowConfidenceDecorator{Cutoff: 0.9}.Decorate(Answer{Text: "Certainly.", Confidence: 0.8})
	assert.Contains(t, custom.Text, "low confidence")
}

func TestParsePlanResponse(t *testing.T) {
	steps, err := parsePlanResponse("```json\n[{\"tool\":\"kb.search\",\"goal\":\"look it up\"}]\n```")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "kb.search", steps[0].Tool)
	assert.Equal(t, "look it up", steps[0].Goal)

	_, err = parsePlanResponse("not json at all")
	assert.Error(t, err)

	_, err = parsePlanResponse(`[]`)
	assert.Error(t, err)

	_, err = parsePlanResponse(`[{"goal":"missing tool"}]`)
	assert.Error(t, err)
}

func TestHeuristicPlans(t *testing.T) {
	reg := tool.NewRegistry(
		okTool(tool.SearchToolID),
		okTool(tool.LeaveBalanceToolID),
		okTool(tool.CoverageToolID),
		okTool(tool.PolicyToolID),
		okTool(tool.TicketToolID),
	)

	leave := heuristicPlan("leave", "vacation days", reg)
	require.Len(t, leave, 3)
	assert.Equal(t, tool.SearchToolID, leave[0].Tool)
	assert.Equal(t, tool.LeaveBalanceToolID, leave[1].Tool)

	quiet := heuristicPlan("it_support", "how do I set up the vpn", reg)
	require.Len(t, quiet, 1)

	broken := heuristicPlan("it_support", "my laptop is broken", reg)
	require.Len(t, broken, 2)
	assert.Equal(t, tool.TicketToolID, broken[1].Tool)

	unknown := heuristicPlan("", "hello", reg)
	require.Len(t, unknown, 1)
	assert.Equal(t, tool.SearchToolID, unknown[0].Tool)

	// Steps naming unregistered tools are dropped.
	slim := tool.NewRegistry(okTool(tool.SearchToolID))
	trimmed := heuristicPlan("leave", "vacation days", slim)
	require.Len(t, trimmed, 1)
	assert.Equal(t, tool.SearchToolID, trimmed[0].Tool)
}

func TestAnswerConfidence(t *testing.T) {
	sourced := []HistoryRecord{{OK: true, Sources: []string{"kb:policies/a"}}}
	long := strings.Repeat("Leave accrues monthly. ", 4)

	assert.InDelta(t, 0.55, answerConfidence(sourced, long), 0.001)
	assert.InDelta(t, 0.40, answerConfidence(sourced, "Short."), 0.001)
	assert.InDelta(t, 0.45, answerConfidence(sourced, long+" I'm not sure this is current."), 0.001)
	assert.Equal(t, 0.05, answerConfidence(sourced, "   "))
}

func noteJoin(trace []TraceStep) string {
	var notes []string
	for _, step := range trace {
		notes = append(notes, step.Note)
	}
	return strings.Join(notes, " | ")
}
