package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/engine"
	"github.com/zen-systems/concierge/pkg/tool"
	"github.com/zen-systems/concierge/pkg/trace"
)

func cannedResult(answer string, conf float64, sources ...string) *engine.Result {
	return &engine.Result{
		Answer:     answer,
		Confidence: conf,
		Sources:    sources,
		Iterations: 1,
		ToolsUsed:  []string{"kb.search"},
		History: []engine.HistoryRecord{
			{Iteration: 1, ToolID: "kb.search", OK: true, Sources: sources},
		},
	}
}

func resultFactory(results map[string]*engine.Result) HandlerFactory {
	return func(intent string) (Handler, error) {
		res, ok := results[intent]
		if !ok {
			return nil, fmt.Errorf("no handler for %s", intent)
		}
		return HandlerFunc(func(context.Context, string, tool.User) *engine.Result {
			return res
		}), nil
	}
}

type countingFactory struct {
	mu    sync.Mutex
	built map[string]int
	inner HandlerFactory
}

func newCountingFactory(inner HandlerFactory) *countingFactory {
	return &countingFactory{built: make(map[string]int), inner: inner}
}

func (f *countingFactory) factory(intent string) (Handler, error) {
	f.mu.Lock()
	f.built[intent]++
	f.mu.Unlock()
	return f.inner(intent)
}

func (f *countingFactory) builds(intent string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[intent]
}

func employee() tool.User {
	return tool.User{ID: "emp-1001", Role: "employee", Department: "engineering"}
}

func TestAskSingleIntent(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	factory := resultFactory(map[string]*engine.Result{
		"leave": cannedResult("You have 12.5 annual leave days remaining.", 0.8, "records:leave/emp-1001"),
	})
	r := New(cfg, newScriptedSender(), factory)

	resp, err := r.Ask(context.Background(), Request{Query: "how much vacation do I have?", User: employee()})
	require.NoError(t, err)

	assert.Equal(t, []string{"leave"}, resp.Intents)
	assert.Equal(t, "leave", resp.Intent())
	assert.Equal(t, "You have 12.5 annual leave days remaining.", resp.Answer)
	assert.InDelta(t, 0.9, resp.Confidence, 0.0001)
	assert.InDelta(t, 0.8, resp.AnswerConfidence, 0.0001)
	assert.False(t, resp.Clarification)
}

func TestAskMultiIntentMergesResponses(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	factory := resultFactory(map[string]*engine.Result{
		"leave":    cannedResult("You have 12.5 annual leave days remaining.", 0.8, "kb:policies/pol-leave-001", "records:leave/emp-1001"),
		"benefits": cannedResult("Your plan covers dental for two dependents.", 0.7, "kb:benefits/ben-ins-001", "records:leave/emp-1001"),
	})
	r := New(cfg, newScriptedSender(), factory)

	resp, err := r.Ask(context.Background(), Request{
		Query: "I want to request leave and check my insurance coverage",
		User:  employee(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"benefits", "leave"}, resp.Intents)
	assert.InDelta(t, 0.85, resp.Confidence, 0.0001)
	assert.InDelta(t, 0.75, resp.AnswerConfidence, 0.0001)
	assert.Contains(t, resp.Answer, "1. Your plan covers dental")
	assert.Contains(t, resp.Answer, "2. You have 12.5 annual leave days")

	// Union of both handlers' sources, duplicates removed.
	assert.Equal(t, []string{
		"kb:benefits/ben-ins-001",
		"records:leave/emp-1001",
		"kb:policies/pol-leave-001",
	}, resp.Sources)
	assert.Equal(t, []string{"kb.search"}, resp.ToolsUsed)
}

func TestAskClarifiesWhenUnclear(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	sender := newScriptedSender()
	sender.errs["classification"] = errors.New("backend down")
	r := New(cfg, sender, resultFactory(nil))

	resp, err := r.Ask(context.Background(), Request{Query: "hmm", User: employee()})
	require.NoError(t, err)

	assert.True(t, resp.Clarification)
	assert.Equal(t, []string{IntentUnclear}, resp.Intents)
	assert.Contains(t, resp.Answer, "benefits, it_support, leave, payroll")
	assert.InDelta(t, 0.2, resp.Confidence, 0.0001)
}

func TestAskClarifiesOnLowModelConfidence(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	sender := newScriptedSender()
	sender.replies["classification"] = `{"intent":"leave","confidence":0.3}`
	r := New(cfg, sender, resultFactory(nil))

	resp, err := r.Ask(context.Background(), Request{Query: "hmm", User: employee()})
	require.NoError(t, err)

	assert.True(t, resp.Clarification)
	assert.Contains(t, resp.Answer, "about leave")
}

func TestAskPermissionDenied(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	r := New(cfg, newScriptedSender(), resultFactory(nil))

	contractor := tool.User{ID: "ctr-2001", Role: "contractor"}
	resp, err := r.Ask(context.Background(), Request{Query: "how much vacation do I have?", User: contractor})

	require.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	assert.Contains(t, err.Error(), "leave assistance")

	// The denial names the topic only, never the policy behind it.
	assert.NotContains(t, err.Error(), "contractor")
	assert.NotContains(t, err.Error(), "employee")
	assert.NotContains(t, err.Error(), "allow")
}

func TestAskPartialPermissionDispatchesAllowedSubset(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	factory := resultFactory(map[string]*engine.Result{
		"it_support": cannedResult("Restart the laptop, then open a ticket if it stays dead.", 0.6, "kb:it/it-pwd-001"),
	})
	r := New(cfg, newScriptedSender(), factory)

	contractor := tool.User{ID: "ctr-2001", Role: "contractor"}
	resp, err := r.Ask(context.Background(), Request{
		Query: "my laptop is broken and I need vacation",
		User:  contractor,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"it_support"}, resp.Intents)
	assert.InDelta(t, 0.85, resp.Confidence, 0.0001)
	assert.NotContains(t, resp.Answer, "vacation")
}

func TestCheckPermissionIsPure(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	perms := cfg.Router.Permissions
	before := len(perms["contractor"])

	assert.False(t, CheckPermission(perms, "contractor", "leave"))
	assert.False(t, CheckPermission(perms, "contractor", "leave"))
	assert.True(t, CheckPermission(perms, "contractor", "it_support"))
	assert.True(t, CheckPermission(perms, "admin", "payroll"))
	assert.False(t, CheckPermission(perms, "visitor", "leave"))
	assert.Equal(t, before, len(perms["contractor"]))
}

func TestMergeResponsesSingleResultUnchanged(t *testing.T) {
	r := New(config.DefaultAssistantConfig(), newScriptedSender(), resultFactory(nil))

	merged := r.MergeResponses([]HandlerResult{{
		Intent:     "payroll",
		Confidence: 0.9,
		Result:     cannedResult("Payday is the last business day of the month.", 0.7, "kb:payroll/pay-sched-001"),
	}})

	assert.Equal(t, "Payday is the last business day of the month.", merged.Answer)
	assert.NotContains(t, merged.Answer, "1.")
	assert.InDelta(t, 0.9, merged.Confidence, 0.0001)
}

func TestMergeResponsesDropsDuplicateAnswers(t *testing.T) {
	r := New(config.DefaultAssistantConfig(), newScriptedSender(), resultFactory(nil))

	same := "Contact HR for this one."
	merged := r.MergeResponses([]HandlerResult{
		{Intent: "leave", Confidence: 0.85, Result: cannedResult(same, 0.5, "kb:policies/a")},
		{Intent: "payroll", Confidence: 0.85, Result: cannedResult(same, 0.5, "kb:payroll/b")},
	})

	assert.Equal(t, same, merged.Answer)
	assert.Equal(t, []string{"kb:policies/a", "kb:payroll/b"}, merged.Sources)
}

func TestHandlerInstancesAreCached(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	cf := newCountingFactory(resultFactory(map[string]*engine.Result{
		"leave": cannedResult("Plenty of days left.", 0.8, "records:leave/emp-1001"),
	}))
	r := New(cfg, newScriptedSender(), cf.factory)

	for i := 0; i < 3; i++ {
		_, err := r.Ask(context.Background(), Request{Query: "vacation balance?", User: employee()})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cf.builds("leave"))
}

func TestMultiIntentGatherTimeoutDropsMissingResults(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	cfg.Router.DispatchTimeoutS = 1

	block := make(chan struct{})
	defer close(block)

	fast := cannedResult("Restart the laptop first.", 0.6, "kb:it/it-pwd-001")
	factory := func(intent string) (Handler, error) {
		if intent == "it_support" {
			return HandlerFunc(func(context.Context, string, tool.User) *engine.Result {
				return fast
			}), nil
		}
		return HandlerFunc(func(context.Context, string, tool.User) *engine.Result {
			<-block
			return cannedResult("Too late to matter.", 0.5, "records:leave/emp-1001")
		}), nil
	}
	r := New(cfg, newScriptedSender(), factory)

	resp, err := r.Ask(context.Background(), Request{
		Query: "my laptop is broken and I need vacation",
		User:  employee(),
	})
	require.NoError(t, err)

	// The stalled leave handler is treated as absent, not fatal.
	assert.Equal(t, []string{"it_support"}, resp.Intents)
	assert.Equal(t, "Restart the laptop first.", resp.Answer)
	assert.InDelta(t, 0.85, resp.Confidence, 0.0001)
}

func TestScopeFilterRedactsSources(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	factory := resultFactory(map[string]*engine.Result{
		"it_support": cannedResult("VPN works again.", 0.7, "kb:it/it-vpn-001", "records:coverage/ctr-2001"),
	})
	scope := SourcePrefixScope{Hidden: map[string][]string{"contractor": {"records:"}}}
	r := New(cfg, newScriptedSender(), factory, WithScopeFilter(scope))

	contractor := tool.User{ID: "ctr-2001", Role: "contractor"}
	resp, err := r.Ask(context.Background(), Request{Query: "vpn is down", User: contractor})
	require.NoError(t, err)

	assert.Equal(t, []string{"kb:it/it-vpn-001"}, resp.Sources)
}

func TestSourcePrefixScopeLeavesOtherRolesAlone(t *testing.T) {
	scope := SourcePrefixScope{Hidden: map[string][]string{"contractor": {"records:"}}}
	res := cannedResult("ok", 0.5, "records:leave/emp-1001")

	same := scope.FilterResult(tool.User{Role: "employee"}, "leave", res)
	assert.Same(t, res, same)

	assert.Nil(t, scope.FilterResult(tool.User{Role: "contractor"}, "leave", nil))
}

func TestRouterEmitsRunRecords(t *testing.T) {
	cfg := config.DefaultAssistantConfig()
	rec := &trace.MemoryRecorder{}
	factory := resultFactory(map[string]*engine.Result{
		"leave":    cannedResult("Days left: 12.5.", 0.8, "records:leave/emp-1001"),
		"benefits": cannedResult("Dental included.", 0.7, "kb:benefits/ben-ins-001"),
	})
	r := New(cfg, newScriptedSender(), factory, WithRecorder(rec))

	query := "I want to request leave and check my insurance coverage"
	_, err := r.Ask(context.Background(), Request{Query: query, User: employee()})
	require.NoError(t, err)

	records := rec.Records()
	require.Len(t, records, 2)

	intents := map[string]bool{}
	for _, record := range records {
		intents[record.Intent] = true
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, trace.HashQuery(query), record.QueryHash)
		assert.Equal(t, "emp-1001", record.UserID)
		require.Len(t, record.Tools, 1)
		assert.Equal(t, "kb.search", record.Tools[0].ToolID)
	}
	assert.True(t, intents["leave"])
	assert.True(t, intents["benefits"])
}
