package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/concierge/pkg/kb"
)

func testStore(t *testing.T) *kb.Store {
	t.Helper()
	return kb.NewDefaultStore(zerolog.Nop())
}

func TestRegistryIsClosed(t *testing.T) {
	reg := NewRegistry(
		NewPolicyTool(DefaultPolicies()),
		NewTicketTool(NewTicketStore()),
	)

	require.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{PolicyToolID, TicketToolID}, reg.IDs())

	_, ok := reg.Get("kb.search")
	assert.False(t, ok, "unregistered tool must not resolve")

	got, ok := reg.Get(PolicyToolID)
	require.True(t, ok)
	assert.Equal(t, PolicyToolID, got.ID())
}

func TestSearchToolFormatsHits(t *testing.T) {
	search := NewSearchTool(testStore(t), DefaultTopicCollections())

	res := search.Invoke(context.Background(), Input{
		Query: "what does my insurance coverage include",
		Topic: "benefits",
	})

	require.True(t, res.OK)
	assert.Contains(t, res.Content, "Health Insurance Coverage")
	require.NotEmpty(t, res.Sources)
	assert.True(t, strings.HasPrefix(res.Sources[0], "kb:benefits/"), "source = %s", res.Sources[0])
}

func TestSearchToolNoMatches(t *testing.T) {
	search := NewSearchTool(testStore(t), DefaultTopicCollections())

	res := search.Invoke(context.Background(), Input{
		Query: "zebra migration quarterly telemetry",
		Topic: "benefits",
	})

	require.True(t, res.OK, "empty search is not a failure")
	assert.Contains(t, res.Content, "No matching documents")
	assert.Empty(t, res.Sources)
}

func TestSearchToolUnmappedTopicSearchesEverything(t *testing.T) {
	search := NewSearchTool(testStore(t), DefaultTopicCollections())

	res := search.Invoke(context.Background(), Input{Query: "vpn access"})

	require.True(t, res.OK)
	assert.Contains(t, res.Content, "VPN")
}

func TestPolicyToolMatch(t *testing.T) {
	policy := NewPolicyTool(DefaultPolicies())

	res := policy.Invoke(context.Background(), Input{Query: "does unused leave carry over to next year"})

	require.True(t, res.OK)
	assert.Contains(t, res.Content, "Leave Carryover")
	assert.Equal(t, []string{"policy:leave-carryover"}, res.Sources)
}

func TestPolicyToolNoMatchIsStructuredFailure(t *testing.T) {
	policy := NewPolicyTool(DefaultPolicies())

	res := policy.Invoke(context.Background(), Input{Query: "completely unrelated question"})

	require.False(t, res.OK)
	require.NotNil(t, res.Err)
	assert.Equal(t, PolicyToolID, res.Err.ToolID)
	assert.Contains(t, res.Err.Error(), "no policy matches")
}

func TestLeaveBalanceTool(t *testing.T) {
	records := SampleHRRecords()
	lb := NewLeaveBalanceTool(records)

	res := lb.Invoke(context.Background(), Input{User: User{ID: "emp-1001"}})
	require.True(t, res.OK)
	assert.Contains(t, res.Content, "12.5 annual leave days")
	assert.Equal(t, []string{"records:leave/emp-1001"}, res.Sources)

	res = lb.Invoke(context.Background(), Input{User: User{ID: "emp-9999"}})
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Reason, "no leave record")

	res = lb.Invoke(context.Background(), Input{})
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Reason, "employee id is required")
}

func TestCoverageTool(t *testing.T) {
	records := NewHRRecords()
	records.SetCoverage("emp-7", Coverage{Plan: "premium", Dependents: 1, Dental: true, Vision: true, Deductible: 0})
	cov := NewCoverageTool(records)

	res := cov.Invoke(context.Background(), Input{User: User{ID: "emp-7"}})
	require.True(t, res.OK)
	assert.Contains(t, res.Content, "premium plan")
	assert.Contains(t, res.Content, "dental and vision included")

	bare := NewCoverageTool(NewHRRecords())
	res = bare.Invoke(context.Background(), Input{User: User{ID: "emp-7"}})
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Reason, "no coverage record")
}

func TestTicketToolFilesTicket(t *testing.T) {
	store := NewTicketStore()
	tk := NewTicketTool(store)

	res := tk.Invoke(context.Background(), Input{
		Query: "my laptop screen is flickering",
		User:  User{ID: "emp-1002", Department: "finance"},
	})

	require.True(t, res.OK)
	require.Equal(t, 1, store.Count())

	filed := store.All()[0]
	assert.Equal(t, "open", filed.Status)
	assert.Equal(t, "emp-1002", filed.Requester)
	assert.Equal(t, "finance", filed.Department)
	assert.True(t, strings.HasPrefix(filed.ID, "tkt-"), "id = %s", filed.ID)
	assert.WithinDuration(t, time.Now().UTC(), filed.CreatedAt, time.Minute)
	assert.Contains(t, res.Content, filed.ID)
	assert.Equal(t, []string{"ticket:" + filed.ID}, res.Sources)
}

func TestTicketToolRequiresSummary(t *testing.T) {
	tk := NewTicketTool(NewTicketStore())

	res := tk.Invoke(context.Background(), Input{})
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Reason, "summary")
}

func TestToolFailureIsDataNotError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := NewPolicyTool(DefaultPolicies())
	res := policy.Invoke(ctx, Input{Query: "probation"})

	require.NotNil(t, res, "tools always return a result")
	require.False(t, res.OK)
	require.NotNil(t, res.Err)
}
