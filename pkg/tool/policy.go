package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PolicyToolID is the policy lookup tool identifier.
const PolicyToolID = "policy.lookup"

// Policy is one entry in the company policy table.
type Policy struct {
	Name     string
	Summary  string
	Ref      string
	Keywords []string
}

// PolicyTool answers questions from a fixed policy table. Unlike
// kb.search it matches whole policies, not passages.
type PolicyTool struct {
	policies []Policy
}

// NewPolicyTool creates the policy.lookup tool.
func NewPolicyTool(policies []Policy) *PolicyTool {
	return &PolicyTool{policies: policies}
}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name:     "Leave Carryover",
			Summary:  "Up to 5 unused annual leave days carry over to the next calendar year. Carried days must be used by March 31.",
			Ref:      "policy:leave-carryover",
			Keywords: []string{"carryover", "carry over", "unused leave", "expire"},
		},
		{
			Name:     "Notice Period",
			Summary:  "The standard notice period is one month for employees and three months for directors, counted from the end of the month notice is given.",
			Ref:      "policy:notice-period",
			Keywords: []string{"notice period", "resignation", "quit"},
		},
		{
			Name:     "Probation",
			Summary:  "New hires have a six month probation period with a mid-point check-in. Either side may end employment with one week notice during probation.",
			Ref:      "policy:probation",
			Keywords: []string{"probation", "probationary", "new hire"},
		},
		{
			Name:     "Equipment",
			Summary:  "Laptops are refreshed every three years. Peripherals under $100 can be ordered from the IT catalog without approval.",
			Ref:      "policy:equipment",
			Keywords: []string{"laptop refresh", "equipment", "peripherals", "monitor"},
		},
	}
}

// ID returns the tool identifier.
func (t *PolicyTool) ID() string { return PolicyToolID }

// Description returns the planning description.
func (t *PolicyTool) Description() string {
	return "Look up a specific company policy by name or topic"
}

// Invoke matches the query against policy names and keywords.
func (t *PolicyTool) Invoke(ctx context.Context, in Input) *Result {
	if err := ctx.Err(); err != nil {
		return Failuref(PolicyToolID, "lookup aborted: %v", err)
	}

	query := strings.ToLower(in.Query)

	type scored struct {
		policy Policy
		score  int
	}
	var matches []scored
	for _, p := range t.policies {
		score := 0
		if strings.Contains(query, strings.ToLower(p.Name)) {
			score += 2
		}
		for _, kw := range p.Keywords {
			if strings.Contains(query, kw) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{policy: p, score: score})
		}
	}
	if len(matches) == 0 {
		return Failure(PolicyToolID, "no policy matches the question")
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].policy.Name < matches[j].policy.Name
	})

	best := matches[0].policy
	content := fmt.Sprintf("%s: %s", best.Name, best.Summary)
	return Success(PolicyToolID, content, best.Ref)
}
