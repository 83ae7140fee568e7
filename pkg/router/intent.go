package router

import "strings"

// IntentUnclear is the label used when no intent can be established.
const IntentUnclear = "unclear"

// Intent is one classified intent for a query.
type Intent struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Classification is the routing decision for one query. Intents follow the
// table's fixed label order, so identical queries classify identically.
type Classification struct {
	Intents   []Intent `json:"intents"`
	UsedModel bool     `json:"used_model"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Top returns the leading intent, or an unclear zero intent when empty.
func (c *Classification) Top() Intent {
	if len(c.Intents) == 0 {
		return Intent{Label: IntentUnclear}
	}
	return c.Intents[0]
}

// Labels returns the intent labels in classification order.
func (c *Classification) Labels() []string {
	labels := make([]string, len(c.Intents))
	for i, intent := range c.Intents {
		labels[i] = intent.Label
	}
	return labels
}

// containsKeyword checks if the prompt contains the keyword phrase on word
// boundaries, so "pto" does not match inside "laptop".
func containsKeyword(prompt, keyword string) bool {
	start := 0
	for {
		idx := strings.Index(prompt[start:], keyword)
		if idx == -1 {
			return false
		}
		idx += start

		boundedBefore := idx == 0 || !isWordChar(prompt[idx-1])
		end := idx + len(keyword)
		boundedAfter := end >= len(prompt) || !isWordChar(prompt[end])
		if boundedBefore && boundedAfter {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
