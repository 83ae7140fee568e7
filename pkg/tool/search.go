package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/concierge/pkg/kb"
)

const (
	// SearchToolID is the knowledge base search tool identifier.
	SearchToolID = "kb.search"

	snippetLimit = 600
)

// SearchTool retrieves knowledge base content for a query.
type SearchTool struct {
	store       *kb.Store
	collections map[string]string // topic label -> collection
	topK        int
	minScore    float64
}

// NewSearchTool creates the kb.search tool over a store. The topic map
// narrows searches to one collection per intent label; unmapped topics
// search all collections.
func NewSearchTool(store *kb.Store, collections map[string]string) *SearchTool {
	return &SearchTool{
		store:       store,
		collections: collections,
		topK:        kb.DefaultTopK,
		minScore:    0.15,
	}
}

// DefaultTopicCollections maps the built-in intent labels to corpus
// collections.
func DefaultTopicCollections() map[string]string {
	return map[string]string{
		"leave":      "policies",
		"benefits":   "benefits",
		"payroll":    "payroll",
		"it_support": "it",
	}
}

// ID returns the tool identifier.
func (t *SearchTool) ID() string { return SearchToolID }

// Description returns the planning description.
func (t *SearchTool) Description() string {
	return "Search workplace documentation for passages relevant to the question"
}

// Invoke searches the store and formats the top hits.
func (t *SearchTool) Invoke(ctx context.Context, in Input) *Result {
	hits, err := t.store.Search(ctx, kb.SearchRequest{
		Query:      in.Query,
		Collection: t.collections[in.Topic],
		TopK:       t.topK,
		MinScore:   t.minScore,
	})
	if err != nil {
		return Failuref(SearchToolID, "search failed: %v", err)
	}
	if len(hits) == 0 {
		return Success(SearchToolID, "No matching documents found.")
	}

	var b strings.Builder
	sources := make([]string, 0, len(hits))
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if title := h.Metadata["title"]; title != "" {
			fmt.Fprintf(&b, "%s: ", title)
		}
		b.WriteString(snippet(h.Content, snippetLimit))
		sources = append(sources, fmt.Sprintf("kb:%s/%s", h.SourceID, h.Ref))
	}
	return Success(SearchToolID, b.String(), sources...)
}

// snippet truncates content at a rune boundary.
func snippet(content string, limit int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
