package kb

import "strings"

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"what": true, "how": true, "where": true, "when": true, "why": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"and": true, "or": true, "but": true, "with": true, "my": true,
	"can": true, "do": true, "does": true, "about": true,
}

// extractKeywords splits a query into searchable keywords, dropping stop
// words and short tokens.
func extractKeywords(query string) []string {
	words := strings.Fields(strings.ToLower(query))

	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?\"'()")
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// scoreRelevance returns the fraction of keywords found in the content.
func scoreRelevance(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	matches := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}
