package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/engine"
)

// Classifier resolves queries to workplace intents, keyword table first,
// classification model second.
type Classifier struct {
	cfg    *config.RouterConfig
	sender engine.PromptSender
	logger zerolog.Logger
}

// NewClassifier builds a classifier over the intent table. sender may be
// nil, in which case keyword misses degrade straight to unclear.
func NewClassifier(cfg *config.RouterConfig, sender engine.PromptSender, logger zerolog.Logger) *Classifier {
	return &Classifier{
		cfg:    cfg,
		sender: sender,
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

// ClassifyIntent resolves the intents for a query. It never returns an
// error; a failing model call degrades to unclear with low confidence.
func (c *Classifier) ClassifyIntent(ctx context.Context, query string) *Classification {
	hits := c.keywordHits(query)
	switch {
	case len(hits) == 1:
		hits[0].Confidence = c.cfg.KeywordConfidence
		return &Classification{Intents: hits, Reasons: []string{"keyword match"}}
	case len(hits) > 1:
		for i := range hits {
			hits[i].Confidence = c.cfg.MultiIntentConfidence
		}
		return &Classification{
			Intents: hits,
			Reasons: []string{fmt.Sprintf("%d intents matched", len(hits))},
		}
	}
	return c.classifyWithModel(ctx, query)
}

// keywordHits tests the query against the intent keyword table in fixed
// label order.
func (c *Classifier) keywordHits(query string) []Intent {
	lower := strings.ToLower(query)

	var hits []Intent
	for _, label := range c.cfg.Labels() {
		var matched []string
		for _, kw := range c.cfg.Intents[label].Keywords {
			if containsKeyword(lower, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			hits = append(hits, Intent{Label: label, Keywords: matched})
		}
	}
	return hits
}

func (c *Classifier) classifyWithModel(ctx context.Context, query string) *Classification {
	unclear := func(reason string) *Classification {
		return &Classification{
			Intents: []Intent{{Label: IntentUnclear, Confidence: c.cfg.UnclearConfidence}},
			Reasons: []string{reason},
		}
	}

	if c.sender == nil {
		return unclear("no classification model configured")
	}

	reply, err := c.sender.SendPrompt(ctx, "classification", c.buildPrompt(query))
	if err != nil {
		c.logger.Warn().Err(err).Msg("classification call failed")
		return unclear("classification unavailable")
	}

	pick, err := parseClassifierResponse(reply.Text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("classifier response invalid")
		return unclear("classifier response invalid")
	}
	if _, known := c.cfg.Intents[pick.Intent]; !known && pick.Intent != IntentUnclear {
		return unclear(fmt.Sprintf("classifier named unknown intent %q", pick.Intent))
	}

	return &Classification{
		Intents:   []Intent{{Label: pick.Intent, Confidence: clampConfidence(pick.Confidence)}},
		UsedModel: true,
		Reasons:   []string{"model classification"},
	}
}

func (c *Classifier) buildPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("You are an intent classifier for a workplace assistant.\n")
	sb.WriteString("Return ONLY JSON: {\"intent\":\"...\",\"confidence\":0-1}.\n")
	sb.WriteString("Pick \"unclear\" if none fit.\n\nIntents:\n")

	for _, label := range c.cfg.Labels() {
		desc := c.cfg.Intents[label].Description
		if desc == "" {
			desc = label
		}
		fmt.Fprintf(&sb, "- %s: %s\n", label, desc)
	}

	sb.WriteString("\nQuery:\n")
	sb.WriteString(query)
	sb.WriteString("\n")

	return sb.String()
}

type classifierPick struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func parseClassifierResponse(content string) (*classifierPick, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var pick classifierPick
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, err
	}
	if pick.Intent == "" {
		return nil, fmt.Errorf("missing intent")
	}
	return &pick, nil
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
