package engine

import (
	"context"
	"fmt"
	"strings"
)

// finish synthesizes the final answer, scores it, and applies the decorator
// chain. With no usable evidence it still returns a best effort answer that
// says what is unknown.
func (e *Engine) finish(ctx context.Context, s *runState) *Result {
	answer := e.synthesizeAnswer(ctx, s)
	conf := answerConfidence(s.history, answer)
	s.addTrace(phaseFinishing, fmt.Sprintf("answer confidence %.2f", conf))

	ans := Answer{Text: answer, Sources: s.distinctSources(), Confidence: conf}
	for _, d := range e.decorators {
		ans = d.Decorate(ans)
	}

	return &Result{
		Answer:          ans.Text,
		Sources:         ans.Sources,
		Confidence:      ans.Confidence,
		ToolsUsed:       s.toolsUsed(),
		Iterations:      s.iteration,
		BudgetExhausted: s.budgetExhausted,
		History:         s.history,
		Trace:           s.trace,
	}
}

// synthesizeAnswer asks the synthesis model to compose the answer and falls
// back to joining the gathered results directly when the model is
// unavailable.
func (e *Engine) synthesizeAnswer(ctx context.Context, s *runState) string {
	prompt := buildSynthesisPrompt(s)

	reply, err := e.gateway.SendPrompt(ctx, "synthesis", prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("synthesis unavailable, composing answer from gathered results")
		return composeDirectAnswer(s)
	}
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return composeDirectAnswer(s)
	}
	return text
}

func buildSynthesisPrompt(s *runState) string {
	var sb strings.Builder
	sb.WriteString("You are a workplace assistant. Answer the employee's question using only the gathered results below.\n")
	sb.WriteString("Be direct and concrete. If the results do not cover something, say so.\n\n")
	sb.WriteString("Question:\n")
	sb.WriteString(s.query)
	sb.WriteString("\n\nGathered results:\n")

	n := 0
	for _, rec := range s.history {
		if !rec.OK || strings.TrimSpace(rec.Content) == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. [%s] %s\n", n, rec.ToolID, rec.Content)
	}
	if n == 0 {
		sb.WriteString("(none)\n")
	}

	for _, g := range s.guidance {
		sb.WriteString("\nNote: ")
		sb.WriteString(g)
	}
	sb.WriteString("\n")

	return sb.String()
}

// composeDirectAnswer joins successful results verbatim. It is the
// deterministic path when no synthesis model can be reached.
func composeDirectAnswer(s *runState) string {
	var parts []string
	for _, rec := range s.history {
		if rec.OK && strings.TrimSpace(rec.Content) != "" {
			parts = append(parts, strings.TrimSpace(rec.Content))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}

	var failed []string
	for _, rec := range s.history {
		if !rec.OK {
			failed = append(failed, rec.ToolID)
		}
	}
	if len(failed) > 0 {
		return fmt.Sprintf("I could not gather the information needed to answer this: %s did not return a result. Please try again later or contact HR directly.", strings.Join(failed, ", "))
	}
	return "I could not find information relevant to this question. Please rephrase it or contact HR directly."
}

// Phrases that signal the model could not ground its answer.
var hedgePhrases = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"cannot determine",
	"no information available",
	"unable to find",
}

// answerConfidence blends the evidence score with checks on the answer text.
// A hedging or skimpy answer scores below the evidence alone.
func answerConfidence(history []HistoryRecord, answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0.05
	}
	conf := historyConfidence(history)
	if len([]rune(trimmed)) < 40 {
		conf -= 0.15
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			conf -= 0.1
		}
	}
	return clamp(conf, 0.05, 0.95)
}
