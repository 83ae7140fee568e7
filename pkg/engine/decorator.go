package engine

import "strings"

// Answer is the payload passed through the decorator chain.
type Answer struct {
	Text       string
	Sources    []string
	Confidence float64
}

// AnswerDecorator rewrites a finished answer. Decorators are plain values
// applied in order by the finishing phase; they shape the payload and never
// steer the loop.
type AnswerDecorator interface {
	Decorate(Answer) Answer
}

// NoticeDecorator appends a fixed notice to every answer.
type NoticeDecorator struct {
	Notice string
}

// Decorate appends the notice below the answer text.
func (d NoticeDecorator) Decorate(a Answer) Answer {
	if strings.TrimSpace(d.Notice) == "" {
		return a
	}
	a.Text = strings.TrimRight(a.Text, "\n") + "\n\n" + d.Notice
	return a
}

// SourceFooterDecorator lists the answer's sources under the text.
type SourceFooterDecorator struct{}

// Decorate appends a source list when the answer has any.
func (SourceFooterDecorator) Decorate(a Answer) Answer {
	if len(a.Sources) == 0 {
		return a
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(a.Text, "\n"))
	sb.WriteString("\n\nSources:\n")
	for _, src := range a.Sources {
		sb.WriteString("- ")
		sb.WriteString(src)
		sb.WriteString("\n")
	}
	a.Text = strings.TrimRight(sb.String(), "\n")
	return a
}

// LowConfidenceDecorator flags answers scoring below a cutoff.
type LowConfidenceDecorator struct {
	// Cutoff defaults to 0.4 when unset.
	Cutoff float64
}

// Decorate appends a verification note to low scoring answers.
func (d LowConfidenceDecorator) Decorate(a Answer) Answer {
	cutoff := d.Cutoff
	if cutoff <= 0 {
		cutoff = 0.4
	}
	if a.Confidence >= cutoff {
		return a
	}
	a.Text = strings.TrimRight(a.Text, "\n") + "\n\nThis answer is low confidence. Please verify with HR before acting on it."
	return a
}
