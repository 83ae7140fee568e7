package engine

import (
	"fmt"
	"strings"
)

// VerdictKind tags a reflection verdict.
type VerdictKind int

const (
	// VerdictContinue keeps the loop going, optionally forcing a tool.
	VerdictContinue VerdictKind = iota
	// VerdictFinish moves to answer synthesis.
	VerdictFinish
)

// Verdict is the outcome of one reflection pass. Reflection returns its
// decision as a value; it never mutates the loop from the side.
type Verdict struct {
	Kind       VerdictKind
	ForcedTool string // set only with VerdictContinue
	Confidence float64
	Note       string
}

// reflectVerdict scores the evidence gathered so far and decides how to
// proceed. A low score may force the fallback tool, at most once per run;
// a score past the sufficiency cutoff finishes early.
func (e *Engine) reflectVerdict(s *runState) Verdict {
	conf := historyConfidence(s.history)

	last := s.history[len(s.history)-1]
	note := fmt.Sprintf("confidence %.2f after %s", conf, last.ToolID)

	if conf < e.fallbackCutoff && !s.fallbackUsed && e.fallbackTool != "" && !s.invoked(e.fallbackTool) {
		if _, ok := e.tools.Get(e.fallbackTool); ok {
			return Verdict{
				Kind:       VerdictContinue,
				ForcedTool: e.fallbackTool,
				Confidence: conf,
				Note:       fmt.Sprintf("%s; forcing %s", note, e.fallbackTool),
			}
		}
	}

	if conf >= e.sufficiencyCutoff {
		return Verdict{Kind: VerdictFinish, Confidence: conf, Note: note + "; sufficient"}
	}
	if s.planExhausted() {
		return Verdict{Kind: VerdictFinish, Confidence: conf, Note: note}
	}
	return Verdict{Kind: VerdictContinue, Confidence: conf, Note: note}
}

// historyConfidence scores gathered evidence. Sourced results count most,
// failures pull the score down.
func historyConfidence(history []HistoryRecord) float64 {
	conf := 0.3
	for _, rec := range history {
		switch {
		case rec.OK && len(rec.Sources) > 0:
			conf += 0.25
		case rec.OK:
			conf += 0.1
		default:
			conf -= 0.1
		}
	}
	return clamp(conf, 0.05, 0.95)
}

// guidanceFor converts a failed tool call into a synthesis instruction,
// so the final answer works around the gap instead of echoing it.
func guidanceFor(rec HistoryRecord) string {
	if rec.OK {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s was unavailable (%s). ", rec.ToolID, rec.Error)
	sb.WriteString("Answer from the remaining information and say what could not be checked.")
	return sb.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
