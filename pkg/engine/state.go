package engine

import (
	"time"

	"github.com/zen-systems/concierge/pkg/tool"
)

type phase int

const (
	phasePlanning phase = iota
	phaseSelecting
	phaseExecuting
	phaseReflecting
	phaseFinishing
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phasePlanning:
		return "planning"
	case phaseSelecting:
		return "selecting"
	case phaseExecuting:
		return "executing"
	case phaseReflecting:
		return "reflecting"
	case phaseFinishing:
		return "finishing"
	case phaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// PlanStep is one advisory step of a handler plan.
type PlanStep struct {
	Tool string `json:"tool"`
	Goal string `json:"goal,omitempty"`
}

// HistoryRecord is one executed tool call. Failures are recorded, never
// raised.
type HistoryRecord struct {
	Iteration int           `json:"iteration"`
	ToolID    string        `json:"tool_id"`
	OK        bool          `json:"ok"`
	Content   string        `json:"content,omitempty"`
	Sources   []string      `json:"sources,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// TraceStep is one reasoning trace entry.
type TraceStep struct {
	Phase string `json:"phase"`
	Note  string `json:"note"`
}

// runState is the explicit state threaded through the phases. Each phase
// receives it, updates it, and returns the next phase; nothing is shared
// across runs.
type runState struct {
	query         string
	user          tool.User
	topic         string
	maxIterations int

	plan       []PlanStep
	planIndex  int
	forcedTool string
	selected   string

	iteration    int
	history      []HistoryRecord
	confidence   float64
	guidance     []string
	fallbackUsed bool

	trace           []TraceStep
	budgetExhausted bool
}

func (s *runState) planExhausted() bool {
	return s.planIndex >= len(s.plan)
}

func (s *runState) budgetLeft() bool {
	return s.iteration < s.maxIterations
}

func (s *runState) addTrace(p phase, note string) {
	s.trace = append(s.trace, TraceStep{Phase: p.String(), Note: note})
}

func (s *runState) toolsUsed() []string {
	var used []string
	seen := make(map[string]bool)
	for _, rec := range s.history {
		if !seen[rec.ToolID] {
			seen[rec.ToolID] = true
			used = append(used, rec.ToolID)
		}
	}
	return used
}

func (s *runState) invoked(toolID string) bool {
	for _, rec := range s.history {
		if rec.ToolID == toolID {
			return true
		}
	}
	return false
}

// distinctSources unions the sources of successful calls, first seen
// order preserved.
func (s *runState) distinctSources() []string {
	var sources []string
	seen := make(map[string]bool)
	for _, rec := range s.history {
		if !rec.OK {
			continue
		}
		for _, src := range rec.Sources {
			if !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
		}
	}
	return sources
}
