// Package engine runs the plan, select, execute, reflect loop behind every
// specialist handler. A run walks explicit phases, records every tool call
// as data, and always terminates with a synthesized answer inside the
// iteration budget.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/gateway"
	"github.com/zen-systems/concierge/pkg/tool"
)

const defaultMaxIterations = 5

// PromptSender is the slice of the model gateway the engine depends on.
// *gateway.Gateway satisfies it.
type PromptSender interface {
	SendPrompt(ctx context.Context, category, prompt string, opts ...gateway.CallOption) (*gateway.Reply, error)
}

// Engine drives tool runs for one specialist. It holds no per-run state, so
// a single Engine serves concurrent runs.
type Engine struct {
	tools             *tool.Registry
	gateway           PromptSender
	logger            zerolog.Logger
	maxIterations     int
	fallbackCutoff    float64
	sufficiencyCutoff float64
	fallbackTool      string
	decorators        []AnswerDecorator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxIterations sets the default iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// WithFallbackTool names the tool reflection may force when confidence drops.
// An empty id disables the fallback.
func WithFallbackTool(id string) Option {
	return func(e *Engine) { e.fallbackTool = id }
}

// WithDecorators appends answer decorators, applied in order after synthesis.
func WithDecorators(ds ...AnswerDecorator) Option {
	return func(e *Engine) { e.decorators = append(e.decorators, ds...) }
}

// New builds an Engine over a closed tool registry.
func New(cfg config.EngineConfig, tools *tool.Registry, sender PromptSender, opts ...Option) *Engine {
	e := &Engine{
		tools:             tools,
		gateway:           sender,
		logger:            zerolog.Nop(),
		maxIterations:     cfg.MaxIterations,
		fallbackCutoff:    cfg.FallbackCutoff,
		sufficiencyCutoff: cfg.SufficiencyCutoff,
		fallbackTool:      tool.SearchToolID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxIterations <= 0 {
		e.maxIterations = defaultMaxIterations
	}
	if e.fallbackCutoff <= 0 {
		e.fallbackCutoff = 0.4
	}
	if e.sufficiencyCutoff <= 0 {
		e.sufficiencyCutoff = 0.7
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()
	return e
}

// Request is one question for the engine.
type Request struct {
	Query string
	User  tool.User
	// Topic steers planning when known; empty means unclassified.
	Topic string
	// MaxIterations overrides the engine ceiling when positive.
	MaxIterations int
	// ForcedTool, when set, is consumed before the first plan step.
	ForcedTool string
}

// Result is the outcome of a run. Runs always produce one; tool failures and
// exhausted budgets shape the answer instead of aborting it.
type Result struct {
	Answer          string          `json:"answer"`
	Sources         []string        `json:"sources,omitempty"`
	Confidence      float64         `json:"confidence"`
	ToolsUsed       []string        `json:"tools_used,omitempty"`
	Iterations      int             `json:"iterations"`
	BudgetExhausted bool            `json:"budget_exhausted,omitempty"`
	History         []HistoryRecord `json:"history,omitempty"`
	Trace           []TraceStep     `json:"trace,omitempty"`
	Elapsed         time.Duration   `json:"elapsed"`
}

// Run answers one request. It never returns an error; whatever goes wrong
// along the way becomes part of the answer and the trace.
func (e *Engine) Run(ctx context.Context, req Request) *Result {
	started := time.Now()
	s := newRunState(req, e.maxIterations)

	e.logger.Info().
		Str("topic", s.topic).
		Int("max_iterations", s.maxIterations).
		Msg("run started")

	s.plan = e.buildPlan(ctx, s)
	s.addTrace(phasePlanning, planNote(s.plan))

	ph := phaseSelecting
	for ph != phaseFinishing {
		switch ph {
		case phaseSelecting:
			ph = e.selectNextTool(s)
		case phaseExecuting:
			ph = e.executeTool(ctx, s)
		case phaseReflecting:
			ph = e.reflect(s)
		}
	}

	result := e.finish(ctx, s)
	result.Elapsed = time.Since(started)

	e.logger.Info().
		Int("iterations", result.Iterations).
		Float64("confidence", result.Confidence).
		Bool("budget_exhausted", result.BudgetExhausted).
		Msg("run finished")
	return result
}

func newRunState(req Request, ceiling int) *runState {
	if req.MaxIterations > 0 {
		ceiling = req.MaxIterations
	}
	return &runState{
		query:         req.Query,
		user:          req.User,
		topic:         req.Topic,
		maxIterations: ceiling,
		forcedTool:    req.ForcedTool,
	}
}

func planNote(plan []PlanStep) string {
	if len(plan) == 0 {
		return "plan: (empty)"
	}
	ids := make([]string, len(plan))
	for i, step := range plan {
		ids[i] = step.Tool
	}
	return "plan: " + strings.Join(ids, ", ")
}

// selectNextTool picks the next tool. A pending override is consumed first
// and cleared immediately; otherwise the plan advances one step.
func (e *Engine) selectNextTool(s *runState) phase {
	if s.forcedTool != "" {
		s.selected = s.forcedTool
		s.forcedTool = ""
		s.addTrace(phaseSelecting, "forced "+s.selected)
		return phaseExecuting
	}
	if s.planExhausted() {
		s.addTrace(phaseSelecting, "plan exhausted")
		return phaseFinishing
	}
	step := s.plan[s.planIndex]
	s.planIndex++
	s.selected = step.Tool
	note := "selected " + step.Tool
	if step.Goal != "" {
		note += " (" + step.Goal + ")"
	}
	s.addTrace(phaseSelecting, note)
	return phaseExecuting
}

// executeTool invokes the selected tool and records the outcome. A failed
// call is a history record, never an abort.
func (e *Engine) executeTool(ctx context.Context, s *runState) phase {
	toolID := s.selected
	s.selected = ""

	started := time.Now()
	var res *tool.Result
	if t, ok := e.tools.Get(toolID); ok {
		res = t.Invoke(ctx, tool.Input{Query: s.query, User: s.user, Topic: s.topic})
	} else {
		res = tool.Failuref(toolID, "tool %s is not registered", toolID)
	}
	elapsed := time.Since(started)

	s.iteration++
	rec := HistoryRecord{
		Iteration: s.iteration,
		ToolID:    toolID,
		OK:        res.OK,
		Content:   res.Content,
		Sources:   res.Sources,
		Duration:  elapsed,
	}
	if res.Err != nil {
		rec.Error = res.Err.Reason
	}
	s.history = append(s.history, rec)

	if rec.OK {
		s.addTrace(phaseExecuting, fmt.Sprintf("%s ok (%d sources)", toolID, len(rec.Sources)))
	} else {
		s.addTrace(phaseExecuting, fmt.Sprintf("%s failed: %s", toolID, rec.Error))
		if g := guidanceFor(rec); g != "" {
			s.guidance = append(s.guidance, g)
		}
	}

	e.logger.Debug().
		Str("tool", toolID).
		Bool("ok", rec.OK).
		Dur("duration", elapsed).
		Msg("tool executed")

	return e.shouldContinue(s)
}

// shouldContinue routes after execution: finish when nothing remains or the
// ceiling is hit, reflect otherwise.
func (e *Engine) shouldContinue(s *runState) phase {
	if !s.budgetLeft() {
		if !s.planExhausted() || s.forcedTool != "" {
			s.budgetExhausted = true
			s.addTrace(phaseExecuting, "iteration ceiling reached with steps remaining")
		}
		return phaseFinishing
	}
	if s.planExhausted() && s.forcedTool == "" {
		return phaseFinishing
	}
	return phaseReflecting
}

// reflect applies one reflection verdict to the loop.
func (e *Engine) reflect(s *runState) phase {
	v := e.reflectVerdict(s)
	s.confidence = v.Confidence
	s.addTrace(phaseReflecting, v.Note)

	if v.Kind == VerdictFinish {
		return phaseFinishing
	}
	if v.ForcedTool != "" {
		s.forcedTool = v.ForcedTool
		s.fallbackUsed = true
	}
	return e.shouldIterate(s)
}

// shouldIterate routes after reflection: select again only while steps or an
// override remain and the budget allows it.
func (e *Engine) shouldIterate(s *runState) phase {
	if !s.budgetLeft() {
		if !s.planExhausted() || s.forcedTool != "" {
			s.budgetExhausted = true
		}
		return phaseFinishing
	}
	if s.planExhausted() && s.forcedTool == "" {
		return phaseFinishing
	}
	return phaseSelecting
}
