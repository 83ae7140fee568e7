// Package router classifies incoming queries and dispatches them to
// specialist handlers. Classification is keyword table first with a model
// fallback; dispatch is permission checked and fans out concurrently when a
// query carries more than one intent.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/engine"
	"github.com/zen-systems/concierge/pkg/tool"
	"github.com/zen-systems/concierge/pkg/trace"
)

// Request is one user query with its requester.
type Request struct {
	Query string
	User  tool.User
}

// Response is the router's reply. Confidence carries the classification
// confidence; AnswerConfidence carries the handlers' own estimate.
type Response struct {
	Intents          []string      `json:"intents"`
	Answer           string        `json:"answer"`
	Sources          []string      `json:"sources,omitempty"`
	Confidence       float64       `json:"confidence"`
	AnswerConfidence float64       `json:"answer_confidence,omitempty"`
	Clarification    bool          `json:"clarification,omitempty"`
	ToolsUsed        []string      `json:"tools_used,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Intent returns the primary intent label.
func (r *Response) Intent() string {
	if len(r.Intents) == 0 {
		return IntentUnclear
	}
	return r.Intents[0]
}

// HandlerResult pairs a dispatched intent with its handler's run result.
// Confidence is the classification confidence that routed the intent.
type HandlerResult struct {
	Intent     string
	Confidence float64
	Result     *engine.Result
}

// Router owns classification, permissions, and dispatch. Its only
// cross-call state is the lazily built handler cache.
type Router struct {
	cfg        *config.AssistantConfig
	classifier *Classifier
	factory    HandlerFactory
	scope      ScopeFilter
	recorder   trace.Recorder
	logger     zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithScopeFilter sets the data-scope filter applied to handler results.
func WithScopeFilter(f ScopeFilter) Option {
	return func(r *Router) { r.scope = f }
}

// WithRecorder sets the audit recorder for finished runs.
func WithRecorder(rec trace.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// New builds a router. sender backs the classification fallback; factory
// builds one handler per intent on first dispatch.
func New(cfg *config.AssistantConfig, sender engine.PromptSender, factory HandlerFactory, opts ...Option) *Router {
	r := &Router{
		cfg:      cfg,
		factory:  factory,
		scope:    PassthroughScope{},
		recorder: trace.NopRecorder{},
		logger:   zerolog.Nop(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.classifier = NewClassifier(&cfg.Router, sender, r.logger)
	r.logger = r.logger.With().Str("component", "router").Logger()
	return r
}

// Ask classifies, permission-checks, and dispatches one query. The returned
// error is a *PermissionDeniedError when every classified intent is denied;
// handler-level trouble is absorbed into the response instead.
func (r *Router) Ask(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	cls := r.classifier.ClassifyIntent(ctx, req.Query)
	top := cls.Top()
	r.logger.Debug().
		Strs("intents", cls.Labels()).
		Float64("confidence", top.Confidence).
		Bool("used_model", cls.UsedModel).
		Msg("query classified")

	if top.Label == IntentUnclear || top.Confidence < r.cfg.Router.ClarifyThreshold {
		resp := r.clarify(cls)
		resp.Elapsed = time.Since(started)
		return resp, nil
	}

	allowed := make([]Intent, 0, len(cls.Intents))
	for _, intent := range cls.Intents {
		if CheckPermission(r.cfg.Router.Permissions, req.User.Role, intent.Label) {
			allowed = append(allowed, intent)
		}
	}
	if len(allowed) == 0 {
		r.logger.Info().Str("role", req.User.Role).Strs("intents", cls.Labels()).Msg("permission denied")
		return nil, &PermissionDeniedError{Intent: top.Label}
	}

	var results []HandlerResult
	if len(allowed) == 1 {
		hr, err := r.Dispatch(ctx, allowed[0], req)
		if err != nil {
			return nil, err
		}
		results = []HandlerResult{*hr}
	} else {
		results = r.HandleMultiIntent(ctx, allowed, req)
	}

	if len(results) == 0 {
		resp := &Response{
			Intents:    labelsOf(allowed),
			Answer:     "The request could not be completed in time. Please try again.",
			Confidence: meanIntentConfidence(allowed),
		}
		resp.Elapsed = time.Since(started)
		return resp, nil
	}

	resp := r.MergeResponses(results)
	resp.Elapsed = time.Since(started)
	return resp, nil
}

// Dispatch resolves the intent's handler, runs it, and returns the result
// unchanged apart from scope filtering.
func (r *Router) Dispatch(ctx context.Context, intent Intent, req Request) (*HandlerResult, error) {
	h, err := r.handlerFor(intent.Label)
	if err != nil {
		return nil, err
	}

	res := h.Handle(ctx, req.Query, req.User)
	res = r.scope.FilterResult(req.User, intent.Label, res)
	r.emitRecord(req, intent.Label, res)

	return &HandlerResult{Intent: intent.Label, Confidence: intent.Confidence, Result: res}, nil
}

// HandleMultiIntent dispatches each permitted intent concurrently and
// gathers the results in intent order. Handlers run on independent state;
// results missing when the gather timeout fires are dropped, not fatal.
func (r *Router) HandleMultiIntent(ctx context.Context, intents []Intent, req Request) []HandlerResult {
	var permitted []Intent
	for _, intent := range intents {
		if CheckPermission(r.cfg.Router.Permissions, req.User.Role, intent.Label) {
			permitted = append(permitted, intent)
		}
	}
	if len(permitted) == 0 {
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, r.cfg.Router.DispatchTimeout())
	defer cancel()

	slots := make([]*HandlerResult, len(permitted))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, intent := range permitted {
		wg.Add(1)
		go func(i int, intent Intent) {
			defer wg.Done()
			hr, err := r.Dispatch(dispatchCtx, intent, req)
			if err != nil {
				r.logger.Warn().Err(err).Str("intent", intent.Label).Msg("dispatch failed")
				return
			}
			mu.Lock()
			slots[i] = hr
			mu.Unlock()
		}(i, intent)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-dispatchCtx.Done():
		r.logger.Warn().Msg("dispatch gather timed out, returning partial results")
	}

	mu.Lock()
	defer mu.Unlock()
	var results []HandlerResult
	for _, hr := range slots {
		if hr != nil {
			results = append(results, *hr)
		}
	}
	return results
}

// MergeResponses folds handler results into one response: distinct answers
// concatenated (numbered when more than one), sources unioned without
// duplicates, confidences averaged.
func (r *Router) MergeResponses(results []HandlerResult) *Response {
	resp := &Response{}

	var answers []string
	seenAnswers := make(map[string]bool)
	seenSources := make(map[string]bool)
	seenTools := make(map[string]bool)
	var confSum, answerConfSum float64

	for _, hr := range results {
		resp.Intents = append(resp.Intents, hr.Intent)
		confSum += hr.Confidence
		if hr.Result == nil {
			continue
		}
		answerConfSum += hr.Result.Confidence

		if answer := strings.TrimSpace(hr.Result.Answer); answer != "" && !seenAnswers[answer] {
			seenAnswers[answer] = true
			answers = append(answers, answer)
		}
		for _, src := range hr.Result.Sources {
			if !seenSources[src] {
				seenSources[src] = true
				resp.Sources = append(resp.Sources, src)
			}
		}
		for _, id := range hr.Result.ToolsUsed {
			if !seenTools[id] {
				seenTools[id] = true
				resp.ToolsUsed = append(resp.ToolsUsed, id)
			}
		}
	}

	switch len(answers) {
	case 0:
		resp.Answer = "No answer could be produced for this request."
	case 1:
		resp.Answer = answers[0]
	default:
		var sb strings.Builder
		for i, answer := range answers {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "%d. %s", i+1, answer)
		}
		resp.Answer = sb.String()
	}

	if len(results) > 0 {
		resp.Confidence = confSum / float64(len(results))
		resp.AnswerConfidence = answerConfSum / float64(len(results))
	}
	return resp
}

// clarify builds the response returned instead of dispatching a guess.
func (r *Router) clarify(cls *Classification) *Response {
	top := cls.Top()

	var question string
	if top.Label != IntentUnclear {
		question = fmt.Sprintf("I think this is about %s but I am not certain. Could you rephrase with a bit more detail?", top.Label)
	} else {
		question = fmt.Sprintf("Could you say a bit more about what you need? I can help with %s.",
			strings.Join(r.cfg.IntentLabels(), ", "))
	}

	return &Response{
		Intents:       []string{top.Label},
		Answer:        question,
		Confidence:    top.Confidence,
		Clarification: true,
	}
}

func (r *Router) handlerFor(label string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[label]; ok {
		return h, nil
	}
	h, err := r.factory(label)
	if err != nil {
		return nil, err
	}
	r.handlers[label] = h
	return h, nil
}

func (r *Router) emitRecord(req Request, intent string, res *engine.Result) {
	if res == nil {
		return
	}
	rec := trace.RunRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Query:      req.Query,
		QueryHash:  trace.HashQuery(req.Query),
		UserID:     req.User.ID,
		Role:       req.User.Role,
		Intent:     intent,
		Answer:     res.Answer,
		Confidence: res.Confidence,
		Sources:    res.Sources,
		Iterations: res.Iterations,
		Elapsed:    res.Elapsed,
	}
	for _, h := range res.History {
		rec.Tools = append(rec.Tools, trace.ToolEvent{
			Iteration: h.Iteration,
			ToolID:    h.ToolID,
			OK:        h.OK,
			Error:     h.Error,
			Sources:   h.Sources,
			Duration:  h.Duration,
		})
	}
	for _, step := range res.Trace {
		rec.Steps = append(rec.Steps, trace.Step{Phase: step.Phase, Note: step.Note})
	}
	if err := r.recorder.Record(rec); err != nil {
		r.logger.Warn().Err(err).Msg("run record not persisted")
	}
}

func labelsOf(intents []Intent) []string {
	labels := make([]string, len(intents))
	for i, intent := range intents {
		labels[i] = intent.Label
	}
	return labels
}

func meanIntentConfidence(intents []Intent) float64 {
	if len(intents) == 0 {
		return 0
	}
	var sum float64
	for _, intent := range intents {
		sum += intent.Confidence
	}
	return sum / float64(len(intents))
}
