// Package gateway is the single entry point for model calls. It layers
// response caching, retry with exponential backoff, per-backend circuit
// breakers and usage metrics over the configured adapters.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/concierge/pkg/adapter"
	"github.com/zen-systems/concierge/pkg/config"
)

// Gateway mediates every model invocation.
type Gateway struct {
	cfg      *config.AssistantConfig
	adapters map[string]adapter.Adapter
	cache    Cache
	breakers *BreakerRegistry
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache sets the response cache. The default is an in-process cache.
func WithCache(c Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithClock sets the time source used for cache expiry and breaker
// cooldowns.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway over the configured adapters.
func New(cfg *config.AssistantConfig, adapters map[string]adapter.Adapter, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		adapters: adapters,
		cache:    NewMemoryCache(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gateway").Logger()
	g.breakers = NewBreakerRegistry(BreakerConfig{
		FailureThreshold: cfg.Gateway.BreakerThreshold,
		Cooldown:         cfg.Gateway.BreakerCooldown(),
	}, g.now, g.logger)
	g.metrics = NewMetrics(cfg.Pricing)
	return g
}

// Reply is a completed gateway call.
type Reply struct {
	Text     string        `json:"text"`
	Backend  string        `json:"backend"`
	Model    string        `json:"model"`
	Usage    adapter.Usage `json:"usage"`
	Cached   bool          `json:"cached"`
	Attempts int           `json:"attempts"`
	CostUSD  float64       `json:"cost_usd"`
}

type callSettings struct {
	mc      config.ModelConfig
	ttl     time.Duration
	noCache bool
}

// CallOption overrides the resolved model target for one call.
type CallOption func(*callSettings)

// WithBackend overrides the backend.
func WithBackend(backend string) CallOption {
	return func(s *callSettings) { s.mc.Backend = backend }
}

// WithModel overrides the model.
func WithModel(model string) CallOption {
	return func(s *callSettings) { s.mc.Model = model }
}

// WithMaxTokens overrides the completion token limit.
func WithMaxTokens(n int) CallOption {
	return func(s *callSettings) { s.mc.MaxTokens = n }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(s *callSettings) { s.mc.Temperature = t }
}

// WithTTL overrides the cache TTL for this call.
func WithTTL(ttl time.Duration) CallOption {
	return func(s *callSettings) { s.ttl = ttl }
}

// WithoutCache bypasses the cache for this call, read and write.
func WithoutCache() CallOption {
	return func(s *callSettings) { s.noCache = true }
}

// SendPrompt resolves the model target for a task category and executes
// the call through cache, breaker and retry policy. Identical prompts
// within the TTL are served from cache without touching the backend.
func (g *Gateway) SendPrompt(ctx context.Context, category, prompt string, opts ...CallOption) (*Reply, error) {
	settings := callSettings{
		mc:  g.cfg.ModelFor(category),
		ttl: g.cfg.Gateway.CacheTTL(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	mc := settings.mc
	mc.Model = g.cfg.Resolve(mc.Model)

	key := cacheKey(category, mc, prompt)
	if !settings.noCache {
		if entry, ok := g.cache.Get(key); ok {
			if g.now().Before(entry.ExpiresAt) {
				g.metrics.recordCacheHit()
				g.logger.Debug().Str("category", category).Str("backend", entry.Backend).Msg("cache hit")
				return &Reply{
					Text:    entry.Text,
					Backend: entry.Backend,
					Model:   entry.Model,
					Usage:   entry.Usage,
					Cached:  true,
				}, nil
			}
			g.cache.Delete(key)
		}
		g.metrics.recordCacheMiss()
	}

	backend, ok := g.adapters[mc.Backend]
	if !ok {
		return nil, fmt.Errorf("backend %s not configured", mc.Backend)
	}

	br := g.breakers.Get(mc.Backend)
	if !br.Allow() {
		g.metrics.recordRejection()
		return nil, &CircuitOpenError{Backend: mc.Backend, RetryAt: br.RetryAt()}
	}

	attempts := g.cfg.Gateway.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	// A half-open breaker admits exactly one trial call.
	if br.State() == BreakerHalfOpen {
		attempts = 1
	}

	if mc.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(mc.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	req := adapter.Request{
		Model:       mc.Model,
		Prompt:      prompt,
		MaxTokens:   mc.MaxTokens,
		Temperature: mc.Temperature,
	}

	start := g.now()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := backend.Generate(ctx, req)
		if err == nil {
			usage := adapter.NormalizeUsage(resp.Usage)
			br.RecordSuccess()
			cost := g.metrics.recordSuccess(mc.Backend, mc.Model, usage, g.now().Sub(start))

			if !settings.noCache {
				entry := &CacheEntry{
					Key:       key,
					Category:  category,
					Backend:   mc.Backend,
					Model:     mc.Model,
					Text:      resp.Text,
					Usage:     usage,
					CreatedAt: g.now(),
					ExpiresAt: g.now().Add(settings.ttl),
				}
				if err := g.cache.Put(entry); err != nil {
					g.logger.Warn().Err(err).Str("backend", mc.Backend).Msg("cache write failed")
				}
			}

			g.logger.Debug().
				Str("category", category).
				Str("backend", mc.Backend).
				Str("model", mc.Model).
				Int("attempts", attempt+1).
				Msg("prompt completed")
			return &Reply{
				Text:     resp.Text,
				Backend:  mc.Backend,
				Model:    mc.Model,
				Usage:    usage,
				Attempts: attempt + 1,
				CostUSD:  cost,
			}, nil
		}

		lastErr = err
		if !adapter.IsTransient(err) || attempt == attempts-1 {
			break
		}

		g.metrics.recordRetry()
		backoff := computeBackoff(g.cfg.Gateway.BaseBackoff(), g.cfg.Gateway.MaxBackoff(), attempt)
		g.logger.Debug().
			Str("backend", mc.Backend).
			Dur("backoff", backoff).
			Int("attempt", attempt+1).
			Msg("transient failure, backing off")
		if err := sleepWithContext(ctx, backoff); err != nil {
			// Cancellation is not a backend failure; the breaker stays put.
			g.metrics.recordFailure(mc.Backend, g.now().Sub(start))
			return nil, err
		}
	}

	// Retry exhaustion counts as one logical failure toward the breaker.
	br.RecordFailure()
	g.metrics.recordFailure(mc.Backend, g.now().Sub(start))
	g.logger.Warn().Err(lastErr).Str("backend", mc.Backend).Msg("prompt failed")
	return nil, fmt.Errorf("backend %s failed: %w", mc.Backend, lastErr)
}

// GetStats returns a read-only snapshot of gateway activity.
func (g *Gateway) GetStats() Stats {
	stats := g.metrics.Snapshot()
	stats.Breakers = g.breakers.AllStats()
	return stats
}

// cacheKey hashes everything that affects the response.
func cacheKey(category string, mc config.ModelConfig, prompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%g|", category, mc.Backend, mc.Model, mc.MaxTokens, mc.Temperature)
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// computeBackoff doubles the base interval per attempt, capped at max.
func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// sleepWithContext waits for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
