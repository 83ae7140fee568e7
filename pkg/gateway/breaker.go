package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state for one backend.
type BreakerState int

const (
	// BreakerClosed is the normal state, calls flow through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen admits exactly one trial call.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures breaker behavior. Failures are logical: one
// fully retried and exhausted call counts once.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig returns the standard breaker policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// Breaker tracks failures for one backend.
type Breaker struct {
	backend string
	config  BreakerConfig
	now     func() time.Time
	logger  zerolog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	probing     bool
	lastFailure time.Time
	lastChange  time.Time
}

// NewBreaker creates a breaker for a named backend.
func NewBreaker(backend string, cfg BreakerConfig, now func() time.Time, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		backend:    backend,
		config:     cfg,
		now:        now,
		logger:     logger,
		state:      BreakerClosed,
		lastChange: now(),
	}
}

// Allow reports whether a call may proceed. When the cooldown of an open
// breaker has elapsed, the breaker moves to half-open and admits the
// caller as the single trial; further callers are rejected until the
// trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if b.now().Sub(b.lastChange) >= b.config.Cooldown {
			b.transitionTo(BreakerHalfOpen)
			b.probing = true
			return true
		}
		return false

	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true

	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state == BreakerHalfOpen {
		b.transitionTo(BreakerClosed)
	}
}

// RecordFailure counts one logical failure. The breaker opens at the
// threshold, and a failed half-open trial reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	b.lastFailure = b.now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAt returns the earliest time an open breaker admits a trial.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return b.now()
	}
	return b.lastChange.Add(b.config.Cooldown)
}

// Stats returns a point-in-time view of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		Backend:         b.backend,
		State:           b.state.String(),
		Failures:        b.failures,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastChange,
	}
}

// BreakerStats is a read-only breaker snapshot.
type BreakerStats struct {
	Backend         string    `json:"backend"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

// transitionTo changes state. Callers must hold the lock.
func (b *Breaker) transitionTo(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastChange = b.now()
	if next == BreakerClosed {
		b.failures = 0
	}
	b.logger.Info().
		Str("backend", b.backend).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("circuit breaker state changed")
}

// BreakerRegistry holds one breaker per backend.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewBreakerRegistry creates a registry sharing one config and clock.
func NewBreakerRegistry(cfg BreakerConfig, now func() time.Time, logger zerolog.Logger) *BreakerRegistry {
	if now == nil {
		now = time.Now
	}
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
		now:      now,
		logger:   logger,
	}
}

// Get returns the breaker for a backend, creating it on first use.
func (r *BreakerRegistry) Get(backend string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[backend]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[backend]; ok {
		return b
	}
	b = NewBreaker(backend, r.config, r.now, r.logger)
	r.breakers[backend] = b
	return b
}

// AllStats returns snapshots for all breakers, ordered by backend.
func (r *BreakerRegistry) AllStats() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Backend < stats[j].Backend })
	return stats
}
