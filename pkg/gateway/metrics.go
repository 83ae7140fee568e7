package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zen-systems/concierge/pkg/adapter"
	"github.com/zen-systems/concierge/pkg/config"
)

// Metrics collects gateway counters. Counters use atomics; per-backend
// aggregates are guarded by a mutex.
type Metrics struct {
	totalCalls        int64
	totalErrors       int64
	cacheHits         int64
	cacheMisses       int64
	breakerRejections int64
	retries           int64

	mu       sync.RWMutex
	backends map[string]*backendAggregate
	pricing  config.PricingConfig
}

type backendAggregate struct {
	calls        int64
	errors       int64
	usage        adapter.Usage
	costUSD      float64
	totalLatency time.Duration
}

// NewMetrics creates a metrics collector with the given pricing table.
func NewMetrics(pricing config.PricingConfig) *Metrics {
	return &Metrics{
		backends: make(map[string]*backendAggregate),
		pricing:  pricing,
	}
}

func (m *Metrics) recordCacheHit()  { atomic.AddInt64(&m.cacheHits, 1) }
func (m *Metrics) recordCacheMiss() { atomic.AddInt64(&m.cacheMisses, 1) }
func (m *Metrics) recordRejection() { atomic.AddInt64(&m.breakerRejections, 1) }
func (m *Metrics) recordRetry()     { atomic.AddInt64(&m.retries, 1) }

// recordSuccess counts a completed backend call and returns its
// estimated cost.
func (m *Metrics) recordSuccess(backend, model string, usage adapter.Usage, latency time.Duration) float64 {
	atomic.AddInt64(&m.totalCalls, 1)
	cost, _ := estimateCost(m.pricing, backend, model, usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	agg := m.aggregate(backend)
	agg.calls++
	agg.usage = adapter.AddUsage(agg.usage, usage)
	agg.costUSD += cost
	agg.totalLatency += latency
	return cost
}

// recordFailure counts a call that exhausted its attempts.
func (m *Metrics) recordFailure(backend string, latency time.Duration) {
	atomic.AddInt64(&m.totalCalls, 1)
	atomic.AddInt64(&m.totalErrors, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	agg := m.aggregate(backend)
	agg.calls++
	agg.errors++
	agg.totalLatency += latency
}

// aggregate returns the aggregate for a backend. Callers must hold the lock.
func (m *Metrics) aggregate(backend string) *backendAggregate {
	agg, ok := m.backends[backend]
	if !ok {
		agg = &backendAggregate{}
		m.backends[backend] = agg
	}
	return agg
}

// BackendStats is a read-only per-backend aggregate.
type BackendStats struct {
	Calls        int64         `json:"calls"`
	Errors       int64         `json:"errors"`
	Usage        adapter.Usage `json:"usage"`
	CostUSD      float64       `json:"cost_usd"`
	AvgLatencyMs int64         `json:"avg_latency_ms"`
}

// Stats is a read-only snapshot of gateway activity.
type Stats struct {
	TotalCalls        int64                   `json:"total_calls"`
	TotalErrors       int64                   `json:"total_errors"`
	CacheHits         int64                   `json:"cache_hits"`
	CacheMisses       int64                   `json:"cache_misses"`
	BreakerRejections int64                   `json:"breaker_rejections"`
	Retries           int64                   `json:"retries"`
	TotalCostUSD      float64                 `json:"total_cost_usd"`
	TotalUsage        adapter.Usage           `json:"total_usage"`
	Backends          map[string]BackendStats `json:"backends"`
	Breakers          []BreakerStats          `json:"breakers,omitempty"`
}

// Snapshot copies the current counters. The result shares nothing with
// the live collector.
func (m *Metrics) Snapshot() Stats {
	stats := Stats{
		TotalCalls:        atomic.LoadInt64(&m.totalCalls),
		TotalErrors:       atomic.LoadInt64(&m.totalErrors),
		CacheHits:         atomic.LoadInt64(&m.cacheHits),
		CacheMisses:       atomic.LoadInt64(&m.cacheMisses),
		BreakerRejections: atomic.LoadInt64(&m.breakerRejections),
		Retries:           atomic.LoadInt64(&m.retries),
		Backends:          make(map[string]BackendStats),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for backend, agg := range m.backends {
		bs := BackendStats{
			Calls:   agg.calls,
			Errors:  agg.errors,
			Usage:   agg.usage,
			CostUSD: agg.costUSD,
		}
		if agg.calls > 0 {
			bs.AvgLatencyMs = (agg.totalLatency / time.Duration(agg.calls)).Milliseconds()
		}
		stats.Backends[backend] = bs
		stats.TotalCostUSD += agg.costUSD
		stats.TotalUsage = adapter.AddUsage(stats.TotalUsage, agg.usage)
	}
	return stats
}

// estimateCost prices a call from the per-1k token table. Unknown models
// fall back to the backend's default entry; unknown backends cost zero.
func estimateCost(pricing config.PricingConfig, backend, model string, usage adapter.Usage) (float64, bool) {
	entry, ok := pricingFor(pricing, backend, model)
	if !ok {
		return 0, false
	}
	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return promptCost + completionCost, true
}

func pricingFor(pricing config.PricingConfig, backend, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	backendPricing, ok := pricing[backend]
	if !ok {
		return config.ModelPricing{}, false
	}
	if entry, ok := backendPricing[model]; ok {
		return entry, true
	}
	if entry, ok := backendPricing["default"]; ok {
		return entry, true
	}
	return config.ModelPricing{}, false
}
