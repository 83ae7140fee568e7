package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/concierge/pkg/adapter"
	"github.com/zen-systems/concierge/pkg/config"
)

func testPricing() config.PricingConfig {
	return config.PricingConfig{
		"anthropic": {
			"claude-opus-4-20250514": {PromptPer1K: 0.015, CompletionPer1K: 0.075},
			"default":                {PromptPer1K: 0.003, CompletionPer1K: 0.015},
		},
	}
}

func TestEstimateCost(t *testing.T) {
	usage := adapter.Usage{PromptTokens: 1000, CompletionTokens: 2000}

	cost, ok := estimateCost(testPricing(), "anthropic", "claude-opus-4-20250514", usage)
	require.True(t, ok)
	assert.InDelta(t, 0.015+0.15, cost, 1e-9)

	// Unknown models use the backend default entry.
	cost, ok = estimateCost(testPricing(), "anthropic", "claude-experimental", usage)
	require.True(t, ok)
	assert.InDelta(t, 0.003+0.03, cost, 1e-9)

	_, ok = estimateCost(testPricing(), "unpriced", "model", usage)
	assert.False(t, ok)

	_, ok = estimateCost(nil, "anthropic", "model", usage)
	assert.False(t, ok)
}

func TestMetricsSnapshotAggregates(t *testing.T) {
	m := NewMetrics(testPricing())

	m.recordSuccess("anthropic", "claude-opus-4-20250514",
		adapter.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}, 100*time.Millisecond)
	m.recordSuccess("anthropic", "claude-opus-4-20250514",
		adapter.Usage{PromptTokens: 500, CompletionTokens: 500, TotalTokens: 1000}, 300*time.Millisecond)
	m.recordFailure("openai", 50*time.Millisecond)
	m.recordCacheHit()
	m.recordRetry()

	stats := m.Snapshot()
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.Retries)
	assert.Equal(t, 3000, stats.TotalUsage.TotalTokens)

	anthropic := stats.Backends["anthropic"]
	assert.Equal(t, int64(2), anthropic.Calls)
	assert.Zero(t, anthropic.Errors)
	assert.Equal(t, int64(200), anthropic.AvgLatencyMs)
	assert.InDelta(t, 0.0225+0.1125, anthropic.CostUSD, 1e-9)

	openai := stats.Backends["openai"]
	assert.Equal(t, int64(1), openai.Calls)
	assert.Equal(t, int64(1), openai.Errors)
}

func TestMetricsSnapshotIsDetached(t *testing.T) {
	m := NewMetrics(nil)
	m.recordSuccess("mock", "mock-1", adapter.Usage{TotalTokens: 10}, time.Millisecond)

	stats := m.Snapshot()
	stats.Backends["mock"] = BackendStats{Calls: 99}
	stats.TotalCalls = 99

	fresh := m.Snapshot()
	assert.Equal(t, int64(1), fresh.TotalCalls)
	assert.Equal(t, int64(1), fresh.Backends["mock"].Calls)
}
