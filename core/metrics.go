package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// HealthVerdict is a coarse health signal derived from refresh outcomes.
type HealthVerdict string

const (
	HealthVerdictHealthy   HealthVerdict = "healthy"
	HealthVerdictDegraded  HealthVerdict = "degraded"
	HealthVerdictUnhealthy HealthVerdict = "unhealthy"
)

const (
	unhealthySuccessRateThreshold = 0.95
	degradedSuccessRateThreshold  = 0.99
)

// LatencyStats summarizes observed refresh latencies.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	Count int64
}

// MetricsSnapshot is the read-only view exposed to operators. It never
// influences watcher control flow.
type MetricsSnapshot struct {
	Attempts        int64
	Successes       int64
	Failures        int64
	DirectFallbacks int64
	ByClass         map[ErrorClass]int64
	Latency         LatencyStats
	PerTenant       map[string]LatencyStats
	SuccessRate     float64
	FallbackRate    float64
	Health          HealthVerdict
}

type latencyWindow struct {
	min   time.Duration
	max   time.Duration
	sum   time.Duration
	count int64
}

func (w *latencyWindow) observe(d time.Duration) {
	if w.count == 0 || d < w.min {
		w.min = d
	}
	if d > w.max {
		w.max = d
	}
	w.sum += d
	w.count++
}

func (w *latencyWindow) stats() LatencyStats {
	stats := LatencyStats{Min: w.min, Max: w.max, Count: w.count}
	if w.count > 0 {
		stats.Avg = w.sum / time.Duration(w.count)
	}
	return stats
}

// RefreshMetrics accumulates refresh attempt/outcome counters and latency
// aggregates, overall and per tenant. When a MetricsRecorder is attached the
// same observations are forwarded as counters and histograms.
type RefreshMetrics struct {
	mu              sync.Mutex
	attempts        int64
	successes       int64
	failures        int64
	directFallbacks int64
	byClass         map[ErrorClass]int64
	overall         latencyWindow
	perTenant       map[string]*latencyWindow
	recorder        MetricsRecorder
}

func NewRefreshMetrics(recorder MetricsRecorder) *RefreshMetrics {
	if recorder == nil {
		recorder = NopMetricsRecorder{}
	}
	return &RefreshMetrics{
		byClass:   make(map[ErrorClass]int64),
		perTenant: make(map[string]*latencyWindow),
		recorder:  recorder,
	}
}

func (m *RefreshMetrics) RecordAttempt(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
	m.recorder.IncCounter(ctx, "credentials.refresh.attempts", 1, tenantTags(tenantID))
}

func (m *RefreshMetrics) RecordSuccess(ctx context.Context, tenantID string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.successes++
	m.observeLocked(tenantID, elapsed)
	m.mu.Unlock()
	m.recorder.IncCounter(ctx, "credentials.refresh.successes", 1, tenantTags(tenantID))
	m.recorder.ObserveHistogram(ctx, "credentials.refresh.duration_ms", float64(elapsed.Milliseconds()), tenantTags(tenantID))
}

func (m *RefreshMetrics) RecordFailure(ctx context.Context, tenantID string, class ErrorClass, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures++
	m.byClass[class]++
	m.observeLocked(tenantID, elapsed)
	m.mu.Unlock()
	tags := tenantTags(tenantID)
	tags["error_class"] = string(class)
	m.recorder.IncCounter(ctx, "credentials.refresh.failures", 1, tags)
	m.recorder.ObserveHistogram(ctx, "credentials.refresh.duration_ms", float64(elapsed.Milliseconds()), tags)
}

func (m *RefreshMetrics) RecordDirectFallback(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.directFallbacks++
	m.mu.Unlock()
	m.recorder.IncCounter(ctx, "credentials.refresh.direct_fallbacks", 1, tenantTags(tenantID))
}

func (m *RefreshMetrics) observeLocked(tenantID string, elapsed time.Duration) {
	m.overall.observe(elapsed)
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return
	}
	window, ok := m.perTenant[tenantID]
	if !ok {
		window = &latencyWindow{}
		m.perTenant[tenantID] = window
	}
	window.observe(elapsed)
}

// Reset clears all accumulated counters and latency aggregates.
func (m *RefreshMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.successes = 0
	m.failures = 0
	m.directFallbacks = 0
	m.byClass = make(map[ErrorClass]int64)
	m.overall = latencyWindow{}
	m.perTenant = make(map[string]*latencyWindow)
}

func (m *RefreshMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Health: HealthVerdictHealthy}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := MetricsSnapshot{
		Attempts:        m.attempts,
		Successes:       m.successes,
		Failures:        m.failures,
		DirectFallbacks: m.directFallbacks,
		ByClass:         make(map[ErrorClass]int64, len(m.byClass)),
		Latency:         m.overall.stats(),
		PerTenant:       make(map[string]LatencyStats, len(m.perTenant)),
	}
	for class, count := range m.byClass {
		snapshot.ByClass[class] = count
	}
	for tenant, window := range m.perTenant {
		snapshot.PerTenant[tenant] = window.stats()
	}
	if m.attempts > 0 {
		snapshot.SuccessRate = float64(m.successes) / float64(m.attempts)
		snapshot.FallbackRate = float64(m.directFallbacks) / float64(m.attempts)
	}
	snapshot.Health = healthVerdict(m.attempts, snapshot.SuccessRate)
	return snapshot
}

func healthVerdict(attempts int64, successRate float64) HealthVerdict {
	if attempts == 0 {
		return HealthVerdictHealthy
	}
	switch {
	case successRate < unhealthySuccessRateThreshold:
		return HealthVerdictUnhealthy
	case successRate < degradedSuccessRateThreshold:
		return HealthVerdictDegraded
	default:
		return HealthVerdictHealthy
	}
}

func tenantTags(tenantID string) map[string]string {
	tags := map[string]string{}
	if trimmed := strings.TrimSpace(tenantID); trimmed != "" {
		tags["tenant_id"] = trimmed
	}
	return tags
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
