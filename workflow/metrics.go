package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics.
//
// Metrics exposed (namespace "negotiator"):
//   - stage_latency_ms{stage,outcome}: stage execution time
//   - runs_started_total
//   - runs_finished_total{outcome}: sent, rejected, failed, expired
//   - dispatch_attempts_total{result}: success, transient, permanent
//   - claim_conflicts_total: resumes that lost the gate claim
//   - runs_awaiting_review: runs parked at the gate
type PrometheusMetrics struct {
	stageLatency     *prometheus.HistogramVec
	runsStarted      prometheus.Counter
	runsFinished     *prometheus.CounterVec
	dispatchAttempts *prometheus.CounterVec
	claimConflicts   prometheus.Counter
	awaitingReview   prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the engine metrics with registry, or the
// default registerer when nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "negotiator",
			Name:      "stage_latency_ms",
			Help:      "Stage execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"stage", "outcome"}),
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "negotiator",
			Name:      "runs_started_total",
			Help:      "Negotiation runs created",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiator",
			Name:      "runs_finished_total",
			Help:      "Negotiation runs that reached a terminal cursor",
		}, []string{"outcome"}),
		dispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiator",
			Name:      "dispatch_attempts_total",
			Help:      "Dispatcher invocations by result",
		}, []string{"result"}),
		claimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "negotiator",
			Name:      "claim_conflicts_total",
			Help:      "Resume calls that lost the race for the review gate",
		}),
		awaitingReview: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "negotiator",
			Name:      "runs_awaiting_review",
			Help:      "Runs parked at the review gate by this process",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStageLatency records one stage execution.
func (pm *PrometheusMetrics) RecordStageLatency(stage Cursor, latency time.Duration, outcome string) {
	if !pm.on() {
		return
	}
	pm.stageLatency.WithLabelValues(string(stage), outcome).Observe(float64(latency.Milliseconds()))
}

// IncrementRunsStarted counts a created run.
func (pm *PrometheusMetrics) IncrementRunsStarted() {
	if !pm.on() {
		return
	}
	pm.runsStarted.Inc()
}

// IncrementRunsFinished counts a run reaching a terminal status.
func (pm *PrometheusMetrics) IncrementRunsFinished(outcome string) {
	if !pm.on() {
		return
	}
	pm.runsFinished.WithLabelValues(outcome).Inc()
}

// IncrementDispatchAttempts counts one dispatcher call.
func (pm *PrometheusMetrics) IncrementDispatchAttempts(result string) {
	if !pm.on() {
		return
	}
	pm.dispatchAttempts.WithLabelValues(result).Inc()
}

// IncrementClaimConflicts counts a lost gate claim.
func (pm *PrometheusMetrics) IncrementClaimConflicts() {
	if !pm.on() {
		return
	}
	pm.claimConflicts.Inc()
}

// AddAwaitingReview adjusts the gate gauge by delta.
func (pm *PrometheusMetrics) AddAwaitingReview(delta float64) {
	if !pm.on() {
		return
	}
	pm.awaitingReview.Add(delta)
}

// Disable stops recording. Useful in tests.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
