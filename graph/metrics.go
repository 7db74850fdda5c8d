package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes engine metrics under the "llmflow" namespace:
//
//   - step_latency_ms{node_id,status}: node attempt duration (success, error, timeout)
//   - retries_total{node_id,reason}: retried node attempts
//   - runs_total{status}: finished runs (success, error)
//   - inflight_nodes: nodes currently executing
//   - llm_tokens_total{model,direction}: tokens reported through RecordUsage
//
// Run IDs are deliberately not used as labels.
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	tokens        *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the engine metrics with registry, or with
// the default registerer when registry is nil. Registering twice on the same
// registry panics, so create one instance per process.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmflow",
			Name:      "inflight_nodes",
			Help:      "Number of workflow nodes currently executing",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmflow",
			Name:      "step_latency_ms",
			Help:      "Node attempt duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmflow",
			Name:      "retries_total",
			Help:      "Retried node attempts",
		}, []string{"node_id", "reason"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmflow",
			Name:      "runs_total",
			Help:      "Finished workflow runs",
		}, []string{"status"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmflow",
			Name:      "llm_tokens_total",
			Help:      "Model tokens consumed",
		}, []string{"model", "direction"}),
	}
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency observes one node attempt.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts a retried attempt.
func (pm *PrometheusMetrics) IncrementRetries(nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

// IncrementRuns counts a finished run.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// AddTokens counts consumed model tokens.
func (pm *PrometheusMetrics) AddTokens(model string, inputTokens, outputTokens int) {
	if !pm.isEnabled() {
		return
	}
	pm.tokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	pm.tokens.WithLabelValues(model, "output").Add(float64(outputTokens))
}

func (pm *PrometheusMetrics) nodeStarted() {
	if pm.isEnabled() {
		pm.inflightNodes.Inc()
	}
}

func (pm *PrometheusMetrics) nodeFinished() {
	if pm.isEnabled() {
		pm.inflightNodes.Dec()
	}
}

// Disable stops recording. Already recorded values are kept.
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
