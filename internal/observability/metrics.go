package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xkilldash9x/mender/api/schemas"
)

const (
	// MetricsNamespace is the namespace for all repair pipeline metrics.
	MetricsNamespace = "mender"
)

// Metrics holds the Prometheus collectors for the repair pipeline.
type Metrics struct {
	// Fix run metrics
	FixRunsTotal       *prometheus.CounterVec
	FixDurationSeconds prometheus.Histogram
	FixScore           prometheus.Histogram
	PhasesTotal        *prometheus.CounterVec
	PatchesApplied     prometheus.Counter

	// Generative repair metrics
	LLMCallsTotal  prometheus.Counter
	LLMTokensTotal prometheus.Counter

	// Sandbox metrics
	ElementsValidatedTotal    *prometheus.CounterVec
	ValidationDurationSeconds prometheus.Histogram
	ValidationJSErrorsTotal   prometheus.Counter
	CacheLookupsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg, or on the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}
	m.initFixMetrics(factory)
	m.initSandboxMetrics(factory)
	return m
}

func (m *Metrics) initFixMetrics(factory promauto.Factory) {
	m.FixRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fix",
			Name:      "runs_total",
			Help:      "Total number of fix invocations by outcome",
		},
		[]string{"outcome"},
	)

	m.FixDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fix",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of fix invocations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
	)

	m.FixScore = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fix",
			Name:      "final_score",
			Help:      "Final score of the returned candidate",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	m.PhasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fix",
			Name:      "phases_total",
			Help:      "Number of times each phase was entered",
		},
		[]string{"phase"},
	)

	m.PatchesApplied = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fix",
			Name:      "patches_applied_total",
			Help:      "Deterministic patches successfully injected",
		},
	)

	m.LLMCallsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Generative repair calls made",
		},
	)

	m.LLMTokensTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by generative repair",
		},
	)
}

func (m *Metrics) initSandboxMetrics(factory promauto.Factory) {
	m.ElementsValidatedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "sandbox",
			Name:      "elements_total",
			Help:      "Interactive elements exercised by classified status",
		},
		[]string{"status"},
	)

	m.ValidationDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "sandbox",
			Name:      "validation_duration_seconds",
			Help:      "Duration of sandbox validation passes",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	m.ValidationJSErrorsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "sandbox",
			Name:      "js_errors_total",
			Help:      "Runtime errors captured during validation",
		},
	)

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "sandbox",
			Name:      "cache_lookups_total",
			Help:      "Validation cache lookups by result",
		},
		[]string{"result"},
	)
}

// RecordRun observes a completed fix invocation.
func (m *Metrics) RecordRun(res schemas.OrchestratorResult) {
	m.FixRunsTotal.WithLabelValues(RunOutcome(res)).Inc()
	m.FixDurationSeconds.Observe(res.Metrics.TotalDurationMs / 1000)
	m.FixScore.Observe(res.FinalScore)
	for _, p := range res.PhasesCompleted {
		m.PhasesTotal.WithLabelValues(string(p)).Inc()
	}
	m.PatchesApplied.Add(float64(res.Metrics.PatchesApplied))
	m.LLMCallsTotal.Add(float64(res.Metrics.LLMCallsMade))
	m.LLMTokensTotal.Add(float64(res.Metrics.LLMTokensUsed))
}

// RecordValidation observes one sandbox pass.
func (m *Metrics) RecordValidation(res schemas.ValidationResult) {
	for _, er := range res.ElementResults {
		m.ElementsValidatedTotal.WithLabelValues(string(er.Status)).Inc()
	}
	m.ValidationDurationSeconds.Observe(float64(res.ValidationTimeMs) / 1000)
	m.ValidationJSErrorsTotal.Add(float64(len(res.JSErrors)))
}

// RecordCacheLookup counts a cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RunOutcome buckets a result into success, failed, timeout or error.
func RunOutcome(res schemas.OrchestratorResult) string {
	switch {
	case strings.Contains(strings.ToLower(res.ErrorMessage), "timeout"):
		return "timeout"
	case res.Reached(schemas.PhaseFailed):
		return "error"
	case res.Success:
		return "success"
	default:
		return "failed"
	}
}
