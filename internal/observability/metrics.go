// Package observability holds the Prometheus metrics exported by Harrier.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace is the prefix of every metric (harrier_...).
const namespace = "harrier"

// evaluationBuckets covers single-rule evaluations, which are one or two
// aggregate queries. Range: 1ms to 2.5s.
var evaluationBuckets = []float64{.001, .002, .005, .010, .025, .050, .100, .250, .500, 1, 2.5}

// Rule evaluation outcomes.
const (
	OutcomeEligible   = "eligible"
	OutcomeIneligible = "ineligible"
	OutcomeError      = "error"
)

var (
	// -------------------------------------------------------------------------
	// ENGINE
	// -------------------------------------------------------------------------

	// RecommendationsTotal counts Recommend calls.
	// Metric: harrier_engine_recommendations_total
	RecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "recommendations_total",
		Help:      "Total recommendation runs",
	}, []string{"status"}) // success, error

	// RecommendDuration measures a full Recommend call.
	RecommendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "recommend_duration_seconds",
		Help:      "Time taken to evaluate all active rules for a customer",
		Buckets:   prometheus.DefBuckets,
	})

	// RuleEvaluationsTotal counts rule evaluations by outcome.
	// Metric: harrier_engine_rule_evaluations_total
	RuleEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_evaluations_total",
		Help:      "Total rule evaluations",
	}, []string{"outcome"})

	RuleEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_evaluation_seconds",
		Help:      "Time taken to evaluate a single rule",
		Buckets:   evaluationBuckets,
	})

	// ExecutionLogFailures counts execution log rows that could not be written.
	ExecutionLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "execution_log_failures_total",
		Help:      "Total execution log writes that failed",
	})

	// --- Active rule cache ---

	RuleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_cache_hits_total",
		Help:      "Total active rule list cache hits",
	})

	RuleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_cache_misses_total",
		Help:      "Total active rule list cache misses, including cache errors",
	})

	// -------------------------------------------------------------------------
	// HTTP
	// -------------------------------------------------------------------------

	// HTTPRequestsTotal counts HTTP requests by route pattern.
	// Metric: harrier_http_requests_total
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// -------------------------------------------------------------------------
	// WORKER
	// -------------------------------------------------------------------------

	WorkerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "messages_total",
		Help:      "Total recommendation requests consumed from the bus",
	}, []string{"status"}) // success, invalid, error
)
