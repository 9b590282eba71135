// Package metrics provides Prometheus instrumentation for RiskGuard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskguard"

var (
	// EventsEvaluated counts evaluated events by result: decision, accepted or error.
	EventsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_evaluated_total",
			Help:      "Total events evaluated by result.",
		},
		[]string{"service", "result"},
	)

	// EvaluationDuration observes end-to-end evaluation latency.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Event evaluation duration in seconds, including the commit.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RulesTriggered counts triggered rules.
	RulesTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_triggered_total",
			Help:      "Total rule triggers across all events.",
		},
	)

	// RuleFailures counts rules skipped because their condition failed.
	RuleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_failures_total",
			Help:      "Total rule conditions that could not be evaluated.",
		},
	)

	// DecisionsTotal counts decisions by selected action.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total decisions by selected action.",
		},
		[]string{"action"},
	)

	// FraudCasesOpened counts automatically opened fraud cases.
	FraudCasesOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_cases_opened_total",
			Help:      "Total fraud cases opened automatically.",
		},
	)

	// CommitConflicts counts optimistic profile conflicts that forced a retry.
	CommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_conflicts_total",
			Help:      "Total profile version conflicts during commit.",
		},
	)

	// BusMessages counts event bus traffic by topic and result:
	// published, publish_failed, dropped, delivered or handler_error.
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Event bus messages by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// HTTPRequestDuration observes request latency by method, route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveEvaluation records the latency of one evaluation.
func ObserveEvaluation(start time.Time) {
	EvaluationDuration.Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
