// Package metrics exposes Prometheus instruments for tutoring sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds every instrument. All names are prefixed "sensei_".
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec // {phase}
	VerdictsTotal      *prometheus.CounterVec // {verdict}: pass, fail, error
	EvaluationErrors   *prometheus.CounterVec // {kind}: parse, service
	EvaluationDuration prometheus.Histogram
	FrustrationTotal   prometheus.Counter
	TopicSwitchesTotal prometheus.Counter
	TransitionsTotal   *prometheus.CounterVec // {to}
	HandoffsTotal      *prometheus.CounterVec // {result}: allowed, overridden, denied
	SessionsStarted    *prometheus.CounterVec // {mode}

	HTTPRequests *prometheus.CounterVec   // {method, route, status}
	HTTPDuration *prometheus.HistogramVec // {method, route}
}

// Get returns the process-wide instruments, registering them on first use.
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_turns_total",
				Help: "Turns processed, by the phase the session ended in",
			}, []string{"phase"}),
			VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_verdicts_total",
				Help: "Evaluation outcomes",
			}, []string{"verdict"}),
			EvaluationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_evaluation_errors_total",
				Help: "Evaluations that failed closed",
			}, []string{"kind"}),
			EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "sensei_evaluation_duration_seconds",
				Help:    "Latency of judge calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			}),
			FrustrationTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sensei_frustration_total",
				Help: "Turns short-circuited by frustration",
			}),
			TopicSwitchesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sensei_topic_switches_total",
				Help: "Explicit topic switches mid-item",
			}),
			TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_item_transitions_total",
				Help: "Item status transitions, by target status",
			}, []string{"to"}),
			HandoffsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_handoffs_total",
				Help: "Handoff requests",
			}, []string{"result"}),
			SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_sessions_started_total",
				Help: "Sessions started, by mode",
			}, []string{"mode"}),
			HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sensei_http_requests_total",
				Help: "HTTP requests served",
			}, []string{"method", "route", "status"}),
			HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "sensei_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "route"}),
		}
	})
	return global
}

// RecordVerdict counts a judged attempt.
func (m *Metrics) RecordVerdict(passed bool, d time.Duration) {
	v := "fail"
	if passed {
		v = "pass"
	}
	m.VerdictsTotal.WithLabelValues(v).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

// RecordEvaluationError counts an evaluation that failed closed.
func (m *Metrics) RecordEvaluationError(kind string, d time.Duration) {
	m.VerdictsTotal.WithLabelValues("error").Inc()
	m.EvaluationErrors.WithLabelValues(kind).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

// RecordHandoff counts a gate decision.
func (m *Metrics) RecordHandoff(allowed, overridden bool) {
	switch {
	case overridden:
		m.HandoffsTotal.WithLabelValues("overridden").Inc()
	case allowed:
		m.HandoffsTotal.WithLabelValues("allowed").Inc()
	default:
		m.HandoffsTotal.WithLabelValues("denied").Inc()
	}
}

// RecordHTTP counts one served request.
func (m *Metrics) RecordHTTP(method, route, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
