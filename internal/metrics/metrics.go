// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "noria"

const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
)

type Metrics struct {
	registry *prometheus.Registry

	rateLimitDecisions *prometheus.CounterVec
	jobsEnqueued       prometheus.Counter
	queueFailures      prometheus.Counter
	jobsPublished      *prometheus.CounterVec
	messages           *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter admission decisions.",
		}, []string{"limiter", "decision"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_enqueued_total",
			Help:      "Analysis jobs committed to the job queue.",
		}),
		queueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_queue_insert_failures_total",
			Help:      "Analysis jobs that could not be inserted while the triggering message was saved.",
		}),
		jobsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_published_total",
			Help:      "Analysis job notifications sent to the message broker.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_messages_total",
			Help:      "Conversation messages saved.",
		}, []string{"sender_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rateLimitDecisions,
		m.jobsEnqueued,
		m.queueFailures,
		m.jobsPublished,
		m.messages,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RateLimitDecision(limiter string, allowed bool) {
	if m == nil {
		return
	}
	decision := DecisionRejected
	if allowed {
		decision = DecisionAllowed
	}
	m.rateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

func (m *Metrics) AnalysisJobEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

func (m *Metrics) AnalysisQueueFailure() {
	if m == nil {
		return
	}
	m.queueFailures.Inc()
}

func (m *Metrics) AnalysisJobPublished(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) MessageSaved(senderType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(senderType).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(seconds)
}
