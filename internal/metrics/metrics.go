// Package metrics exposes the gateway's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon_relay"

// Outcome label values.
const (
	OutcomePublished       = "published"
	OutcomeInvalidJSON     = "invalid_json"
	OutcomeSchemaViolation = "schema_violation"
	OutcomePublishFailed   = "publish_failed"
	OutcomeInternal        = "internal_error"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	Requests        *prometheus.CounterVec
	Events          *prometheus.CounterVec
	ValidationFails *prometheus.CounterVec
	Publishes       *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	DLQ             *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the instruments on reg. Passing nil uses a fresh registry
// with the Go and process collectors attached.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route and outcome.",
		}, []string{"route", "outcome"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Accepted beacon events, by event type.",
		}, []string{"type"}),
		ValidationFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected payloads, by violated keyword.",
		}, []string{"keyword"}),
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish attempts, by topic role and result.",
		}, []string{"role", "result"}),
		PublishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in a single transport publish.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"role"}),
		DLQ: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_forwarded_total",
			Help:      "Rejected payloads forwarded to the dead-letter topic, by result.",
		}, []string{"result"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) Request(route, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, outcome).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ValidationFailure(keyword string) {
	if m == nil {
		return
	}
	if keyword == "" {
		keyword = "none"
	}
	m.ValidationFails.WithLabelValues(keyword).Inc()
}

func (m *Metrics) Publish(role string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Publishes.WithLabelValues(role, result).Inc()
	m.PublishDuration.WithLabelValues(role).Observe(took.Seconds())
}

func (m *Metrics) Forwarded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DLQ.WithLabelValues("error").Inc()
		return
	}
	m.DLQ.WithLabelValues("ok").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
