package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are the server's Prometheus collectors. Each Server owns its own
// registry so tests can run servers side by side.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	sessionsStarted *prometheus.CounterVec
	sessionsFailed  prometheus.Counter
	sessionsDone    prometheus.Counter
	stimulusBytes   prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchtime",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pitchtime",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitchtime",
			Name:      "sessions_started_total",
			Help:      "Sessions started, split by whether the identifier was assigned.",
		}, []string{"assigned"}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitchtime",
			Name:      "schedule_failures_total",
			Help:      "Session starts halted because no usable schedule was found.",
		}),
		sessionsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitchtime",
			Name:      "sessions_finished_total",
			Help:      "Sessions marked finished.",
		}),
		stimulusBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitchtime",
			Name:      "stimulus_bytes_total",
			Help:      "Audio bytes streamed from the blob store.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.sessionsStarted, m.sessionsFailed, m.sessionsDone, m.stimulusBytes,
	)
	return m
}

// Registry exposes the registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
