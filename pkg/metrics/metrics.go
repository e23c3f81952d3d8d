// Package metrics defines the Prometheus collectors for query sessions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

const namespace = "ekaya_ask"

// Metrics holds the session collectors. Each instance owns its registry so
// tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal        *prometheus.CounterVec
	attemptsTotal        *prometheus.CounterVec
	sessionDuration      *prometheus.HistogramVec
	attemptsPerSession   prometheus.Histogram
	resolutionConfidence prometheus.Histogram
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// New creates and registers the collectors, along with the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Query sessions by terminal status.",
			},
			[]string{"status"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Generate/execute attempts by outcome kind.",
			},
			[]string{"kind"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Wall time from session start to terminal status.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		attemptsPerSession: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempts_per_session",
			Help:      "Number of attempts a session used.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 10},
		}),
		resolutionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_confidence",
			Help:      "Aggregate ontology resolution confidence per session.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.sessionsTotal,
		m.attemptsTotal,
		m.sessionDuration,
		m.attemptsPerSession,
		m.resolutionConfidence,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// attemptSucceeded labels attempts that ended without an error.
const attemptSucceeded = "success"

// ObserveSession records a finished session. Sessions that are still running are ignored.
func (m *Metrics) ObserveSession(s *models.QuerySession) {
	if m == nil || s == nil || !s.Status.IsTerminal() {
		return
	}

	status := string(s.Status)
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.attemptsPerSession.Observe(float64(len(s.Attempts)))

	end := s.CreatedAt
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	m.sessionDuration.WithLabelValues(status).Observe(end.Sub(s.CreatedAt).Seconds())

	for _, a := range s.Attempts {
		kind := attemptSucceeded
		if a.Failed() {
			kind = string(a.ErrorKind())
		}
		m.attemptsTotal.WithLabelValues(kind).Inc()
	}

	if s.Resolution != nil {
		m.resolutionConfidence.Observe(s.Resolution.Confidence)
	}
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
