package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phone_notifier"

// Metrics stores Prometheus collectors used by the API, callback worker and poller.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	submissionsTotal       *prometheus.CounterVec
	submissionDuration     *prometheus.HistogramVec
	callbacksTotal         *prometheus.CounterVec
	callbackWorkerInflight *prometheus.GaugeVec
	verificationsTotal     *prometheus.CounterVec
	statusPollsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Calls and SMS handed to a vendor, by provider, kind and result.",
			},
			[]string{"provider", "kind", "result"},
		),
		submissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_duration_seconds",
				Help:      "Vendor submission latency in seconds by provider and kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider", "kind"},
		),
		callbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_total",
				Help:      "Reconciled vendor status callbacks by provider, kind and outcome.",
			},
			[]string{"provider", "kind", "outcome"},
		),
		callbackWorkerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "callback_worker_inflight",
				Help:      "Callbacks currently being reconciled by the queue worker, by kind.",
			},
			[]string{"kind"},
		),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification steps by provider, step and outcome.",
			},
			[]string{"provider", "step", "outcome"},
		),
		statusPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_polls_total",
				Help:      "Vendor status queries issued by the poller, by provider and result.",
			},
			[]string{"provider", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.submissionsTotal,
		m.submissionDuration,
		m.callbacksTotal,
		m.callbackWorkerInflight,
		m.verificationsTotal,
		m.statusPollsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSubmission(provider string, kind string, result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveSubmissionDuration(provider string, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.submissionDuration.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind)).Observe(seconds)
}

func (m *Metrics) IncCallback(provider string, kind string, outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncCallbackInFlight(kind string) {
	if m == nil {
		return
	}
	m.callbackWorkerInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecCallbackInFlight(kind string) {
	if m == nil {
		return
	}
	m.callbackWorkerInflight.WithLabelValues(normalizeLabel(kind)).Dec()
}

func (m *Metrics) IncVerification(provider string, step string, outcome string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(step), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncStatusPoll(provider string, result string) {
	if m == nil {
		return
	}
	m.statusPollsTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
