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

// Metrics stores Prometheus collectors used by the API and the removal jobs.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	removalsSentTotal    *prometheus.CounterVec
	removalsFailedTotal  *prometheus.CounterVec
	removalSendDuration  *prometheus.HistogramVec
	rateLimitedTotal     *prometheus.CounterVec
	suppressedSkipsTotal prometheus.Counter
	jobRunDuration       *prometheus.HistogramVec
	anomalyCritical      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "removal_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "removal_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		removalsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "removal_engine",
				Name:      "removals_sent_total",
				Help:      "Total number of removal requests submitted successfully.",
			},
			[]string{"broker"},
		),
		removalsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "removal_engine",
				Name:      "removals_failed_total",
				Help:      "Total number of removal send attempts that failed.",
			},
			[]string{"broker", "reason"},
		),
		removalSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "removal_engine",
				Name:      "removal_send_duration_seconds",
				Help:      "Submitter call duration in seconds grouped by broker.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"broker"},
		),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "removal_engine",
				Name:      "rate_limited_total",
				Help:      "Total number of sends deferred by the per-broker rate limiter.",
			},
			[]string{"broker"},
		),
		suppressedSkipsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "removal_engine",
				Name:      "suppressed_skips_total",
				Help:      "Total number of email sends skipped due to suppression.",
			},
		),
		jobRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "removal_engine",
				Name:      "job_run_duration_seconds",
				Help:      "Job invocation duration in seconds by job name and outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"job", "status"},
		),
		anomalyCritical: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "removal_engine",
				Name:      "anomaly_critical",
				Help:      "1 when the last anomaly scan flagged a critical failure spike.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.removalsSentTotal,
		m.removalsFailedTotal,
		m.removalSendDuration,
		m.rateLimitedTotal,
		m.suppressedSkipsTotal,
		m.jobRunDuration,
		m.anomalyCritical,
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

func (m *Metrics) IncRemovalSent(broker string) {
	if m == nil {
		return
	}
	m.removalsSentTotal.WithLabelValues(normalizeBroker(broker)).Inc()
}

func (m *Metrics) IncRemovalFailed(broker string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.removalsFailedTotal.WithLabelValues(normalizeBroker(broker), reasonLabel).Inc()
}

func (m *Metrics) ObserveSendDuration(broker string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.removalSendDuration.WithLabelValues(normalizeBroker(broker)).Observe(seconds)
}

func (m *Metrics) IncRateLimited(broker string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(normalizeBroker(broker)).Inc()
}

func (m *Metrics) IncSuppressedSkip() {
	if m == nil {
		return
	}
	m.suppressedSkipsTotal.Inc()
}

func (m *Metrics) ObserveJobRun(job string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRunDuration.WithLabelValues(
		strings.ToLower(strings.TrimSpace(job)),
		strings.ToUpper(strings.TrimSpace(status)),
	).Observe(duration.Seconds())
}

func (m *Metrics) SetAnomalyCritical(critical bool) {
	if m == nil {
		return
	}
	if critical {
		m.anomalyCritical.Set(1)
		return
	}
	m.anomalyCritical.Set(0)
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

func normalizeBroker(broker string) string {
	normalized := strings.ToUpper(strings.TrimSpace(broker))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
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
	return c.Response().StatusCode()
}
