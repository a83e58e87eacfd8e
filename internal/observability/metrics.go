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

// Metrics stores Prometheus collectors used by the API and connector flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	submittedTotal         *prometheus.CounterVec
	publishFailuresTotal   *prometheus.CounterVec
	deliveriesTotal        *prometheus.CounterVec
	sendDuration           *prometheus.HistogramVec
	dispatchInflight       *prometheus.GaugeVec
	redriveEnqueuedTotal   *prometheus.CounterVec
	resourceEvictionsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "courier",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "notifications_submitted_total",
				Help:      "Total number of notifications accepted by the publish gateway.",
			},
			[]string{"tenant", "service"},
		),
		publishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "publish_failures_total",
				Help:      "Total number of broker publishes that failed after the record was persisted.",
			},
			[]string{"tenant", "service"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "deliveries_total",
				Help:      "Total number of consumed deliveries grouped by terminal result.",
			},
			[]string{"tenant", "service", "result"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "courier",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by service and provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"service", "provider"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "courier",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by tenant and service.",
			},
			[]string{"tenant", "service"},
		),
		redriveEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "redrive_enqueued_total",
				Help:      "Total number of failed notifications re-enqueued by the redrive scanner.",
			},
			[]string{"tenant", "service"},
		),
		resourceEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "resource_evictions_total",
				Help:      "Total number of cached resource handles evicted grouped by kind and reason.",
			},
			[]string{"kind", "reason"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.submittedTotal,
		m.publishFailuresTotal,
		m.deliveriesTotal,
		m.sendDuration,
		m.dispatchInflight,
		m.redriveEnqueuedTotal,
		m.resourceEvictionsTotal,
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

func (m *Metrics) IncSubmitted(tenant, service string) {
	if m == nil {
		return
	}
	m.submittedTotal.WithLabelValues(tenant, normalizeLabel(service)).Inc()
}

func (m *Metrics) IncPublishFailure(tenant, service string) {
	if m == nil {
		return
	}
	m.publishFailuresTotal.WithLabelValues(tenant, normalizeLabel(service)).Inc()
}

func (m *Metrics) IncDelivery(tenant, service, result string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(tenant, normalizeLabel(service), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveSendDuration(service, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(service), normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncDispatchInflight(tenant, service string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(tenant, normalizeLabel(service)).Inc()
}

func (m *Metrics) DecDispatchInflight(tenant, service string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(tenant, normalizeLabel(service)).Dec()
}

func (m *Metrics) IncRedriveEnqueued(tenant, service string) {
	if m == nil {
		return
	}
	m.redriveEnqueuedTotal.WithLabelValues(tenant, normalizeLabel(service)).Inc()
}

func (m *Metrics) IncResourceEviction(kind, reason string) {
	if m == nil {
		return
	}
	m.resourceEvictionsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
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

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
