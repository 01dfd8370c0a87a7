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

const namespace = "timecapsule"

// Metrics stores Prometheus collectors used by the API, the delivery run and
// the maintenance jobs. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	deliveryRunsTotal        *prometheus.CounterVec
	deliveryRunDuration      prometheus.Histogram
	messageOutcomesTotal     *prometheus.CounterVec
	sendDuration             *prometheus.HistogramVec
	lockReleaseFailuresTotal prometheus.Counter
	compensationFailures     *prometheus.CounterVec
	paymentWebhooksTotal     *prometheus.CounterVec
	attemptsPurgedTotal      prometheus.Counter
	projectionRepairsTotal   *prometheus.CounterVec
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
		deliveryRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_runs_total",
				Help:      "Delivery runs grouped by outcome (completed, stopped_early, skipped, failed).",
			},
			[]string{"outcome"},
		),
		deliveryRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_run_duration_seconds",
				Help:      "Wall clock duration of a delivery run.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		messageOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_outcomes_total",
				Help:      "Per-message delivery outcomes (delivered, failed, skipped).",
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "email_send_duration_seconds",
				Help:      "Email provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		lockReleaseFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_lock_release_failures_total",
				Help:      "Batch lock releases that failed after retry and left the lock stuck.",
			},
		),
		compensationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_compensation_failures_total",
				Help:      "Undo steps that failed and need manual reconciliation.",
			},
			[]string{"saga", "step"},
		),
		paymentWebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_webhooks_total",
				Help:      "Payment webhook events grouped by outcome.",
			},
			[]string{"outcome"},
		),
		attemptsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_attempts_purged_total",
				Help:      "Delivery attempt rows removed by the retention sweep.",
			},
		),
		projectionRepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_status_repairs_total",
				Help:      "Message status rows rewritten from the delivery ledger, by source.",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveryRunsTotal,
		m.deliveryRunDuration,
		m.messageOutcomesTotal,
		m.sendDuration,
		m.lockReleaseFailuresTotal,
		m.compensationFailures,
		m.paymentWebhooksTotal,
		m.attemptsPurgedTotal,
		m.projectionRepairsTotal,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveDeliveryRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryRunsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.deliveryRunDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncMessageOutcome(outcome string) {
	if m == nil {
		return
	}
	m.messageOutcomesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(normalizeLabel(provider)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncLockReleaseFailure() {
	if m == nil {
		return
	}
	m.lockReleaseFailuresTotal.Inc()
}

func (m *Metrics) IncCompensationFailure(saga string, step string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(normalizeLabel(saga), normalizeLabel(step)).Inc()
}

func (m *Metrics) IncPaymentWebhook(outcome string) {
	if m == nil {
		return
	}
	m.paymentWebhooksTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddAttemptsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.attemptsPurgedTotal.Add(float64(n))
}

func (m *Metrics) IncProjectionRepair(source string) {
	if m == nil {
		return
	}
	m.projectionRepairsTotal.WithLabelValues(normalizeLabel(source)).Inc()
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

func nonNegativeSeconds(d time.Duration) float64 {
	if s := d.Seconds(); s > 0 {
		return s
	}
	return 0
}
