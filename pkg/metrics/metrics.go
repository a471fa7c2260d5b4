package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Scheduler metrics
	DeliveriesTotal   *prometheus.CounterVec
	PassDuration      prometheus.Histogram
	PassesTotal       *prometheus.CounterVec
	LastPassTimestamp prometheus.Gauge
	ManualSends       *prometheus.CounterVec

	// Business metrics
	ExportsCreated *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers all metrics on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "occasion_deliveries_total",
				Help: "Scheduled occasion outcomes by status and occasion type",
			},
			[]string{"status", "type"}, // sent, failed, suppressed, skipped, deferred, template_error
		),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_pass_duration_seconds",
			Help:    "Duration of one scheduler pass in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		PassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_passes_total",
				Help: "Scheduler passes by result",
			},
			[]string{"result"}, // completed, locked, error
		),
		LastPassTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed scheduler pass",
		}),
		ManualSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "occasion_manual_sends_total",
				Help: "Manual sends by outcome",
			},
			[]string{"status"}, // sent, failed, dry_run
		),

		ExportsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_created_total",
				Help: "Total number of exports created",
			},
			[]string{"format"}, // csv, xlsx
		),

		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/contacts/:contactId/dates

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// RecordDelivery counts one scheduled occasion outcome
func (m *Metrics) RecordDelivery(status, occasionType string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status, occasionType).Inc()
}

// RecordPass records a finished scheduler pass
func (m *Metrics) RecordPass(result string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(result).Inc()
	if result == "completed" {
		m.PassDuration.Observe(duration.Seconds())
		m.LastPassTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// RecordManualSend counts a send-now request
func (m *Metrics) RecordManualSend(status string) {
	if m == nil {
		return
	}
	m.ManualSends.WithLabelValues(status).Inc()
}

// RecordExportCreated increments exports created counter
func (m *Metrics) RecordExportCreated(format string) {
	if m == nil {
		return
	}
	m.ExportsCreated.WithLabelValues(format).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	if m == nil {
		return
	}
	m.DBConnections.Set(count)
}
