package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/blueprint/internal/http"

// HTTPMetrics records request metrics twice: as OpenTelemetry instruments
// for the OTLP pipeline and as Prometheus collectors served on /metrics.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter

	registry    *prometheus.Registry
	promReqs    *prometheus.CounterVec
	promLatency *prometheus.HistogramVec
}

// NewHTTPMetrics creates HTTP metrics on meter and a fresh Prometheus
// registry. A nil meter uses the global provider.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{
		meter:    meter,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"blueprint.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	// Orchestration calls wait on several model round trips, hence the long tail.
	m.requestDur, err = m.meter.Float64Histogram(
		"blueprint.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"blueprint.http.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(m.registry)
	m.promReqs = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})
	m.promLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blueprint_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"route"})
}

// Registry is the Prometheus registry behind /metrics.
func (m *HTTPMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPendingApprovals exposes the approval backlog as a gauge that is
// read at scrape time.
func (m *HTTPMetrics) RegisterPendingApprovals(pending func(context.Context) (int, error)) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "blueprint_approvals_pending",
		Help: "Runs parked for human approval",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := pending(ctx)
		if err != nil {
			m.logger.Warn(ctx, "failed to count pending approvals", zap.Error(err))
			return -1
		}
		return float64(n)
	}))
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			duration := time.Since(start)
			status := responseStatus(c, err)
			route := normalizePath(c.Path())

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", route),
				attribute.Int("status", status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, duration.Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}

			m.promReqs.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			m.promLatency.WithLabelValues(route).Observe(duration.Seconds())
			return err
		}
	}
}

// responseStatus is the status the error handler will write for err, or the
// written status when the handler succeeded.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return statusFor(err)
}

// normalizePath keeps metric labels bounded. c.Path is the route template
// (/api/v1/approvals/:token), so tokens never become labels; unmatched
// requests collapse to one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
