package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	acquisitionsTotal     metric.Int64Counter
	acquisitionsActive    metric.Int64UpDownCounter
	acquisitionDuration   metric.Float64Histogram
	pollAttempts          metric.Int64Histogram
	unrestrictTotal       metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram
	searchRequestsTotal   metric.Int64Counter
	streamBytesTotal      metric.Int64Counter

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, additionally pushes metrics to an OTLP gRPC collector.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled instance is safe to use and records nothing.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Go runtime metrics.
	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectUptime(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer, falling back to the global one when disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("debrid_streamer")
	}

	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, route, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, -1)
	}
}

// RecordAcquisition records the outcome of one acquisition. outcome is a bounded
// label such as "success", "timeout" or "provider_error".
func (t *Telemetry) RecordAcquisition(ctx context.Context, outcome string, duration time.Duration) {
	if t == nil || t.acquisitionsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", outcome))

	t.acquisitionsTotal.Add(ctx, 1, attrs)
	t.acquisitionDuration.Record(ctx, duration.Seconds(), attrs)
}

// IncrementActiveAcquisitions increments the in-progress acquisitions gauge.
func (t *Telemetry) IncrementActiveAcquisitions(ctx context.Context) {
	if t != nil && t.acquisitionsActive != nil {
		t.acquisitionsActive.Add(ctx, 1)
	}
}

// DecrementActiveAcquisitions decrements the in-progress acquisitions gauge.
func (t *Telemetry) DecrementActiveAcquisitions(ctx context.Context) {
	if t != nil && t.acquisitionsActive != nil {
		t.acquisitionsActive.Add(ctx, -1)
	}
}

// RecordPollAttempts records how many status polls an acquisition needed.
func (t *Telemetry) RecordPollAttempts(ctx context.Context, attempts int, outcome string) {
	if t != nil && t.pollAttempts != nil {
		t.pollAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("status", outcome)))
	}
}

// RecordUnrestrict records a single link unrestriction.
func (t *Telemetry) RecordUnrestrict(ctx context.Context, status string) {
	if t != nil && t.unrestrictTotal != nil {
		t.unrestrictTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordClientOperation records debrid client operation metrics.
func (t *Telemetry) RecordClientOperation(ctx context.Context, client, operation, status string) {
	if t == nil || t.clientOperationsTotal == nil {
		return
	}

	t.clientOperationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.clientErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSearch records one search provider call.
func (t *Telemetry) RecordSearch(ctx context.Context, provider, status string) {
	if t != nil && t.searchRequestsTotal != nil {
		t.searchRequestsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("status", status),
			),
		)
	}
}

// RecordStreamBytes records bytes relayed by the stream proxy.
func (t *Telemetry) RecordStreamBytes(ctx context.Context, n int64) {
	if t != nil && t.streamBytesTotal != nil {
		t.streamBytesTotal.Add(ctx, n)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return errors.Join(
		t.meterProvider.Shutdown(ctx),
		t.tracerProvider.Shutdown(ctx),
	)
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.acquisitionsTotal, err = t.meter.Int64Counter(
		"acquisitions_total",
		metric.WithDescription("Total number of acquisitions by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create acquisitions_total counter: %w", err)
	}

	t.acquisitionsActive, err = t.meter.Int64UpDownCounter(
		"acquisitions_active",
		metric.WithDescription("Number of acquisitions in progress"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create acquisitions_active counter: %w", err)
	}

	t.acquisitionDuration, err = t.meter.Float64Histogram(
		"acquisition_duration_seconds",
		metric.WithDescription("Acquisition duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create acquisition_duration histogram: %w", err)
	}

	t.pollAttempts, err = t.meter.Int64Histogram(
		"acquisition_poll_attempts",
		metric.WithDescription("Torrent status polls per acquisition"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create acquisition_poll_attempts histogram: %w", err)
	}

	t.unrestrictTotal, err = t.meter.Int64Counter(
		"unrestrict_total",
		metric.WithDescription("Total number of link unrestrictions by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create unrestrict_total counter: %w", err)
	}

	t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of debrid client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of debrid client errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	t.searchRequestsTotal, err = t.meter.Int64Counter(
		"search_requests_total",
		metric.WithDescription("Total number of search provider requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create search_requests_total counter: %w", err)
	}

	t.streamBytesTotal, err = t.meter.Int64Counter(
		"stream_bytes_total",
		metric.WithDescription("Bytes relayed by the stream proxy"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create stream_bytes_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) collectUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
		}
	}
}
