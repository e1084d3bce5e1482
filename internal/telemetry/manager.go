package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter modes and OTLP protocols accepted in Config.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Manager handles OpenTelemetry initialization, lifecycle management, and shutdown.
// It owns the TracerProvider, MeterProvider and LoggerProvider and the Prometheus
// registry that backs the local metrics endpoint.
//
// The MeterProvider always exists after Initialize, even when exporting is
// disabled, so the metrics endpoint keeps working without a collector.
type Manager struct {
	enabled        bool
	config         Config
	registry       *prometheus.Registry
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// Config holds OpenTelemetry configuration settings for the telemetry manager.
// These settings control where traces, metrics and logs are exported.
type Config struct {
	// Enabled indicates whether signals are exported at all
	Enabled bool

	// Exporter selects the backend: otlp, stdout or none
	Exporter string

	// Protocol is the OTLP wire protocol: grpc or http/protobuf
	Protocol string

	// Endpoint is the collector endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure controls whether to use an insecure connection (no TLS)
	Insecure bool

	// Headers are sent with every OTLP export request
	Headers map[string]string

	// ConnectionString, when set, overrides Endpoint, Insecure and adds the
	// instrumentation key header (see ParseConnectionString)
	ConnectionString string

	// SamplingRate determines the percentage of traces to sample (0.0 to 1.0)
	SamplingRate float64

	// ServiceName is the name of the service for resource attributes
	ServiceName string

	// ServiceVersion is the version of the service for resource attributes
	ServiceVersion string

	// Writer receives stdout exporter output; defaults to os.Stdout
	Writer io.Writer
}

// NewManager creates a new telemetry manager with the provided configuration.
// The manager is not initialized until Initialize() is called.
func NewManager(cfg Config) *Manager {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	return &Manager{
		enabled:  cfg.Enabled && cfg.Exporter != ExporterNone,
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
}

// Initialize sets up the OpenTelemetry providers and exporters.
//
// The Prometheus reader is always attached to the MeterProvider. When exporting
// is enabled, each signal gets its own exporter; a signal whose exporter cannot
// be created is logged and skipped so the application keeps running.
//
// Returns an error only when the local Prometheus reader cannot be registered.
func (m *Manager) Initialize(ctx context.Context) error {
	res, err := m.createResource(ctx)
	if err != nil {
		logrus.Warnf("Failed to create OpenTelemetry resource: %v. Using default resource.", err)
		res = resource.Default()
	}

	promReader, err := otelprom.New(otelprom.WithRegisterer(m.registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus reader: %w", err)
	}
	meterOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promReader),
	}

	if m.enabled && m.config.ConnectionString != "" {
		if err := m.applyConnectionString(); err != nil {
			logrus.Warnf(ErrConnectionStringTemplate, err, "APPLICATIONINSIGHTS_CONNECTION_STRING", "****")
			m.enabled = false
		}
	}

	if m.enabled {
		exported := 0

		if exporter, err := m.createMetricExporter(ctx); err != nil {
			logrus.Warnf(ErrExporterUnavailableTemplate, "metric", err, "metrics")
		} else {
			meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
			exported++
		}

		if exporter, err := m.createTraceExporter(ctx); err != nil {
			logrus.Warnf(ErrExporterUnavailableTemplate, "trace", err, "traces")
		} else {
			m.tracerProvider = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter),
				sdktrace.WithResource(res),
				sdktrace.WithSampler(m.createSampler()),
			)
			otel.SetTracerProvider(m.tracerProvider)
			exported++
		}

		if exporter, err := m.createLogExporter(ctx); err != nil {
			logrus.Warnf(ErrExporterUnavailableTemplate, "log", err, "logs")
		} else {
			m.loggerProvider = sdklog.NewLoggerProvider(
				sdklog.WithProcessor(m.createLogProcessor(exporter)),
				sdklog.WithResource(res),
			)
			global.SetLoggerProvider(m.loggerProvider)
			exported++
		}

		if exported == 0 {
			logrus.Warn("No telemetry exporter could be created. Continuing without exporting.")
			m.enabled = false
		}
	} else {
		logrus.Debug("OpenTelemetry export is disabled in configuration")
	}

	m.meterProvider = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(m.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if m.enabled {
		logrus.Infof("OpenTelemetry initialized successfully (exporter: %s, protocol: %s, endpoint: %s, sampling: %.2f)",
			m.config.Exporter, m.config.Protocol, m.config.Endpoint, m.config.SamplingRate)
	}
	return nil
}

func (m *Manager) applyConnectionString() error {
	cs, err := ParseConnectionString(m.config.ConnectionString)
	if err != nil {
		return err
	}
	return cs.apply(&m.config)
}

// createTraceExporter creates the span exporter for the configured exporter and protocol.
func (m *Manager) createTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch {
	case m.config.Exporter == ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(m.config.Writer))
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(ctx, opts...)
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExporter, m.config.Exporter, m.config.Protocol)
	}
}

// createMetricExporter creates the push exporter used by the periodic reader.
func (m *Manager) createMetricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	switch {
	case m.config.Exporter == ExporterStdout:
		return stdoutmetric.New(stdoutmetric.WithWriter(m.config.Writer))
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExporter, m.config.Exporter, m.config.Protocol)
	}
}

// createLogExporter creates the log record exporter. Custom events travel on this pipeline.
func (m *Manager) createLogExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch {
	case m.config.Exporter == ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(m.config.Writer))
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolGRPC:
		opts := []otlploggrpc.Option{otlploggrpc.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlploggrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlploggrpc.New(ctx, opts...)
	case m.config.Exporter == ExporterOTLP && m.config.Protocol == ProtocolHTTP:
		opts := []otlploghttp.Option{otlploghttp.WithHeaders(m.config.Headers)}
		if m.config.Endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpoint(m.config.Endpoint))
		}
		if m.config.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExporter, m.config.Exporter, m.config.Protocol)
	}
}

// createLogProcessor exports stdout records synchronously so they interleave
// with console logs; network exporters are batched.
func (m *Manager) createLogProcessor(exporter sdklog.Exporter) sdklog.Processor {
	if m.config.Exporter == ExporterStdout {
		return sdklog.NewSimpleProcessor(exporter)
	}
	return sdklog.NewBatchProcessor(exporter)
}

// createResource creates a resource with service and host attributes.
func (m *Manager) createResource(ctx context.Context) (*resource.Resource, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(m.config.ServiceName),
			semconv.ServiceVersionKey.String(m.config.ServiceVersion),
			semconv.HostNameKey.String(hostname),
		),
	)
}

// createSampler creates a sampler based on the configured sampling rate.
// Child spans follow their parent's decision.
func (m *Manager) createSampler() sdktrace.Sampler {
	if m.config.SamplingRate >= 1.0 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.SamplingRate))
}

// Shutdown flushes pending telemetry data and cleans up resources.
// Every provider is shut down even if an earlier one fails; the errors are joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.tracerProvider == nil && m.meterProvider == nil && m.loggerProvider == nil {
		logrus.Debug("OpenTelemetry shutdown skipped (not initialized)")
		return nil
	}

	logrus.Info("Shutting down OpenTelemetry providers...")

	var errs []error
	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown TracerProvider: %w", err))
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown MeterProvider: %w", err))
		}
	}
	if m.loggerProvider != nil {
		if err := m.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown LoggerProvider: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logrus.Errorf("Error during OpenTelemetry shutdown: %v", err)
		return err
	}

	logrus.Info("OpenTelemetry shutdown completed successfully")
	return nil
}

// IsEnabled returns whether signals are exported to a backend.
// This can be false if exporting was disabled in configuration or if
// every exporter failed to initialize.
func (m *Manager) IsEnabled() bool {
	return m.enabled
}

// TracerProvider returns the configured TracerProvider for explicit injection.
// Returns a no-op provider if tracing is not available.
func (m *Manager) TracerProvider() trace.TracerProvider {
	if m.tracerProvider == nil {
		return tracenoop.NewTracerProvider()
	}
	return m.tracerProvider
}

// MeterProvider returns the MeterProvider, or a no-op provider before Initialize.
func (m *Manager) MeterProvider() metric.MeterProvider {
	if m.meterProvider == nil {
		return metricnoop.NewMeterProvider()
	}
	return m.meterProvider
}

// LoggerProvider returns the LoggerProvider, or a no-op provider if log export
// is not available.
func (m *Manager) LoggerProvider() otellog.LoggerProvider {
	if m.loggerProvider == nil {
		return lognoop.NewLoggerProvider()
	}
	return m.loggerProvider
}

// Registry returns the Prometheus registry fed by the MeterProvider.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func (m *Manager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
