// Package telemetry provides OpenTelemetry integration for the items API.
//
// This package manages the lifecycle of the trace, metric and log pipelines
// and exposes the Sink through which request handlers emit signals.
//
// # Key Components
//
// Manager: Builds the TracerProvider, MeterProvider and LoggerProvider from
// Config, owns the Prometheus registry behind the metrics endpoint, and shuts
// every provider down on exit.
//
// Sink: The handler-facing surface (logs, counters, histograms, custom events,
// span attributes, exceptions, span status, child spans). OTelSink implements
// it on the manager's providers; tests substitute a recorder.
//
// Instruments: The catalog of metric names, units and descriptions.
//
// Attributes: Centralized attribute key constants.
//
// # Usage Example
//
//	manager := telemetry.NewManager(telemetry.Config{
//	    Enabled:      true,
//	    Exporter:     telemetry.ExporterOTLP,
//	    Protocol:     telemetry.ProtocolGRPC,
//	    Endpoint:     "localhost:4317",
//	    Insecure:     true,
//	    SamplingRate: 1.0,
//	    ServiceName:  "items-api",
//	})
//	if err := manager.Initialize(ctx); err != nil {
//	    log.Fatalf("Failed to initialize telemetry: %v", err)
//	}
//	defer manager.Shutdown(ctx)
//
//	sink := telemetry.NewSinkFromManager(manager)
//	sink.CounterAdd(ctx, telemetry.MetricItemsCreated, 1)
//
// # Connection Strings
//
// A connection string of the form
// "InstrumentationKey=<key>;IngestionEndpoint=https://<host>/" replaces the
// configured endpoint. The key is sent as the x-instrumentation-key header on
// every export and an https endpoint forces TLS.
//
// # Graceful Degradation
//
// If an exporter cannot be created, that signal is skipped and the service
// keeps running. Local Prometheus metrics are always available.
package telemetry
