package telemetry

import "errors"

// ErrUnknownExporter is returned when the configured exporter or protocol is
// not one the manager can build.
var ErrUnknownExporter = errors.New("unknown telemetry exporter")

// ErrInvalidConnectionString is returned by ParseConnectionString when the
// string is malformed or lacks an instrumentation key.
var ErrInvalidConnectionString = errors.New("invalid connection string")

// ErrInstrumentKind is returned when a catalog instrument is recorded as the
// wrong kind, such as adding to a histogram.
var ErrInstrumentKind = errors.New("instrument kind mismatch")

// Error message templates for common scenarios
const (
	// ErrExporterUnavailableTemplate is logged when an exporter cannot be created
	// at startup. The service keeps running with that signal disabled.
	ErrExporterUnavailableTemplate = `Failed to create %s exporter: %v

The service will continue without exporting %s.

Troubleshooting steps:
1. Check 'telemetry.endpoint' in config.yaml (host:port for grpc, URL for http/protobuf)
2. Check 'telemetry.protocol' matches the collector listener (grpc on 4317, http/protobuf on 4318)
3. Set 'telemetry.insecure: true' when the collector has no TLS certificate

Example configuration:
  telemetry:
    enabled: true
    exporter: otlp
    protocol: grpc
    endpoint: "localhost:4317"
    insecure: true`

	// ErrConnectionStringTemplate is logged when the connection string cannot be parsed.
	ErrConnectionStringTemplate = `Connection string is not usable: %v

Expected format:
  InstrumentationKey=<key>;IngestionEndpoint=https://<region>.in.applicationinsights.azure.com/

The value is read from the %s environment variable when set,
otherwise from 'telemetry.connectionString' in config.yaml.
Connection string (masked): %s`
)
