// Package models defines the core data structures for the items API.
// It includes the configuration model loaded from YAML and the Item record
// served by the HTTP endpoints.
package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fjacquet/items_api/internal/telemetry"
)

// ConnectionStringEnv is the environment variable that overrides
// telemetry.connectionString, matching the hosted backend's convention.
const ConnectionStringEnv = "APPLICATIONINSIGHTS_CONNECTION_STRING"

// Supported service variants. Each variant is a superset of the previous one.
const (
	VariantBasic      = 1 // item routes only
	VariantEnriched   = 2 // item routes with user tagging and custom events
	VariantShowcase   = 3 // every demo route
	DefaultVariant    = VariantShowcase
	DefaultUserHeader = "X-User-ID"
	DefaultLogLevel   = "info"
)

// Config represents the complete application configuration for the items API.
// It includes settings for the HTTP server and the telemetry pipeline.
type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		Host         string `yaml:"host"`
		MetricsURI   string `yaml:"metricsUri"`
		LogName      string `yaml:"logName"`
		Variant      int    `yaml:"variant"`
		UserIDHeader string `yaml:"userIdHeader"`
		LogLevel     string `yaml:"logLevel"`
	} `yaml:"server"`

	Telemetry struct {
		Enabled          bool    `yaml:"enabled"`
		Exporter         string  `yaml:"exporter"`
		Protocol         string  `yaml:"protocol"`
		Endpoint         string  `yaml:"endpoint"`
		Insecure         bool    `yaml:"insecure"`
		SamplingRate     float64 `yaml:"samplingRate"`
		ConnectionString string  `yaml:"connectionString"`
		ServiceName      string  `yaml:"serviceName"`
	} `yaml:"telemetry"`
}

// SetDefaults sets default values for optional configuration fields and
// applies the connection string environment override.
// This method is called automatically by Validate() before validation checks.
func (c *Config) SetDefaults() {
	if c.Server.MetricsURI == "" {
		c.Server.MetricsURI = "/metrics"
	}
	if c.Server.Variant == 0 {
		c.Server.Variant = DefaultVariant
	}
	if c.Server.UserIDHeader == "" {
		c.Server.UserIDHeader = DefaultUserHeader
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = telemetry.ExporterOTLP
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = telemetry.ProtocolGRPC
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "items-api"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1.0
	}
	if v := os.Getenv(ConnectionStringEnv); v != "" {
		c.Telemetry.ConnectionString = v
	}
}

// Validate checks if the configuration is valid and returns an error if not.
// It performs validation of:
//   - Server settings (host, port, metrics URI, variant, log level)
//   - Telemetry settings (exporter, protocol, sampling rate)
//
// This method calls SetDefaults() before validation to ensure optional fields
// have appropriate default values.
//
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	c.SetDefaults()

	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.New("server host is required")
	}
	if !strings.HasPrefix(c.Server.MetricsURI, "/") {
		return fmt.Errorf("invalid metrics URI: %s (must start with /)", c.Server.MetricsURI)
	}
	if c.Server.Variant < VariantBasic || c.Server.Variant > VariantShowcase {
		return fmt.Errorf("invalid variant: %d (must be 1, 2 or 3)", c.Server.Variant)
	}
	if strings.TrimSpace(c.Server.UserIDHeader) == "" {
		return errors.New("user ID header name must not be blank")
	}
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	switch c.Telemetry.Exporter {
	case telemetry.ExporterOTLP, telemetry.ExporterStdout, telemetry.ExporterNone:
	default:
		return fmt.Errorf("invalid telemetry exporter: %s (must be otlp, stdout or none)", c.Telemetry.Exporter)
	}
	if c.Telemetry.Protocol != telemetry.ProtocolGRPC && c.Telemetry.Protocol != telemetry.ProtocolHTTP {
		return fmt.Errorf("invalid telemetry protocol: %s (must be grpc or http/protobuf)", c.Telemetry.Protocol)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("invalid sampling rate: %v (must be between 0.0 and 1.0)", c.Telemetry.SamplingRate)
	}

	return nil
}

// GetServerAddress returns the complete server address for HTTP server binding.
// Format: host:port
//
// Example: "0.0.0.0:8000"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsOTelEnabled reports whether any telemetry pipeline should be built.
func (c *Config) IsOTelEnabled() bool {
	return c.Telemetry.Enabled && c.Telemetry.Exporter != telemetry.ExporterNone
}

// MaskConnectionString returns the connection string with every value hidden
// except the ingestion endpoint, for safe logging.
//
// Example: "InstrumentationKey=abcd;IngestionEndpoint=https://x" ->
// "InstrumentationKey=****;IngestionEndpoint=https://x"
func (c *Config) MaskConnectionString() string {
	if c.Telemetry.ConnectionString == "" {
		return ""
	}
	parts := strings.Split(c.Telemetry.ConnectionString, ";")
	for i, part := range parts {
		key, _, found := strings.Cut(part, "=")
		if !found || strings.EqualFold(strings.TrimSpace(key), "IngestionEndpoint") {
			continue
		}
		parts[i] = key + "=****"
	}
	return strings.Join(parts, ";")
}
