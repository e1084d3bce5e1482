package telemetry

import (
	"fmt"
	"net/url"
	"strings"
)

// Connection string keys understood by the manager. Keys are matched
// case-insensitively; unknown keys are kept in Fields.
const (
	connKeyInstrumentationKey = "instrumentationkey"
	connKeyIngestionEndpoint  = "ingestionendpoint"

	// HeaderInstrumentationKey carries the instrumentation key on every OTLP export.
	HeaderInstrumentationKey = "x-instrumentation-key"
)

// ConnectionString is the parsed form of a
// "InstrumentationKey=...;IngestionEndpoint=..." backend connection string.
type ConnectionString struct {
	InstrumentationKey string
	IngestionEndpoint  string
	Fields             map[string]string
}

// ParseConnectionString splits raw into its key=value pairs.
// Empty segments are ignored, so a trailing ';' is accepted.
// An InstrumentationKey is required.
func ParseConnectionString(raw string) (ConnectionString, error) {
	cs := ConnectionString{Fields: make(map[string]string)}

	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return ConnectionString{}, fmt.Errorf("%w: segment %q is not key=value", ErrInvalidConnectionString, segment)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(key) {
		case connKeyInstrumentationKey:
			cs.InstrumentationKey = value
		case connKeyIngestionEndpoint:
			cs.IngestionEndpoint = value
		default:
			cs.Fields[key] = value
		}
	}

	if cs.InstrumentationKey == "" {
		return ConnectionString{}, fmt.Errorf("%w: missing InstrumentationKey", ErrInvalidConnectionString)
	}
	return cs, nil
}

// apply points cfg at the ingestion endpoint and adds the instrumentation key header.
// An https endpoint forces TLS; an http endpoint forces an insecure connection.
// cfg.Headers is replaced by a copy, the caller's map is left as is.
func (cs ConnectionString) apply(cfg *Config) error {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers[HeaderInstrumentationKey] = cs.InstrumentationKey
	cfg.Headers = headers

	if cs.IngestionEndpoint == "" {
		return nil
	}

	u, err := url.Parse(cs.IngestionEndpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: bad IngestionEndpoint %q", ErrInvalidConnectionString, cs.IngestionEndpoint)
	}

	host := u.Host
	switch u.Scheme {
	case "https":
		cfg.Insecure = false
		if u.Port() == "" {
			host += ":443"
		}
	case "http":
		cfg.Insecure = true
		if u.Port() == "" {
			host += ":80"
		}
	default:
		return fmt.Errorf("%w: unsupported IngestionEndpoint scheme %q", ErrInvalidConnectionString, u.Scheme)
	}
	cfg.Endpoint = host
	return nil
}
