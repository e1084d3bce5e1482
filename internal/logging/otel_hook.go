package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

// Fields already carried by the record's trace context.
var correlationFields = map[string]bool{"trace_id": true, "span_id": true}

// OTelHook forwards logrus entries to an OpenTelemetry LoggerProvider, so
// application logs are exported alongside traces and metrics.
// The entry's context, when set, links the record to the active span.
type OTelHook struct {
	logger otellog.Logger
	levels []log.Level
}

// NewOTelHook creates a hook emitting through lp under the given scope name.
func NewOTelHook(lp otellog.LoggerProvider, scope string) *OTelHook {
	return &OTelHook{
		logger: lp.Logger(scope),
		levels: log.AllLevels,
	}
}

// InstallOTelHook registers a hook on the standard logger.
func InstallOTelHook(lp otellog.LoggerProvider, scope string) *OTelHook {
	hook := NewOTelHook(lp, scope)
	log.AddHook(hook)
	return hook
}

// Levels implements logrus.Hook.
func (h *OTelHook) Levels() []log.Level {
	return h.levels
}

// Fire implements logrus.Hook. Entry fields become string attributes in sorted order.
func (h *OTelHook) Fire(entry *log.Entry) error {
	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(strings.ToUpper(entry.Level.String()))
	rec.SetBody(otellog.StringValue(entry.Message))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if !correlationFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.String(k, fmt.Sprint(entry.Data[k])))
	}

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, rec)
	return nil
}

func severity(level log.Level) otellog.Severity {
	switch level {
	case log.TraceLevel:
		return otellog.SeverityTrace
	case log.DebugLevel:
		return otellog.SeverityDebug
	case log.InfoLevel:
		return otellog.SeverityInfo
	case log.WarnLevel:
		return otellog.SeverityWarn
	case log.ErrorLevel:
		return otellog.SeverityError
	case log.FatalLevel:
		return otellog.SeverityFatal
	case log.PanicLevel:
		return otellog.SeverityFatal4
	default:
		return otellog.SeverityUndefined
	}
}
