package logging

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) get() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

func newHookedLogger(t *testing.T) (*log.Logger, *memoryLogExporter) {
	t.Helper()
	exporter := &memoryLogExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(log.DebugLevel)
	logger.AddHook(NewOTelHook(lp, "test"))
	return logger, exporter
}

func attributes(rec sdklog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestOTelHookForwardsEntries(t *testing.T) {
	logger, exporter := newHookedLogger(t)

	logger.WithField("item", "Foo").Info("Returning item Foo")

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, "Returning item Foo", records[0].Body().AsString())
	assert.Equal(t, otellog.SeverityInfo, records[0].Severity())
	assert.Equal(t, "INFO", records[0].SeverityText())
	assert.Equal(t, "Foo", attributes(records[0])["item"])
}

func TestOTelHookSeverity(t *testing.T) {
	tests := []struct {
		level log.Level
		want  otellog.Severity
	}{
		{log.TraceLevel, otellog.SeverityTrace},
		{log.DebugLevel, otellog.SeverityDebug},
		{log.InfoLevel, otellog.SeverityInfo},
		{log.WarnLevel, otellog.SeverityWarn},
		{log.ErrorLevel, otellog.SeverityError},
		{log.FatalLevel, otellog.SeverityFatal},
		{log.PanicLevel, otellog.SeverityFatal4},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, severity(tt.level))
		})
	}
}

func TestOTelHookRespectsLoggerLevel(t *testing.T) {
	logger, exporter := newHookedLogger(t)
	logger.SetLevel(log.InfoLevel)

	logger.Debug("suppressed")
	logger.Error("Item not found")

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
}

func TestOTelHookUsesEntryContext(t *testing.T) {
	logger, exporter := newHookedLogger(t)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	logger.WithContext(ctx).WithFields(log.Fields{
		"trace_id": span.SpanContext().TraceID().String(),
		"span_id":  span.SpanContext().SpanID().String(),
	}).Info("Inside child span")
	span.End()

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, span.SpanContext().TraceID(), records[0].TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), records[0].SpanID())

	attrs := attributes(records[0])
	assert.NotContains(t, attrs, "trace_id", "correlation fields are carried by the record itself")
	assert.NotContains(t, attrs, "span_id")
}

func TestOTelHookStringifiesFields(t *testing.T) {
	logger, exporter := newHookedLogger(t)

	logger.WithError(errors.New("boom")).WithField("count", 3).Warn("failed")

	records := exporter.get()
	require.Len(t, records, 1)
	attrs := attributes(records[0])
	assert.Equal(t, "boom", attrs[log.ErrorKey])
	assert.Equal(t, "3", attrs["count"])
}
