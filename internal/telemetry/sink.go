package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ScopeName is the instrumentation scope of every tracer, meter and logger
// created by the service.
const ScopeName = "github.com/fjacquet/items_api"

// Sink is the telemetry surface available to request handlers.
// Every method is fire-and-forget: failures are logged, never returned, so a
// broken pipeline cannot change an HTTP response.
//
// Span operations act on the span carried by ctx; with no span they are no-ops.
type Sink interface {
	Log(ctx context.Context, level logrus.Level, msg string)
	CounterAdd(ctx context.Context, name string, delta int64)
	HistogramRecord(ctx context.Context, name string, value float64, unit string)
	CustomEvent(ctx context.Context, name string, payload map[string]string)
	SetSpanAttribute(ctx context.Context, key, value string)
	RecordException(ctx context.Context, err error)
	SetSpanStatus(ctx context.Context, code codes.Code, msg string)
	StartChildSpan(ctx context.Context, name string) (context.Context, trace.Span)
}

// OTelSink implements Sink on top of OpenTelemetry providers and a logrus logger.
// Instruments are created on first use and cached by name.
type OTelSink struct {
	entries *logrus.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	events  otellog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

var _ Sink = (*OTelSink)(nil)

// NewSink creates a sink from the given providers. Nil providers are replaced
// by no-op ones. Log lines go to the logrus standard logger.
func NewSink(tp trace.TracerProvider, mp metric.MeterProvider, lp otellog.LoggerProvider) *OTelSink {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	if lp == nil {
		lp = lognoop.NewLoggerProvider()
	}
	return &OTelSink{
		entries:    logrus.StandardLogger(),
		tracer:     tp.Tracer(ScopeName),
		meter:      mp.Meter(ScopeName),
		events:     lp.Logger(ScopeName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewSinkFromManager builds a sink on the manager's providers.
func NewSinkFromManager(m *Manager) *OTelSink {
	return NewSink(m.TracerProvider(), m.MeterProvider(), m.LoggerProvider())
}

// WithLogger replaces the logrus logger used by Log.
func (s *OTelSink) WithLogger(l *logrus.Logger) *OTelSink {
	s.entries = l
	return s
}

// Log writes msg at level, tagged with the active trace and span IDs.
// Records reach the OTel log pipeline through the logging hook.
func (s *OTelSink) Log(ctx context.Context, level logrus.Level, msg string) {
	entry := s.entries.WithContext(ctx)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	entry.Log(level, msg)
}

// CounterAdd adds delta to the named counter.
func (s *OTelSink) CounterAdd(ctx context.Context, name string, delta int64) {
	counter, err := s.counter(name)
	if err != nil {
		s.entries.WithError(err).WithField("instrument", name).Warn("Failed to create counter")
		return
	}
	counter.Add(ctx, delta)
}

// HistogramRecord records value on the named histogram. The unit is fixed by
// the first call for a name; an empty unit falls back to the catalog.
func (s *OTelSink) HistogramRecord(ctx context.Context, name string, value float64, unit string) {
	histogram, err := s.histogram(name, unit)
	if err != nil {
		s.entries.WithError(err).WithField("instrument", name).Warn("Failed to create histogram")
		return
	}
	histogram.Record(ctx, value)
}

func (s *OTelSink) counter(name string) (metric.Int64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	def, err := lookup(name, KindCounter)
	if err != nil {
		return nil, err
	}
	opts := []metric.Int64CounterOption{metric.WithDescription(def.Description)}
	if def.Unit != "" {
		opts = append(opts, metric.WithUnit(def.Unit))
	}
	c, err := s.meter.Int64Counter(name, opts...)
	if err != nil {
		return nil, err
	}
	s.counters[name] = c
	return c, nil
}

func (s *OTelSink) histogram(name, unit string) (metric.Float64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	def, err := lookup(name, KindHistogram)
	if err != nil {
		return nil, err
	}
	if unit == "" {
		unit = def.Unit
	}
	opts := []metric.Float64HistogramOption{metric.WithDescription(def.Description)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	h, err := s.meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, err
	}
	s.histograms[name] = h
	return h, nil
}

// CustomEvent emits a named event as a log record carrying the event name
// attribute. Payload keys are added in sorted order.
func (s *OTelSink) CustomEvent(ctx context.Context, name string, payload map[string]string) {
	var rec otellog.Record
	rec.SetEventName(name)
	rec.SetTimestamp(time.Now())
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetSeverityText("INFO")
	rec.SetBody(otellog.StringValue(name))

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]otellog.KeyValue, 0, len(keys)+1)
	attrs = append(attrs, otellog.String(AttrCustomEventName, name))
	for _, k := range keys {
		attrs = append(attrs, otellog.String(k, payload[k]))
	}
	rec.AddAttributes(attrs...)

	s.events.Emit(ctx, rec)
}

// SetSpanAttribute sets a string attribute on the active span.
func (s *OTelSink) SetSpanAttribute(ctx context.Context, key, value string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(key, value))
}

// RecordException attaches err to the active span as an exception event.
func (s *OTelSink) RecordException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}

// SetSpanStatus sets the status of the active span.
func (s *OTelSink) SetSpanStatus(ctx context.Context, code codes.Code, msg string) {
	trace.SpanFromContext(ctx).SetStatus(code, msg)
}

// StartChildSpan starts an internal span under the span carried by ctx.
// The caller must End the returned span.
func (s *OTelSink) StartChildSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
}
