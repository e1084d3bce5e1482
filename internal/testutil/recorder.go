package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/fjacquet/items_api/internal/telemetry"
)

// Recorded operation kinds.
const (
	OpLog       = "log"
	OpCounter   = "counter"
	OpHistogram = "histogram"
	OpEvent     = "event"
	OpAttribute = "attribute"
	OpException = "exception"
	OpStatus    = "status"
	OpSpanStart = "span_start"
	OpSpanEnd   = "span_end"
	OpSleep     = "sleep"
)

// Call is one recorded Sink (or sleeper) invocation.
type Call struct {
	Op      string
	Name    string // instrument, event, attribute key or span name
	Level   logrus.Level
	Message string
	Value   string
	Delta   int64
	Amount  float64
	Unit    string
	Payload map[string]string
	Err     error
	Code    codes.Code
	Delay   time.Duration
	// Span is the name of the innermost child span active in the call's context.
	Span string
}

type spanKey struct{}

// Recorder is a telemetry.Sink that keeps every call in order.
// Its Sleep method records a delay instead of sleeping, so the same recorder
// can stand in for a handler's sleeper and show how sleeps interleave with spans.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

var _ telemetry.Sink = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(ctx context.Context, c Call) {
	if name, ok := ctx.Value(spanKey{}).(string); ok {
		c.Span = name
	}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Log implements telemetry.Sink.
func (r *Recorder) Log(ctx context.Context, level logrus.Level, msg string) {
	r.record(ctx, Call{Op: OpLog, Level: level, Message: msg})
}

// CounterAdd implements telemetry.Sink.
func (r *Recorder) CounterAdd(ctx context.Context, name string, delta int64) {
	r.record(ctx, Call{Op: OpCounter, Name: name, Delta: delta})
}

// HistogramRecord implements telemetry.Sink.
func (r *Recorder) HistogramRecord(ctx context.Context, name string, value float64, unit string) {
	r.record(ctx, Call{Op: OpHistogram, Name: name, Amount: value, Unit: unit})
}

// CustomEvent implements telemetry.Sink.
func (r *Recorder) CustomEvent(ctx context.Context, name string, payload map[string]string) {
	copied := make(map[string]string, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	r.record(ctx, Call{Op: OpEvent, Name: name, Payload: copied})
}

// SetSpanAttribute implements telemetry.Sink.
func (r *Recorder) SetSpanAttribute(ctx context.Context, key, value string) {
	r.record(ctx, Call{Op: OpAttribute, Name: key, Value: value})
}

// RecordException implements telemetry.Sink.
func (r *Recorder) RecordException(ctx context.Context, err error) {
	r.record(ctx, Call{Op: OpException, Err: err})
}

// SetSpanStatus implements telemetry.Sink.
func (r *Recorder) SetSpanStatus(ctx context.Context, code codes.Code, msg string) {
	r.record(ctx, Call{Op: OpStatus, Code: code, Message: msg})
}

// StartChildSpan implements telemetry.Sink. The returned span records its End.
func (r *Recorder) StartChildSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	r.record(ctx, Call{Op: OpSpanStart, Name: name})
	childCtx := context.WithValue(ctx, spanKey{}, name)
	return childCtx, &recordedSpan{Span: tracenoop.Span{}, recorder: r, ctx: ctx, name: name}
}

// Sleep records d without blocking. Use it as a handler's sleeper.
func (r *Recorder) Sleep(d time.Duration) {
	r.record(context.TODO(), Call{Op: OpSleep, Delay: d})
}

type recordedSpan struct {
	trace.Span
	recorder *Recorder
	ctx      context.Context
	name     string
}

func (s *recordedSpan) End(...trace.SpanEndOption) {
	s.recorder.record(s.ctx, Call{Op: OpSpanEnd, Name: s.name})
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded operation kinds in order.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Filter returns the calls of the given kind.
func (r *Recorder) Filter(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns the log messages at level, in order.
func (r *Recorder) Messages(level logrus.Level) []string {
	var out []string
	for _, c := range r.Filter(OpLog) {
		if c.Level == level {
			out = append(out, c.Message)
		}
	}
	return out
}

// CounterTotal sums every delta added to the named counter.
func (r *Recorder) CounterTotal(name string) int64 {
	var total int64
	for _, c := range r.Filter(OpCounter) {
		if c.Name == name {
			total += c.Delta
		}
	}
	return total
}

// HistogramValues returns the values recorded on the named histogram.
func (r *Recorder) HistogramValues(name string) []float64 {
	var out []float64
	for _, c := range r.Filter(OpHistogram) {
		if c.Name == name {
			out = append(out, c.Amount)
		}
	}
	return out
}

// Events returns the custom events with the given name.
func (r *Recorder) Events(name string) []Call {
	var out []Call
	for _, c := range r.Filter(OpEvent) {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Attributes returns the span attributes set so far; later values win.
func (r *Recorder) Attributes() map[string]string {
	out := map[string]string{}
	for _, c := range r.Filter(OpAttribute) {
		out[c.Name] = c.Value
	}
	return out
}

// Exceptions returns the errors recorded on spans.
func (r *Recorder) Exceptions() []error {
	var out []error
	for _, c := range r.Filter(OpException) {
		out = append(out, c.Err)
	}
	return out
}

// Sleeps returns the recorded sleep durations, in order.
func (r *Recorder) Sleeps() []time.Duration {
	var out []time.Duration
	for _, c := range r.Filter(OpSleep) {
		out = append(out, c.Delay)
	}
	return out
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
