// Package telemetry records OpenTelemetry metrics and spans for the event
// pipeline.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xiaot623/gogo/observability"

// Metric names.
const (
	MetricIngested     = "observer.events.ingested"
	MetricDerived      = "observer.events.derived"
	MetricDuplicates   = "observer.events.duplicates"
	MetricLookupErrors = "observer.detector.lookup_errors"
)

// Span names.
const (
	SpanIngest = "observer.ingest"
	SpanTrace  = "observer.trace"
)

// Recorder holds the pipeline instruments.
type Recorder struct {
	tracer trace.Tracer

	ingested     metric.Int64Counter
	derived      metric.Int64Counter
	duplicates   metric.Int64Counter
	lookupErrors metric.Int64Counter
}

// New creates a recorder on the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Recorder, error) {
	meter := mp.Meter(instrumentationName)
	r := &Recorder{tracer: tp.Tracer(instrumentationName)}

	var err error
	if r.ingested, err = meter.Int64Counter(MetricIngested,
		metric.WithDescription("Events accepted from callers"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ingested counter: %w", err)
	}
	if r.derived, err = meter.Int64Counter(MetricDerived,
		metric.WithDescription("Synthetic events stored by the engine"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create derived counter: %w", err)
	}
	if r.duplicates, err = meter.Int64Counter(MetricDuplicates,
		metric.WithDescription("Inserts rejected for a duplicate event_id"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duplicates counter: %w", err)
	}
	if r.lookupErrors, err = meter.Int64Counter(MetricLookupErrors,
		metric.WithDescription("Detector lookups that failed and yielded no event"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create lookup error counter: %w", err)
	}
	return r, nil
}

// NewGlobal creates a recorder on the globally registered providers.
func NewGlobal() (*Recorder, error) {
	return New(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// Nop returns a recorder that records nothing.
func Nop() *Recorder {
	r, _ := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return r
}

// Ingested counts one caller-supplied event.
func (r *Recorder) Ingested(ctx context.Context, sourceApp string) {
	r.ingested.Add(ctx, 1, metric.WithAttributes(attribute.String("source_app", sourceApp)))
}

// Derived counts one stored synthetic event.
func (r *Recorder) Derived(ctx context.Context, eventType string) {
	r.derived.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// Duplicate counts one rejected duplicate.
func (r *Recorder) Duplicate(ctx context.Context) {
	r.duplicates.Add(ctx, 1)
}

// LookupError counts one failed detector lookup.
func (r *Recorder) LookupError(ctx context.Context, rule string) {
	r.lookupErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// Start opens a span.
func (r *Recorder) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
