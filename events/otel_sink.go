package events

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/trace"
)

// OtelSink records each emitted Event as an OpenTelemetry counter, keyed
// by event name and severity.
type OtelSink struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewOtelSink builds an OtelSink against the global meter provider under
// the given instrumentation name.
func NewOtelSink(instrumentationName string) *OtelSink {
	meter := global.Meter(instrumentationName)
	return &OtelSink{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
	}
}

// Emit is called concurrently from every independently goroutine-driven
// subsystem (internal/conn, internal/pool, internal/topology, internal/pubsub,
// retry callers), so counters is guarded rather than accessed bare.
func (s *OtelSink) Emit(e Event) {
	s.mu.Lock()
	c, ok := s.counters[e.Name]
	if !ok {
		c = metric.Must(s.meter).NewInt64Counter(e.Name)
		s.counters[e.Name] = c
	}
	s.mu.Unlock()

	c.Add(context.Background(), 1,
		attribute.String("severity", e.Severity.String()),
		attribute.String("span_id", e.SpanID),
	)
}

// Tracer returns the globally registered otel tracer for
// instrumentationName.
func Tracer(instrumentationName string) trace.Tracer {
	return otel.Tracer(instrumentationName)
}
