// Package events implements the structured event model for the client
// runtime's observable side channels: severity-tagged, field-carrying
// events emitted by the core and delivered to an embedder-registered Sink.
// The core never writes to stdout/stderr directly; a Sink is passed in at
// construction and the core loop calls it instead.
package events

import "time"

// Severity mirrors the Trace/Debug/Info/Warn/Error scale
type Severity int

const (
	Trace Severity = iota
	Debug
	Info
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Trace:
		return "trace"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the shape the core emits: {severity, span_id, name, fields}.
type Event struct {
	Severity Severity
	SpanID   string
	Name     string
	Fields   map[string]interface{}
	When     time.Time
}

// Sink receives emitted events. The embedder registers exactly one
// process-wide sink at create_client time; it is immutable thereafter.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans a single Emit out to every provided sink, in order. A nil
// entry is skipped so callers can conditionally include optional sinks.
func Multi(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range filtered {
			s.Emit(e)
		}
	})
}

// Discard is a Sink that drops every event; useful as a zero-value default
// so call sites never need a nil check.
var Discard Sink = SinkFunc(func(Event) {})

// Emitter is embedded by components that need to emit events tagged with a
// fixed span id and name prefix, cutting boilerplate at call sites.
type Emitter struct {
	Sink   Sink
	SpanID string
	Prefix string
}

func (e Emitter) emit(sev Severity, name string, fields map[string]interface{}) {
	if e.Sink == nil {
		return
	}
	if e.Prefix != "" {
		name = e.Prefix + "." + name
	}
	e.Sink.Emit(Event{
		Severity: sev,
		SpanID:   e.SpanID,
		Name:     name,
		Fields:   fields,
		When:     time.Now(),
	})
}

func (e Emitter) Trace(name string, fields map[string]interface{}) { e.emit(Trace, name, fields) }
func (e Emitter) Debug(name string, fields map[string]interface{}) { e.emit(Debug, name, fields) }
func (e Emitter) Info(name string, fields map[string]interface{})  { e.emit(Info, name, fields) }
func (e Emitter) Warn(name string, fields map[string]interface{})  { e.emit(Warn, name, fields) }
func (e Emitter) Err(name string, err error) {
	e.emit(Error, name, map[string]interface{}{"error": err.Error()})
}
