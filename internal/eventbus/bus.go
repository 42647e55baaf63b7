// Package eventbus implements the append-only structured event stream that
// records every non-ALLOW decision as an immutable safetytypes.SafetyEvent,
// fanning it out to sinks. It is grounded on the teacher's
// internal/agent/event_sink.go MultiSink/ChanSink fan-out pattern and
// internal/observability/events.go's EventStore query surface, adapted from
// "agent debugging timeline" to "safety decision stream".
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// Sink receives emitted SafetyEvents. A sink that can answer historical
// queries additionally implements Queryable; not all sinks can (e.g. Null).
type Sink interface {
	Emit(event safetytypes.SafetyEvent)
}

// Queryable is implemented by sinks that retain events and can answer
// queries by run (chain) id, such as the JSONL file sink.
type Queryable interface {
	QueryByRunID(runID string) ([]map[string]any, error)
}

// Bus owns a list of sinks and fans out every emitted event to each of
// them. A failing sink is logged and skipped — it never blocks or aborts
// delivery to the remaining sinks, matching the teacher's MultiSink and the
// spec's "a failing sink is logged and skipped, never propagated".
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// New creates an event bus with the given initial sinks.
func New(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Bus{sinks: filtered, logger: logger.With("component", "eventbus")}
}

// Attach adds a sink to the bus at runtime.
func (b *Bus) Attach(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Emit broadcasts event to every attached sink. Per-sink panics are
// recovered and logged so one misbehaving sink cannot take down the bus or
// the caller's wrap.
func (b *Bus) Emit(event safetytypes.SafetyEvent) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.emitOne(s, event)
	}
}

func (b *Bus) emitOne(s Sink, event safetytypes.SafetyEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("sink emit panicked", "panic", r, "event_type", event.EventType)
		}
	}()
	s.Emit(event)
}
