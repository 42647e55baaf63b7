package eventbus

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

type panicSink struct{}

func (panicSink) Emit(safetytypes.SafetyEvent) { panic("boom") }

type recordingSink struct {
	events []safetytypes.SafetyEvent
}

func (r *recordingSink) Emit(e safetytypes.SafetyEvent) {
	r.events = append(r.events, e)
}

func TestBusSkipsFailingSink(t *testing.T) {
	rec := &recordingSink{}
	bus := New(nil, panicSink{}, rec)

	bus.Emit(safetytypes.SafetyEvent{EventType: "test", Decision: safetytypes.Halt, TS: time.Now()})

	if len(rec.events) != 1 {
		t.Fatalf("expected the surviving sink to still receive the event, got %d", len(rec.events))
	}
}

func TestStdoutSinkSeverityFilter(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf, "error")

	sink.Emit(safetytypes.SafetyEvent{EventType: "t", Decision: safetytypes.Degrade, TS: time.Now()})
	if buf.Len() != 0 {
		t.Fatalf("expected DEGRADE to be filtered out below 'error' floor, got: %s", buf.String())
	}

	sink.Emit(safetytypes.SafetyEvent{EventType: "t", Decision: safetytypes.Halt, TS: time.Now()})
	if buf.Len() == 0 {
		t.Fatal("expected HALT to pass the 'error' floor")
	}
}

func TestJSONLSinkQueryByRunID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	defer sink.Close()

	sink.Emit(safetytypes.SafetyEvent{EventType: "a", Decision: safetytypes.Halt, RequestID: "run-1", TS: time.Now()})
	sink.Emit(safetytypes.SafetyEvent{EventType: "b", Decision: safetytypes.Allow, RequestID: "run-2", TS: time.Now()})
	sink.Emit(safetytypes.SafetyEvent{EventType: "c", Decision: safetytypes.Degrade, RequestID: "run-1", TS: time.Now()})

	matches, err := sink.QueryByRunID("run-1")
	if err != nil {
		t.Fatalf("QueryByRunID: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for run-1, got %d", len(matches))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := bytes.Count(data, []byte("\n"))
	if lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}

func TestCompositeSinkIsolatesChildPanic(t *testing.T) {
	rec := &recordingSink{}
	composite := NewCompositeSink(nil, panicSink{}, rec)
	composite.Emit(safetytypes.SafetyEvent{EventType: "t", Decision: safetytypes.Halt, TS: time.Now()})
	if len(rec.events) != 1 {
		t.Fatalf("expected surviving child to receive event, got %d", len(rec.events))
	}
}
