package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// severityFilter ranks a SafetyEvent's decision so a sink can drop events
// below a configured floor, the way the teacher's audit Logger filters by
// Level before writing.
func severityRank(d safetytypes.Decision) int {
	switch d {
	case safetytypes.Allow:
		return 0
	case safetytypes.Degrade:
		return 1
	case safetytypes.Retry, safetytypes.Queue:
		return 2
	case safetytypes.Quarantine:
		return 3
	case safetytypes.Halt:
		return 4
	default:
		return 0
	}
}

// eventLine is the JSONL event line shape documented in spec.md §6.
type eventLine struct {
	EventID      string         `json:"event_id"`
	TS           string         `json:"ts"`
	RunID        string         `json:"run_id"`
	SessionID    string         `json:"session_id,omitempty"`
	StepID       string         `json:"step_id,omitempty"`
	ParentStepID string         `json:"parent_step_id,omitempty"`
	Severity     string         `json:"severity"`
	Type         string         `json:"type"`
	Labels       map[string]any `json:"labels,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

func toEventLine(event safetytypes.SafetyEvent) eventLine {
	sev := "info"
	switch severityRank(event.Decision) {
	case 1:
		sev = "warn"
	case 2:
		sev = "warn"
	case 3, 4:
		sev = "error"
	}
	return eventLine{
		EventID:  uuid.NewString(),
		TS:       event.TS.Format("2006-01-02T15:04:05.000000000Z07:00"),
		RunID:    event.RequestID,
		Severity: sev,
		Type:     event.EventType,
		Payload: map[string]any{
			"decision": string(event.Decision),
			"reason":   event.Reason,
			"hook":     event.Hook,
			"metadata": event.Metadata,
		},
	}
}

// StdoutSink serialises each event to one JSON line on a writer (stdout by
// default), with a minimum-severity floor.
type StdoutSink struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel int
	logger   *slog.Logger
}

// NewStdoutSink creates a sink writing to w (os.Stdout if nil) filtering out
// events ranked below minSeverity ("debug","info","warn","error","critical").
func NewStdoutSink(w io.Writer, minSeverity string) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{out: w, minLevel: severityFloor(minSeverity)}
}

func severityFloor(s string) int {
	switch s {
	case "warn":
		return 1
	case "error":
		return 3
	case "critical":
		return 4
	default:
		return 0
	}
}

func (s *StdoutSink) Emit(event safetytypes.SafetyEvent) {
	if severityRank(event.Decision) < s.minLevel {
		return
	}
	line := toEventLine(event)
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(append(b, '\n'))
}

// JSONLSink appends one JSON object per line to a file, fsyncing per write
// so concurrent writers never interleave partial lines — mirroring the
// teacher's audit.Logger file-output discipline and the append-mode,
// per-write-fsync contract spec.md §4.J requires for the audit log.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewJSONLSink opens (creating if needed) path in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONLSink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *JSONLSink) Emit(event safetytypes.SafetyEvent) {
	line := toEventLine(event)
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.f.Write(append(b, '\n'))
	_ = s.f.Sync()
}

// QueryByRunID performs a linear scan of the file looking for matching
// run_id fields, per spec.md §4.B.
func (s *JSONLSink) QueryByRunID(runID string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			continue
		}
		if rid, _ := m["run_id"].(string); rid == runID {
			out = append(out, m)
		}
	}
	return out, scanner.Err()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// CompositeSink fans out to children, catching per-child panics the way
// internal/agent/event_sink.go's MultiSink fans out to multiple EventSinks.
type CompositeSink struct {
	children []Sink
	logger   *slog.Logger
}

func NewCompositeSink(logger *slog.Logger, children ...Sink) *CompositeSink {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]Sink, 0, len(children))
	for _, c := range children {
		if c != nil {
			filtered = append(filtered, c)
		}
	}
	return &CompositeSink{children: filtered, logger: logger}
}

func (s *CompositeSink) Emit(event safetytypes.SafetyEvent) {
	for _, c := range s.children {
		s.emitOne(c, event)
	}
}

func (s *CompositeSink) emitOne(c Sink, event safetytypes.SafetyEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("composite child sink panicked", "panic", r)
		}
	}()
	c.Emit(event)
}

// NullSink discards everything. Used when EVENTS_DISABLED is set.
type NullSink struct{}

func (NullSink) Emit(safetytypes.SafetyEvent) {}
