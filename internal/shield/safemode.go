package shield

import (
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// SafeMode is the emergency kill-switch. Enabled, it halts every tool
// dispatch and every retry unconditionally; disabled, it has no opinion
// anywhere. Toggling is expected to be driven by a hot-reloaded config
// value (internal/config), so the flag is guarded by its own lock rather
// than assumed to be set once at startup.
type SafeMode struct {
	mu      sync.RWMutex
	enabled bool
}

func NewSafeMode(enabled bool) *SafeMode {
	return &SafeMode{enabled: enabled}
}

func (s *SafeMode) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *SafeMode) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// BeforeLLMCall halts only calls carrying a non-empty tool name, per
// spec.md §4.F — a safe-mode trip is aimed at tool-capable dispatches, not
// bare generation.
func (s *SafeMode) BeforeLLMCall(ctx safetytypes.ToolCallContext) *Outcome {
	if !s.Enabled() {
		return allow()
	}
	if ctx.ToolName == "" {
		return allow()
	}
	return &Outcome{Decision: safetytypes.Halt, Reason: "safe mode enabled", EventType: "SAFE_MODE"}
}

func (s *SafeMode) OnError(ctx safetytypes.ToolCallContext, err error) *Outcome {
	if !s.Enabled() {
		return allow()
	}
	return &Outcome{Decision: safetytypes.Halt, Reason: "safe mode enabled", EventType: "SAFE_MODE"}
}
