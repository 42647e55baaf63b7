package safetypolicy

import (
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// AgentStepGuard is a monotonic step counter with a configured ceiling. The
// last non-nil partial result fed to Step survives a Reset of the counter
// but not a Reset of the guard itself — it is the mechanism by which a
// halted chain's caller can still extract partial output (spec.md §9).
type AgentStepGuard struct {
	mu         sync.Mutex
	maxSteps   int
	current    int
	lastResult any
}

func NewAgentStepGuard(maxSteps int) *AgentStepGuard {
	return &AgentStepGuard{maxSteps: maxSteps}
}

func (g *AgentStepGuard) PolicyType() string { return "step_limit" }

func (g *AgentStepGuard) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current >= g.maxSteps {
		return safetytypes.Denied("step_limit", "step limit reached")
	}
	return safetytypes.AllowedDecision("step_limit")
}

// Step increments the counter and, if result is non-nil, records it as the
// most recent partial result.
func (g *AgentStepGuard) Step(result any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	if result != nil {
		g.lastResult = result
	}
}

// Current returns the current step count.
func (g *AgentStepGuard) Current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// LastResult returns the most recently recorded partial result, or nil.
func (g *AgentStepGuard) LastResult() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastResult
}

// Reset clears both the counter and the last partial result.
func (g *AgentStepGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = 0
	g.lastResult = nil
}
