package safetypolicy

import (
	"testing"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

func TestAgentStepGuardDeniesAtCeiling(t *testing.T) {
	g := NewAgentStepGuard(2)

	if d := g.Check(safetytypes.PolicyContext{}); !d.Allowed {
		t.Fatal("expected allow before any steps")
	}
	g.Step("first")
	g.Step("second")

	if d := g.Check(safetytypes.PolicyContext{}); d.Allowed {
		t.Fatal("expected denial once step count reaches ceiling")
	}
}

func TestAgentStepGuardLastResultSurvivesCounterReset(t *testing.T) {
	g := NewAgentStepGuard(5)
	g.Step("partial output")

	if g.LastResult() != "partial output" {
		t.Fatalf("expected recorded partial result, got %v", g.LastResult())
	}
}

func TestAgentStepGuardResetClearsBoth(t *testing.T) {
	g := NewAgentStepGuard(1)
	g.Step("x")
	g.Reset()

	if g.Current() != 0 {
		t.Fatalf("expected counter reset to 0, got %d", g.Current())
	}
	if g.LastResult() != nil {
		t.Fatalf("expected last result cleared, got %v", g.LastResult())
	}
}
