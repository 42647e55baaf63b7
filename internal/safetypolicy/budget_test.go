package safetypolicy

import (
	"testing"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

func TestBudgetEnforcerDeniesOverLimit(t *testing.T) {
	b := NewBudgetEnforcer(10)
	decision := b.Check(safetytypes.PolicyContext{CostUSD: 11})
	if decision.Allowed {
		t.Fatal("expected denial when projected cost exceeds limit")
	}
}

func TestBudgetEnforcerSpendAtomicity(t *testing.T) {
	b := NewBudgetEnforcer(10)

	ok, err := b.Spend(6)
	if err != nil || !ok {
		t.Fatalf("expected first spend to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = b.Spend(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second spend to be rejected for exceeding limit")
	}
	if got := b.Spent(); got != 6 {
		t.Fatalf("expected spent to remain 6 after rejected spend, got %v", got)
	}
}

func TestBudgetEnforcerRejectsNegativeSpend(t *testing.T) {
	b := NewBudgetEnforcer(10)
	if _, err := b.Spend(-1); err == nil {
		t.Fatal("expected error for negative spend amount")
	}
}

func TestBudgetEnforcerResetClearsSpend(t *testing.T) {
	b := NewBudgetEnforcer(10)
	if _, err := b.Spend(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Reset()
	if got := b.Spent(); got != 0 {
		t.Fatalf("expected 0 after reset, got %v", got)
	}
	if got := b.Remaining(); got != 10 {
		t.Fatalf("expected full limit available after reset, got %v", got)
	}
}
