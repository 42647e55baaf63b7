// Package safetypolicy implements the policy primitive set (§4.C) and the
// AND-composition pipeline (§4.D). Each primitive satisfies
// safetytypes.Primitive: Check, Reset, PolicyType. State mutation happens
// only through explicit Spend/Step/Record calls made by higher layers after
// a decision — the pipeline itself never mutates a primitive.
//
// Grounded on internal/usage's Cost/Usage accounting style for the ledger
// shape, and internal/infra's CircuitBreaker for the lock-per-primitive
// discipline.
package safetypolicy

import (
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// BudgetEnforcer caps cumulative USD spend for a chain. spent_usd only ever
// increases; Spend is an atomic check-then-add so concurrent callers racing
// to exceed the limit never overshoot it by more than one denied caller's
// worth of slack.
type BudgetEnforcer struct {
	mu       sync.Mutex
	limitUSD float64
	spentUSD float64
}

// NewBudgetEnforcer creates a BudgetEnforcer with the given USD ceiling.
func NewBudgetEnforcer(limitUSD float64) *BudgetEnforcer {
	return &BudgetEnforcer{limitUSD: limitUSD}
}

func (b *BudgetEnforcer) PolicyType() string { return "budget" }

// Check denies when spent + the incoming call's projected cost would exceed
// the limit. It does not itself record the spend — Spend does that once the
// call is actually committed.
func (b *BudgetEnforcer) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spentUSD+ctx.CostUSD > b.limitUSD {
		return safetytypes.Denied("budget", "budget exceeded")
	}
	return safetytypes.AllowedDecision("budget")
}

// Spend atomically adds amount to spent_usd if doing so keeps the running
// total at or below the limit, and reports whether it did. Negative amounts
// are a caller bug.
func (b *BudgetEnforcer) Spend(amount float64) (bool, error) {
	if amount < 0 {
		return false, safetytypes.NewInvalidArgument("amount", amount, "spend amount must be non-negative")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.spentUSD + amount
	if next > b.limitUSD {
		return false, nil
	}
	b.spentUSD = next
	return true, nil
}

// Spent returns the current cumulative spend.
func (b *BudgetEnforcer) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spentUSD
}

// Remaining returns the unspent portion of the limit (never negative).
func (b *BudgetEnforcer) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.limitUSD - b.spentUSD
	if r < 0 {
		return 0
	}
	return r
}

// Utilization returns spent/limit in [0, +inf), 0 when the limit is 0.
func (b *BudgetEnforcer) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limitUSD == 0 {
		return 0
	}
	return b.spentUSD / b.limitUSD
}

// Reset clears spend, allowing the enforcer to be reused for a new chain.
func (b *BudgetEnforcer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentUSD = 0
}
