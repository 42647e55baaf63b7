// Package budgetbackend provides the counter a distributed deployment shares
// across processes when a single process's in-memory BudgetEnforcer isn't
// enough to cap spend chain-wide. Every implementation exposes the same
// four operations so BudgetEnforcer (internal/safetypolicy) can be backed
// by either one without changing its own logic.
package budgetbackend

import "github.com/amabito/veronica-core-sub002/internal/safetytypes"

// Backend is a distributed or local running total. add is atomic:
// concurrent callers racing to add against the same backend never lose an
// update. Negative amounts are a caller bug, not a legitimate decrement.
type Backend interface {
	Add(amount float64) (float64, error)
	Get() (float64, error)
	Reset() error
	Close() error
}

func checkAmount(amount float64) error {
	if amount < 0 {
		return safetytypes.NewInvalidArgument("amount", amount, "budget backend add() does not accept negative amounts")
	}
	return nil
}
