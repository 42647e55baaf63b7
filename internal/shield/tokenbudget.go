package shield

import (
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// TokenBudgetHook enforces a cumulative output-token cap (and optionally an
// input+output total cap) with a reservation/commit handshake: BeforeLLMCall
// reserves the caller's token estimate before admitting it, so two
// concurrent callers racing the same brink can't both be let through on a
// stale projection. RecordUsage later reconciles the reservation against
// what was actually spent.
type TokenBudgetHook struct {
	mu sync.Mutex

	committedOut int64
	committedIn  int64
	pendingOut   int64
	pendingIn    int64

	maxOutput int64
	maxTotal  int64 // 0 disables the combined check
	degrade   float64
}

type TokenBudgetConfig struct {
	MaxOutput int64
	MaxTotal  int64
	Degrade   float64 // default 0.8
}

func NewTokenBudgetHook(cfg TokenBudgetConfig) *TokenBudgetHook {
	if cfg.Degrade <= 0 {
		cfg.Degrade = 0.8
	}
	return &TokenBudgetHook{maxOutput: cfg.MaxOutput, maxTotal: cfg.MaxTotal, degrade: cfg.Degrade}
}

func (h *TokenBudgetHook) BeforeLLMCall(ctx safetytypes.ToolCallContext) *Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	projectedOut := h.committedOut + h.pendingOut + ctx.TokensOut

	outcome := h.evaluate(projectedOut, ctx)
	if outcome != nil && outcome.Decision == safetytypes.Halt {
		return outcome
	}

	// Reserve on anything short of HALT, including DEGRADE, so the call
	// still proceeds but counts against the next check.
	h.pendingOut += ctx.TokensOut
	h.pendingIn += ctx.TokensIn
	return outcome
}

func (h *TokenBudgetHook) evaluate(projectedOut int64, ctx safetytypes.ToolCallContext) *Outcome {
	if h.maxOutput > 0 {
		if projectedOut >= h.maxOutput {
			return &Outcome{Decision: safetytypes.Halt, Reason: "output token budget exhausted", EventType: "TOKEN_BUDGET_EXCEEDED"}
		}
	}
	if h.maxTotal > 0 {
		projectedTotal := h.committedOut + h.pendingOut + h.committedIn + h.pendingIn + ctx.TokensOut + ctx.TokensIn
		if projectedTotal >= h.maxTotal {
			return &Outcome{Decision: safetytypes.Halt, Reason: "total token budget exhausted", EventType: "TOKEN_BUDGET_EXCEEDED"}
		}
		if float64(projectedTotal) >= h.degrade*float64(h.maxTotal) {
			return &Outcome{
				Decision: safetytypes.Degrade,
				Reason:   "approaching total token budget",
				Evidence: map[string]any{
					"projected_total": projectedTotal,
					"max_total":       h.maxTotal,
				},
				EventType: "TOKEN_BUDGET_EXCEEDED",
			}
		}
	}
	if h.maxOutput > 0 && float64(projectedOut) >= h.degrade*float64(h.maxOutput) {
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "approaching output token budget",
			Evidence: map[string]any{
				"projected_output": projectedOut,
				"max_output":       h.maxOutput,
			},
			EventType: "TOKEN_BUDGET_EXCEEDED",
		}
	}
	return allow()
}

// RecordUsage releases a reservation of (reservedOut, reservedIn) and
// commits the actual (actualOut, actualIn) spend. The two need not match —
// an estimate is rarely exact.
func (h *TokenBudgetHook) RecordUsage(reservedOut, actualOut, reservedIn, actualIn int64) error {
	if actualOut < 0 || actualIn < 0 {
		return safetytypes.NewInvalidArgument("usage", actualOut, "token usage must be non-negative")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingOut -= reservedOut
	if h.pendingOut < 0 {
		h.pendingOut = 0
	}
	h.pendingIn -= reservedIn
	if h.pendingIn < 0 {
		h.pendingIn = 0
	}
	h.committedOut += actualOut
	h.committedIn += actualIn
	return nil
}

// ReleaseReservation releases a reservation without recording any spend,
// for when a dispatch never happened (e.g. denied upstream).
func (h *TokenBudgetHook) ReleaseReservation(reservedOut, reservedIn int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingOut -= reservedOut
	if h.pendingOut < 0 {
		h.pendingOut = 0
	}
	h.pendingIn -= reservedIn
	if h.pendingIn < 0 {
		h.pendingIn = 0
	}
}

func (h *TokenBudgetHook) CommittedOutput() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committedOut
}
