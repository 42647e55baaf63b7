package shield

import (
	"sync"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// BudgetWindowHook is a rolling time-window call-count limiter, deliberately
// not the teacher's token-bucket algorithm (internal/ratelimit) — the spec
// calls for an explicit deque of call timestamps so the window boundary is
// exact rather than amortised.
type BudgetWindowHook struct {
	mu sync.Mutex

	window           time.Duration
	maxCalls         int
	degradeThreshold float64 // fraction of maxCalls

	timestamps []time.Time
}

type BudgetWindowConfig struct {
	WindowSeconds    int
	MaxCalls         int
	DegradeThreshold float64 // default 0.8
}

func NewBudgetWindowHook(cfg BudgetWindowConfig) *BudgetWindowHook {
	if cfg.DegradeThreshold <= 0 {
		cfg.DegradeThreshold = 0.8
	}
	return &BudgetWindowHook{
		window:           time.Duration(cfg.WindowSeconds) * time.Second,
		maxCalls:         cfg.MaxCalls,
		degradeThreshold: cfg.DegradeThreshold,
	}
}

func (h *BudgetWindowHook) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	i := 0
	for i < len(h.timestamps) && h.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.timestamps = h.timestamps[i:]
	}
}

func (h *BudgetWindowHook) BeforeLLMCall(ctx safetytypes.ToolCallContext) *Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.prune(now)

	count := len(h.timestamps)
	if count >= h.maxCalls {
		return &Outcome{Decision: safetytypes.Halt, Reason: "call rate window exceeded", EventType: "BUDGET_WINDOW_EXCEEDED"}
	}
	if float64(count) >= h.degradeThreshold*float64(h.maxCalls) {
		h.timestamps = append(h.timestamps, now)
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "approaching call rate window limit",
			Evidence: map[string]any{
				"count_in_window": count + 1,
				"max_calls":       h.maxCalls,
			},
			EventType: "BUDGET_WINDOW_EXCEEDED",
		}
	}

	h.timestamps = append(h.timestamps, now)
	return allow()
}

// Count reports the current in-window call count after pruning.
func (h *BudgetWindowHook) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(time.Now())
	return len(h.timestamps)
}

func (h *BudgetWindowHook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timestamps = nil
}
