package shield

import "github.com/amabito/veronica-core-sub002/internal/safetytypes"

// DegradationLadder derives a tiered response from a cost fraction
// (spent/limit). The highest-severity tier whose threshold is met wins:
// halt (>=1.0, left for the caller's own BudgetEnforcer to actually
// enforce) > rate-limit (>=0.90) > context-trim (>=0.85) > model-downgrade
// (>=0.80). Below model-downgrade's threshold the ladder has no opinion.
type DegradationLadder struct {
	ModelDowngradeAt float64
	ContextTrimAt    float64
	RateLimitAt      float64
	HaltAt           float64

	// FallbackModels maps a model name to the model it should downgrade to.
	FallbackModels map[string]string
	// RateLimitDelayMS is the delay attached to a RATE_LIMIT outcome.
	RateLimitDelayMS int64
}

func NewDegradationLadder() *DegradationLadder {
	return &DegradationLadder{
		ModelDowngradeAt: 0.80,
		ContextTrimAt:    0.85,
		RateLimitAt:      0.90,
		HaltAt:           1.0,
		RateLimitDelayMS: 1000,
	}
}

// Evaluate returns the ladder's opinion for the given model at the given
// cost fraction (spent/limit). A nil return means cost fraction is below
// every tier.
func (l *DegradationLadder) Evaluate(costFraction float64, model string) *Outcome {
	switch {
	case costFraction >= l.HaltAt:
		return halt("cost fraction reached halt tier")

	case costFraction >= l.RateLimitAt:
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "cost fraction reached rate-limit tier",
			Evidence: map[string]any{
				"tier":       "rate_limit",
				"delay_ms":   l.RateLimitDelayMS,
				"cost_ratio": costFraction,
			},
		}

	case costFraction >= l.ContextTrimAt:
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "cost fraction reached context-trim tier",
			Evidence: map[string]any{
				"tier":       "context_trim",
				"cost_ratio": costFraction,
			},
		}

	case costFraction >= l.ModelDowngradeAt:
		fallback := l.FallbackModels[model]
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "cost fraction reached model-downgrade tier",
			Evidence: map[string]any{
				"tier":           "model_downgrade",
				"fallback_model": fallback,
				"cost_ratio":     costFraction,
			},
		}

	default:
		return allow()
	}
}
