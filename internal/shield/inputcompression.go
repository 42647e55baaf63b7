package shield

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// InputCompressionHook estimates an input's token count with the
// length-divided-by-four heuristic and escalates as that estimate grows,
// without ever retaining the raw text — only a SHA-256 prefix survives into
// event metadata, enough to correlate repeats without reconstructing
// content.
type InputCompressionHook struct {
	compressThreshold int
	haltThreshold     int
	estimator         func(string) int
}

type InputCompressionConfig struct {
	CompressThreshold int
	HaltThreshold     int
	// Estimator overrides the default len/4 heuristic.
	Estimator func(string) int
}

func NewInputCompressionHook(cfg InputCompressionConfig) *InputCompressionHook {
	estimator := cfg.Estimator
	if estimator == nil {
		estimator = func(s string) int { return len(s) / 4 }
	}
	return &InputCompressionHook{
		compressThreshold: cfg.CompressThreshold,
		haltThreshold:     cfg.HaltThreshold,
		estimator:         estimator,
	}
}

// Evaluate inspects input directly. It is not part of the PreDispatchHook
// interface because ToolCallContext carries no raw text field by design
// (see safetytypes.ToolCallContext doc) — callers that want this hook wired
// into a ShieldPipeline's PreDispatch slot should adapt it with a small
// closure that pulls the candidate prompt out of their own call site.
func (h *InputCompressionHook) Evaluate(input string) *Outcome {
	estimated := h.estimator(input)
	sum := sha256.Sum256([]byte(input))
	digest := hex.EncodeToString(sum[:])
	prefix := digest
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	if estimated >= h.haltThreshold {
		return &Outcome{
			Decision: safetytypes.Halt,
			Reason:   "input exceeds compression halt threshold",
			Evidence: map[string]any{
				"estimated_tokens": estimated,
				"input_sha256":     prefix,
				"decision":         string(safetytypes.Halt),
			},
		}
	}
	if estimated >= h.compressThreshold {
		return &Outcome{
			Decision: safetytypes.Degrade,
			Reason:   "input exceeds compression threshold",
			Evidence: map[string]any{
				"estimated_tokens": estimated,
				"input_sha256":     prefix,
				"decision":         string(safetytypes.Degrade),
			},
		}
	}
	return allow()
}
