package safetypolicy

import "github.com/amabito/veronica-core-sub002/internal/safetytypes"

// Pipeline AND-composes a fixed list of primitives: the first denial wins
// and short-circuits the rest, matching the teacher's general preference for
// early-exit validation chains over collect-then-decide ones (see
// internal/security's RunAudit staged checks). A pipeline with every
// primitive allowing returns a synthetic allow tagged "pipeline" rather than
// the last primitive's own policy_type, so callers can tell a pipeline-level
// allow from a single-primitive one.
type Pipeline struct {
	primitives []safetytypes.Primitive
}

func NewPipeline(primitives ...safetytypes.Primitive) *Pipeline {
	return &Pipeline{primitives: primitives}
}

func (p *Pipeline) PolicyType() string { return "pipeline" }

func (p *Pipeline) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	for _, prim := range p.primitives {
		decision := prim.Check(ctx)
		if !decision.Allowed {
			return decision
		}
	}
	return safetytypes.AllowedDecision("pipeline")
}

// Reset resets every primitive in the pipeline.
func (p *Pipeline) Reset() {
	for _, prim := range p.primitives {
		prim.Reset()
	}
}

// Primitives exposes the underlying list for callers that need to drive a
// specific primitive directly (e.g. StepGuard.Step after a step executes).
func (p *Pipeline) Primitives() []safetytypes.Primitive {
	return p.primitives
}
