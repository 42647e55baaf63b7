// Package shield implements the boundary hooks that can inject a decision
// before an LLM dispatch, a tool dispatch, an outbound HTTP call, a retry,
// or a cost commit (§4.E), and the specialised hooks built on top of them
// (§4.F). Grounded on the teacher's internal/agent event sink composition
// style: independent, nil-tolerant components fanned out by a thin owner
// that isolates each one's failure.
package shield

import (
	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// Outcome is a hook's opinion: a lattice decision plus whatever evidence a
// caller needs to act on it (a fallback model name, a rate-limit delay, a
// compression digest). A nil *Outcome from any hook means "no opinion" — the
// pipeline treats that as ALLOW. EventType names the literal SafetyEvent
// category the hook that produced this outcome wants recorded (e.g.
// "BUDGET_WINDOW_EXCEEDED", "TOKEN_BUDGET_EXCEEDED") — a hook that leaves it
// empty gets a generic fallback category from the caller.
type Outcome struct {
	Decision  safetytypes.Decision
	Reason    string
	Evidence  map[string]any
	EventType string
}

// TokenReservationHook is a PreDispatchHook that reserves its estimated
// token usage on admission and needs the caller to reconcile that
// reservation once the call's outcome is known — TokenBudgetHook is the
// only implementation. execctx type-asserts a registered PreDispatch hook
// against this interface so it knows whether there is a reservation to
// release or commit.
type TokenReservationHook interface {
	PreDispatchHook
	ReleaseReservation(reservedOut, reservedIn int64)
	RecordUsage(reservedOut, actualOut, reservedIn, actualIn int64) error
}

func allow() *Outcome { return nil }

// halt is a convenience constructor most specialised hooks reach for.
func halt(reason string) *Outcome {
	return &Outcome{Decision: safetytypes.Halt, Reason: reason}
}

func degrade(reason string, evidence map[string]any) *Outcome {
	return &Outcome{Decision: safetytypes.Degrade, Reason: reason, Evidence: evidence}
}

type PreDispatchHook interface {
	BeforeLLMCall(ctx safetytypes.ToolCallContext) *Outcome
}

type ToolDispatchHook interface {
	BeforeToolCall(ctx safetytypes.ToolCallContext) *Outcome
}

type EgressHook interface {
	BeforeEgress(ctx safetytypes.ToolCallContext, url, method string) *Outcome
}

type RetryHook interface {
	OnError(ctx safetytypes.ToolCallContext, err error) *Outcome
}

type BudgetBoundaryHook interface {
	BeforeCharge(ctx safetytypes.ToolCallContext, costUSD float64) *Outcome
}

// ShieldPipeline holds at most one hook of each kind. Every field is
// optional; a nil field behaves as a hook that always returns "no opinion".
type ShieldPipeline struct {
	PreDispatch    PreDispatchHook
	ToolDispatch   ToolDispatchHook
	Egress         EgressHook
	Retry          RetryHook
	BudgetBoundary BudgetBoundaryHook

	// legacyAllowOnError opts out of the fail-closed default. Spec.md §4.E:
	// "default-on-error policy is HALT ... callers must opt in to the
	// legacy ALLOW behaviour explicitly."
	legacyAllowOnError bool
}

func NewShieldPipeline() *ShieldPipeline {
	return &ShieldPipeline{}
}

// AllowLegacyLenientErrors opts this pipeline into ALLOW-on-unhandled-error
// instead of the fail-closed HALT default. Exists for callers migrating off
// an older lenient deployment; new integrations should not call this.
func (p *ShieldPipeline) AllowLegacyLenientErrors() {
	p.legacyAllowOnError = true
}

func (p *ShieldPipeline) EvalPreDispatch(ctx safetytypes.ToolCallContext) *Outcome {
	if p.PreDispatch == nil {
		return allow()
	}
	return p.PreDispatch.BeforeLLMCall(ctx)
}

func (p *ShieldPipeline) EvalToolDispatch(ctx safetytypes.ToolCallContext) *Outcome {
	if p.ToolDispatch == nil {
		return allow()
	}
	return p.ToolDispatch.BeforeToolCall(ctx)
}

func (p *ShieldPipeline) EvalEgress(ctx safetytypes.ToolCallContext, url, method string) *Outcome {
	if p.Egress == nil {
		return allow()
	}
	return p.Egress.BeforeEgress(ctx, url, method)
}

// EvalOnError asks the registered Retry hook what to do about err. If no
// Retry hook is registered, the default-on-error policy applies: HALT
// unless this pipeline opted into the legacy lenient behaviour, in which
// case nil (no opinion, treated as ALLOW) is returned.
func (p *ShieldPipeline) EvalOnError(ctx safetytypes.ToolCallContext, err error) *Outcome {
	if p.Retry != nil {
		return p.Retry.OnError(ctx, err)
	}
	if p.legacyAllowOnError {
		return allow()
	}
	return halt("no retry hook registered; default-on-error policy is fail-closed")
}

func (p *ShieldPipeline) EvalBeforeCharge(ctx safetytypes.ToolCallContext, costUSD float64) *Outcome {
	if p.BudgetBoundary == nil {
		return allow()
	}
	return p.BudgetBoundary.BeforeCharge(ctx, costUSD)
}
