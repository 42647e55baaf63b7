package execctx

import (
	"context"

	"github.com/amabito/veronica-core-sub002/internal/safetypolicy"
	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
	"github.com/amabito/veronica-core-sub002/internal/shield"
)

// CallResult is what a wrapped callable returns: the raw output and its
// estimated cost/token usage, used to post the BudgetBoundary hook and
// accumulate the ledger.
type CallResult struct {
	Output    any
	CostUSD   float64
	TokensIn  int64
	TokensOut int64
}

// WrapOptions configures one wrap_llm_call/wrap_tool_call invocation.
type WrapOptions struct {
	Retry *safetypolicy.RetryContainer // optional
}

// WrapLLMCall implements spec.md §4.G's wrap_llm_call algorithm.
func (ec *ExecutionContext) WrapLLMCall(ctx context.Context, callCtx safetytypes.ToolCallContext, fn func(ctx context.Context) (CallResult, error), opts WrapOptions) (CallResult, safetytypes.Decision) {
	return ec.wrap(ctx, callCtx, fn, opts, true)
}

// WrapToolCall is wrap_llm_call's twin for tool dispatch: it consults the
// ToolDispatch hook instead of PreDispatch and never invokes before_charge.
func (ec *ExecutionContext) WrapToolCall(ctx context.Context, callCtx safetytypes.ToolCallContext, fn func(ctx context.Context) (CallResult, error), opts WrapOptions) (CallResult, safetytypes.Decision) {
	return ec.wrap(ctx, callCtx, fn, opts, false)
}

func (ec *ExecutionContext) wrap(ctx context.Context, callCtx safetytypes.ToolCallContext, fn func(ctx context.Context) (CallResult, error), opts WrapOptions, isLLM bool) (CallResult, safetytypes.Decision) {
	var zero CallResult

	if ec.isClosed() {
		return zero, safetytypes.Halt
	}

	// Step 1: cancellation token already set.
	if ec.cancel.IsSet() {
		ec.emit("TIMEOUT", safetytypes.Halt, "cancellation token already set", "", nil)
		return zero, safetytypes.Halt
	}

	// Step 2: bound circuit breaker OPEN.
	if ec.breaker != nil {
		decision := ec.breaker.Check(safetytypes.PolicyContext{ChainID: ec.chainID})
		if !decision.Allowed && ec.breaker.State() == safetypolicy.CircuitOpen {
			ec.emit("CHAIN_CIRCUIT_OPEN", safetytypes.Halt, decision.Reason, "", nil)
			return zero, safetytypes.Halt
		}
	}

	// Step 3: policy pipeline (C/D). The denying primitive's own PolicyType
	// picks the literal event-type name spec.md §8's scenarios expect
	// (e.g. "budget" -> BUDGET_EXCEEDED) instead of one generic category.
	if ec.pipeline != nil {
		pd := ec.pipeline.Check(safetytypes.PolicyContext{
			CostUSD:   callCtx.CostUSD,
			StepCount: ec.stepCountSnapshot(),
			ChainID:   ec.chainID,
		})
		if !pd.Allowed {
			ec.emit(policyEventType(pd.PolicyType), safetytypes.Halt, pd.Reason, pd.PolicyType, nil)
			return zero, safetytypes.Halt
		}
	}

	// Step 3b: shield pre-dispatch / tool-dispatch hook. A hook that never
	// got to reserve tokens (it denied before reserving) needs nothing
	// released; a hook that reserved before denying (e.g. TokenBudgetHook on
	// DEGRADE) needs its reservation released, since the call it reserved
	// for is never going to run.
	var preOutcome *shield.Outcome
	if ec.shield != nil {
		if isLLM {
			preOutcome = ec.shield.EvalPreDispatch(callCtx)
		} else {
			preOutcome = ec.shield.EvalToolDispatch(callCtx)
		}
	}
	if preOutcome != nil && preOutcome.Decision != safetytypes.Allow {
		hook := "pre_dispatch"
		if !isLLM {
			hook = "tool_dispatch"
		}
		eventType := preOutcome.EventType
		if eventType == "" {
			eventType = "SHIELD_DENIED"
		}
		ec.emit(eventType, preOutcome.Decision, preOutcome.Reason, hook, preOutcome.Evidence)
		ec.releaseTokenReservation(callCtx, isLLM)
		return zero, preOutcome.Decision
	}

	// Step 4: open node, invoke fn (optionally through the retry container).
	kind := safetytypes.NodeTool
	opName := callCtx.ToolName
	if isLLM {
		kind = safetytypes.NodeLLM
		opName = callCtx.Model
	}
	node := ec.openNode(kind, opName)

	var result CallResult
	var callErr error
	retries := 0

	if opts.Retry != nil {
		callErr = opts.Retry.Execute(ctx, func(attempt int) error {
			retries = attempt
			var err error
			result, err = fn(ctx)
			return err
		})
	} else {
		result, callErr = fn(ctx)
	}

	ec.recordRetries(retries)

	// Step 5: on error, consult the shield's on_error / default policy.
	if callErr != nil {
		ec.releaseTokenReservation(callCtx, isLLM)

		var errOutcome *shield.Outcome
		if ec.shield != nil {
			errOutcome = ec.shield.EvalOnError(callCtx, callErr)
		} else {
			halted := safetytypes.Halt
			errOutcome = &shield.Outcome{Decision: halted}
		}

		failEventType := "tool.call.failed"
		if isLLM {
			failEventType = "llm.call.failed"
		}
		failDecision := safetytypes.Halt
		if errOutcome != nil {
			failDecision = errOutcome.Decision
		}
		ec.emit(failEventType, failDecision, callErr.Error(), "call", nil)

		if ec.breaker != nil {
			if ec.breaker.RecordFailure() {
				ec.emit("breaker.opened", safetytypes.Halt, "circuit breaker opened", "circuit_breaker", nil)
			}
		}

		if errOutcome == nil {
			ec.closeNode(node, safetytypes.NodeError, 0, retries)
			return zero, safetytypes.Allow
		}

		switch errOutcome.Decision {
		case safetytypes.Retry:
			if ec.retriesBudgetRemaining() {
				ec.closeNode(node, safetytypes.NodeError, 0, retries)
				ec.emit("RETRY_AFTER_ERROR", safetytypes.Retry, errOutcome.Reason, "retry", errOutcome.Evidence)
				return ec.wrap(ctx, callCtx, fn, opts, isLLM)
			}
			ec.closeNode(node, safetytypes.NodeHalted, 0, retries)
			ec.emit("RETRY_BUDGET_EXHAUSTED", safetytypes.Halt, "retry budget exhausted after error", "retry", nil)
			ec.markAborted("retry budget exhausted after error")
			return zero, safetytypes.Halt

		case safetytypes.Degrade:
			ec.closeNode(node, safetytypes.NodeError, 0, retries)
			ec.emit("DEGRADED_AFTER_ERROR", safetytypes.Degrade, errOutcome.Reason, "retry", errOutcome.Evidence)
			return zero, safetytypes.Degrade

		default: // HALT, QUARANTINE, QUEUE all abort this wrap
			ec.closeNode(node, safetytypes.NodeHalted, 0, retries)
			ec.emit("ABORTED_AFTER_ERROR", errOutcome.Decision, errOutcome.Reason, "retry", errOutcome.Evidence)
			ec.markAborted(errOutcome.Reason)
			return zero, errOutcome.Decision
		}
	}

	if ec.breaker != nil {
		ec.breaker.RecordSuccess()
	}

	// Step 6: on success, charge the boundary hook, record cost, close node.
	if isLLM && ec.shield != nil {
		chargeOutcome := ec.shield.EvalBeforeCharge(callCtx, result.CostUSD)
		if chargeOutcome != nil && chargeOutcome.Decision != safetytypes.Allow {
			ec.closeNode(node, safetytypes.NodeHalted, 0, retries)
			ec.emit("CHARGE_DENIED", chargeOutcome.Decision, chargeOutcome.Reason, "budget_boundary", chargeOutcome.Evidence)
			return zero, chargeOutcome.Decision
		}
	}
	ec.recordCost(result.CostUSD)
	ec.closeNode(node, safetytypes.NodeSuccess, result.CostUSD, retries)
	ec.incrementStep()

	if isLLM {
		ec.commitTokenUsage(callCtx, result)
		ec.feedSemanticLoopGuard(result)
	}
	ec.stepAgentStepGuard(result)

	// Step 7: re-check the cancellation token before returning ALLOW.
	if ec.cancel.IsSet() {
		ec.closeNode(node, safetytypes.NodeHalted, result.CostUSD, retries)
		ec.emit("TIMEOUT", safetytypes.Halt, "cancellation token set after call completed", "", nil)
		return result, safetytypes.Halt
	}

	return result, safetytypes.Allow
}

func (ec *ExecutionContext) stepCountSnapshot() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.stepCount
}

func (ec *ExecutionContext) incrementStep() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.stepCount++
}

func (ec *ExecutionContext) recordCost(amount float64) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.costUSDAccumulated += amount
}

func (ec *ExecutionContext) recordRetries(n int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.retriesUsed += n
}

func (ec *ExecutionContext) retriesBudgetRemaining() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.retriesUsed < ec.cfg.MaxRetriesTotal
}

func (ec *ExecutionContext) markAborted(reason string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.aborted = true
	ec.abortReason = reason
}

// policyEventType maps a denying pipeline primitive's PolicyType to the
// literal SafetyEvent category spec.md §8 names for it. A primitive with no
// entry here falls back to the generic POLICY_DENIED category.
func policyEventType(policyType string) string {
	switch policyType {
	case "budget":
		return "BUDGET_EXCEEDED"
	case "semantic_loop":
		return "SEMANTIC_LOOP_DETECTED"
	case "step_limit":
		return "STEP_LIMIT_EXCEEDED"
	case "retry_budget":
		return "RETRY_BUDGET_EXHAUSTED"
	default:
		return "POLICY_DENIED"
	}
}

// tokenReservationHook returns the registered PreDispatch hook as a
// shield.TokenReservationHook, if it is one. Only PreDispatch (the LLM-call
// hook) reserves tokens; tool dispatch never does.
func (ec *ExecutionContext) tokenReservationHook(isLLM bool) (shield.TokenReservationHook, bool) {
	if !isLLM || ec.shield == nil || ec.shield.PreDispatch == nil {
		return nil, false
	}
	reservable, ok := ec.shield.PreDispatch.(shield.TokenReservationHook)
	return reservable, ok
}

// releaseTokenReservation releases a reservation TokenBudgetHook.BeforeLLMCall
// made for this call without it ever completing, whether it was denied
// upstream (Step 3b) or the call itself errored (Step 5).
func (ec *ExecutionContext) releaseTokenReservation(callCtx safetytypes.ToolCallContext, isLLM bool) {
	if reservable, ok := ec.tokenReservationHook(isLLM); ok {
		reservable.ReleaseReservation(callCtx.TokensOut, callCtx.TokensIn)
	}
}

// commitTokenUsage reconciles the reservation against what the call actually
// spent, so the next BeforeLLMCall projection reflects reality instead of an
// ever-growing pending estimate.
func (ec *ExecutionContext) commitTokenUsage(callCtx safetytypes.ToolCallContext, result CallResult) {
	if reservable, ok := ec.tokenReservationHook(true); ok {
		_ = reservable.RecordUsage(callCtx.TokensOut, result.TokensOut, callCtx.TokensIn, result.TokensIn)
	}
}

// feedSemanticLoopGuard feeds a successful LLM call's output to every
// SemanticLoopGuard registered in the pipeline, so repetition is judged
// against what the model actually produced, not against denial alone.
func (ec *ExecutionContext) feedSemanticLoopGuard(result CallResult) {
	if ec.pipeline == nil {
		return
	}
	output, ok := result.Output.(string)
	if !ok {
		return
	}
	for _, prim := range ec.pipeline.Primitives() {
		if guard, ok := prim.(*safetypolicy.SemanticLoopGuard); ok {
			guard.Feed(output)
		}
	}
}

// stepAgentStepGuard advances every AgentStepGuard registered in the
// pipeline, recording this call's output as the guard's latest partial
// result (spec.md §9).
func (ec *ExecutionContext) stepAgentStepGuard(result CallResult) {
	if ec.pipeline == nil {
		return
	}
	for _, prim := range ec.pipeline.Primitives() {
		if guard, ok := prim.(*safetypolicy.AgentStepGuard); ok {
			guard.Step(result.Output)
		}
	}
}
