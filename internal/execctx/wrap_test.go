package execctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetypolicy"
	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
	"github.com/amabito/veronica-core-sub002/internal/shield"
)

func TestWrapLLMCallSuccessAccumulatesCost(t *testing.T) {
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	result, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{RequestID: "req-1"},
		func(ctx context.Context) (CallResult, error) {
			return CallResult{Output: "ok", CostUSD: 0.5}, nil
		}, WrapOptions{})

	if decision != safetytypes.Allow {
		t.Fatalf("expected ALLOW, got %s", decision)
	}
	if result.Output != "ok" {
		t.Fatalf("expected output passthrough, got %v", result.Output)
	}

	snap := ec.Snapshot()
	if snap.CostUSDAccumulated != 0.5 {
		t.Fatalf("expected accumulated cost 0.5, got %v", snap.CostUSDAccumulated)
	}
	if snap.StepCount != 1 {
		t.Fatalf("expected step count 1, got %d", snap.StepCount)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0].Status != safetytypes.NodeSuccess {
		t.Fatalf("expected one successful node, got %+v", snap.Nodes)
	}
}

func TestWrapLLMCallDeniedByPolicyPipelineNeverInvokesFn(t *testing.T) {
	pipeline := safetypolicy.NewPipeline(safetypolicy.NewAgentStepGuard(0)) // always denies
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, pipeline, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	invoked := false
	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		invoked = true
		return CallResult{}, nil
	}, WrapOptions{})

	if invoked {
		t.Fatal("fn must never be invoked when the policy pipeline denies")
	}
	if decision != safetytypes.Halt {
		t.Fatalf("expected HALT, got %s", decision)
	}
}

func TestWrapLLMCallAlreadyCancelledReturnsHaltImmediately(t *testing.T) {
	ec, err := New("chain-1", "req-1", ExecutionConfig{TimeoutMS: 1}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()
	time.Sleep(10 * time.Millisecond) // let the timeout watcher fire

	invoked := false
	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		invoked = true
		return CallResult{}, nil
	}, WrapOptions{})

	if invoked {
		t.Fatal("fn must never be invoked once the cancellation token is set")
	}
	if decision != safetytypes.Halt {
		t.Fatalf("expected HALT after timeout, got %s", decision)
	}
}

func TestWrapLLMCallShieldDenialShortCircuits(t *testing.T) {
	sp := shield.NewShieldPipeline()
	sp.PreDispatch = alwaysHaltPreDispatch{}
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, sp, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	invoked := false
	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		invoked = true
		return CallResult{}, nil
	}, WrapOptions{})

	if invoked {
		t.Fatal("fn must not run when PreDispatch halts")
	}
	if decision != safetytypes.Halt {
		t.Fatalf("expected HALT, got %s", decision)
	}
}

func TestWrapLLMCallDefaultOnErrorHaltsWithoutRetryHook(t *testing.T) {
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, shield.NewShieldPipeline(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		return CallResult{}, errors.New("boom")
	}, WrapOptions{})

	if decision != safetytypes.Halt {
		t.Fatalf("expected fail-closed HALT on an unhandled error, got %s", decision)
	}
	snap := ec.Snapshot()
	if !snap.Aborted {
		t.Fatal("expected the context to record itself as aborted")
	}
}

func TestWrapToolCallDoesNotInvokeBeforeCharge(t *testing.T) {
	sp := shield.NewShieldPipeline()
	sp.BudgetBoundary = chargeTrackingHook{invoked: new(bool)}
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, sp, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	tracker := sp.BudgetBoundary.(chargeTrackingHook)
	_, decision := ec.WrapToolCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		return CallResult{CostUSD: 1}, nil
	}, WrapOptions{})

	if decision != safetytypes.Allow {
		t.Fatalf("expected ALLOW, got %s", decision)
	}
	if *tracker.invoked {
		t.Fatal("wrap_tool_call must never invoke before_charge")
	}
}

func TestCircuitBreakerOpenHaltsBeforeFnRuns(t *testing.T) {
	breaker := safetypolicy.NewCircuitBreaker(safetypolicy.CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	breaker.RecordFailure()

	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, nil, breaker, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	invoked := false
	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		invoked = true
		return CallResult{}, nil
	}, WrapOptions{})

	if invoked {
		t.Fatal("fn must not run while the bound circuit breaker is open")
	}
	if decision != safetytypes.Halt {
		t.Fatalf("expected HALT, got %s", decision)
	}
}

func TestNewRejectsRebindingBreakerToADifferentChain(t *testing.T) {
	breaker := safetypolicy.NewCircuitBreaker(safetypolicy.CircuitBreakerConfig{})
	first, err := New("chain-a", "req-1", ExecutionConfig{}, nil, nil, breaker, nil)
	if err != nil {
		t.Fatalf("unexpected error on first bind: %v", err)
	}
	defer first.Close()

	if _, err := New("chain-b", "req-2", ExecutionConfig{}, nil, nil, breaker, nil); err == nil {
		t.Fatal("expected binding the same breaker to a second chain id to fail")
	}
}

func TestWrapLLMCallSemanticLoopGuardDeniesOnRepeatedOutput(t *testing.T) {
	guard := safetypolicy.NewSemanticLoopGuard(safetypolicy.SemanticLoopConfig{WindowSize: 3, Threshold: 0.92, MinChars: 4})
	pipeline := safetypolicy.NewPipeline(guard)
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, pipeline, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	callFn := func(ctx context.Context) (CallResult, error) {
		return CallResult{Output: "the quick brown fox jumps"}, nil
	}

	_, first := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, callFn, WrapOptions{})
	if first != safetytypes.Allow {
		t.Fatalf("expected the first identical output to be allowed, got %s", first)
	}

	_, second := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, callFn, WrapOptions{})
	if second != safetytypes.Halt {
		t.Fatalf("expected the repeated output to be denied by the semantic loop guard, got %s", second)
	}
}

func TestWrapLLMCallStepsAgentStepGuard(t *testing.T) {
	guard := safetypolicy.NewAgentStepGuard(5)
	pipeline := safetypolicy.NewPipeline(guard)
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, pipeline, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{}, func(ctx context.Context) (CallResult, error) {
		return CallResult{Output: "partial"}, nil
	}, WrapOptions{})

	if decision != safetytypes.Allow {
		t.Fatalf("expected ALLOW, got %s", decision)
	}
	if guard.Current() != 1 {
		t.Fatalf("expected the step guard to advance once, got %d", guard.Current())
	}
	if guard.LastResult() != "partial" {
		t.Fatalf("expected the step guard to record the call's output, got %v", guard.LastResult())
	}
}

func TestWrapLLMCallReleasesTokenReservationOnShieldDenial(t *testing.T) {
	hook := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{MaxOutput: 1000, MaxTotal: 2000})
	sp := shield.NewShieldPipeline()
	sp.PreDispatch = hook
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, sp, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{TokensOut: 1000}, func(ctx context.Context) (CallResult, error) {
		return CallResult{}, nil
	}, WrapOptions{})

	if decision != safetytypes.Halt {
		t.Fatalf("expected HALT on exceeding max output tokens, got %s", decision)
	}
	if hook.CommittedOutput() != 0 {
		t.Fatalf("expected nothing committed on a denied call, got %d", hook.CommittedOutput())
	}
}

func TestWrapLLMCallCommitsTokenUsageOnSuccess(t *testing.T) {
	hook := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{MaxOutput: 1000})
	sp := shield.NewShieldPipeline()
	sp.PreDispatch = hook
	ec, err := New("chain-1", "req-1", ExecutionConfig{}, nil, sp, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating execution context: %v", err)
	}
	defer ec.Close()

	_, decision := ec.WrapLLMCall(context.Background(), safetytypes.ToolCallContext{TokensOut: 100}, func(ctx context.Context) (CallResult, error) {
		return CallResult{Output: "ok", TokensOut: 80}, nil
	}, WrapOptions{})

	if decision != safetytypes.Allow {
		t.Fatalf("expected ALLOW, got %s", decision)
	}
	if hook.CommittedOutput() != 80 {
		t.Fatalf("expected the actual token usage (80) committed, not the reservation (100), got %d", hook.CommittedOutput())
	}
}

type alwaysHaltPreDispatch struct{}

func (alwaysHaltPreDispatch) BeforeLLMCall(ctx safetytypes.ToolCallContext) *shield.Outcome {
	return &shield.Outcome{Decision: safetytypes.Halt, Reason: "test halt"}
}

type chargeTrackingHook struct {
	invoked *bool
}

func (c chargeTrackingHook) BeforeCharge(ctx safetytypes.ToolCallContext, costUSD float64) *shield.Outcome {
	*c.invoked = true
	return nil
}
