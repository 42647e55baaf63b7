package shield

import (
	"errors"
	"testing"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

func TestShieldPipelineDefaultOnErrorIsHalt(t *testing.T) {
	p := NewShieldPipeline()
	out := p.EvalOnError(safetytypes.ToolCallContext{}, errors.New("boom"))
	if out == nil || out.Decision != safetytypes.Halt {
		t.Fatalf("expected fail-closed HALT with no retry hook, got %+v", out)
	}
}

func TestShieldPipelineLegacyAllowOnError(t *testing.T) {
	p := NewShieldPipeline()
	p.AllowLegacyLenientErrors()
	out := p.EvalOnError(safetytypes.ToolCallContext{}, errors.New("boom"))
	if out != nil {
		t.Fatalf("expected no-opinion allow under legacy lenient mode, got %+v", out)
	}
}

func TestShieldPipelineNoHooksRegisteredAllowsEverywhereElse(t *testing.T) {
	p := NewShieldPipeline()
	if out := p.EvalPreDispatch(safetytypes.ToolCallContext{}); out != nil {
		t.Fatalf("expected nil with no PreDispatch hook, got %+v", out)
	}
	if out := p.EvalToolDispatch(safetytypes.ToolCallContext{}); out != nil {
		t.Fatalf("expected nil with no ToolDispatch hook, got %+v", out)
	}
	if out := p.EvalBeforeCharge(safetytypes.ToolCallContext{}, 1.0); out != nil {
		t.Fatalf("expected nil with no BudgetBoundary hook, got %+v", out)
	}
}

func TestSafeModeHaltsToolCallsOnly(t *testing.T) {
	sm := NewSafeMode(true)

	if out := sm.BeforeLLMCall(safetytypes.ToolCallContext{}); out != nil {
		t.Fatalf("expected no opinion for a toolless call, got %+v", out)
	}
	if out := sm.BeforeLLMCall(safetytypes.ToolCallContext{ToolName: "search"}); out == nil || out.Decision != safetytypes.Halt {
		t.Fatalf("expected HALT for tool-bearing call, got %+v", out)
	}
}

func TestSafeModeDisabledNeverOpines(t *testing.T) {
	sm := NewSafeMode(false)
	if out := sm.BeforeLLMCall(safetytypes.ToolCallContext{ToolName: "search"}); out != nil {
		t.Fatalf("expected no opinion while disabled, got %+v", out)
	}
	if out := sm.OnError(safetytypes.ToolCallContext{}, errors.New("x")); out != nil {
		t.Fatalf("expected no opinion while disabled, got %+v", out)
	}
}

func TestBudgetWindowHookHaltsAtCapacity(t *testing.T) {
	h := NewBudgetWindowHook(BudgetWindowConfig{WindowSeconds: 60, MaxCalls: 2, DegradeThreshold: 0.5})

	if out := h.BeforeLLMCall(safetytypes.ToolCallContext{}); out != nil {
		t.Fatalf("expected first call to pass silently, got %+v", out)
	}
	if out := h.BeforeLLMCall(safetytypes.ToolCallContext{}); out == nil || out.Decision != safetytypes.Degrade {
		t.Fatalf("expected second call to degrade at 50%% threshold, got %+v", out)
	}
	if out := h.BeforeLLMCall(safetytypes.ToolCallContext{}); out == nil || out.Decision != safetytypes.Halt {
		t.Fatalf("expected third call to halt at capacity, got %+v", out)
	}
}

func TestTokenBudgetHookDegradeThenHalt(t *testing.T) {
	h := NewTokenBudgetHook(TokenBudgetConfig{MaxOutput: 100, Degrade: 0.8})

	out := h.BeforeLLMCall(safetytypes.ToolCallContext{TokensOut: 85})
	if out == nil || out.Decision != safetytypes.Degrade {
		t.Fatalf("expected degrade crossing 80%% of max output, got %+v", out)
	}

	out = h.BeforeLLMCall(safetytypes.ToolCallContext{TokensOut: 20})
	if out == nil || out.Decision != safetytypes.Halt {
		t.Fatalf("expected halt once projected output reaches max, got %+v", out)
	}
}

func TestTokenBudgetHookRecordUsageReconciles(t *testing.T) {
	h := NewTokenBudgetHook(TokenBudgetConfig{MaxOutput: 1000})

	h.BeforeLLMCall(safetytypes.ToolCallContext{TokensOut: 100})
	if err := h.RecordUsage(100, 80, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.CommittedOutput() != 80 {
		t.Fatalf("expected committed output 80, got %d", h.CommittedOutput())
	}
}

func TestTokenBudgetHookRejectsNegativeUsage(t *testing.T) {
	h := NewTokenBudgetHook(TokenBudgetConfig{MaxOutput: 1000})
	if err := h.RecordUsage(0, -1, 0, 0); err == nil {
		t.Fatal("expected error for negative recorded usage")
	}
}

func TestInputCompressionHookTiers(t *testing.T) {
	h := NewInputCompressionHook(InputCompressionConfig{CompressThreshold: 10, HaltThreshold: 20})

	short := h.Evaluate("tiny")
	if short != nil {
		t.Fatalf("expected no opinion for short input, got %+v", short)
	}

	mid := h.Evaluate(string(make([]byte, 48))) // 48/4 = 12 >= 10
	if mid == nil || mid.Decision != safetytypes.Degrade {
		t.Fatalf("expected degrade for mid-length input, got %+v", mid)
	}
	if _, ok := mid.Evidence["input_sha256"]; !ok {
		t.Fatal("expected sha256 evidence, got none")
	}

	long := h.Evaluate(string(make([]byte, 100))) // 100/4 = 25 >= 20
	if long == nil || long.Decision != safetytypes.Halt {
		t.Fatalf("expected halt for long input, got %+v", long)
	}
}

func TestDegradationLadderTiers(t *testing.T) {
	ladder := NewDegradationLadder()
	ladder.FallbackModels = map[string]string{"gpt-5": "gpt-5-mini"}

	if out := ladder.Evaluate(0.5, "gpt-5"); out != nil {
		t.Fatalf("expected no opinion below lowest tier, got %+v", out)
	}

	downgrade := ladder.Evaluate(0.82, "gpt-5")
	if downgrade == nil || downgrade.Evidence["tier"] != "model_downgrade" {
		t.Fatalf("expected model_downgrade tier, got %+v", downgrade)
	}
	if downgrade.Evidence["fallback_model"] != "gpt-5-mini" {
		t.Fatalf("expected fallback model in evidence, got %+v", downgrade.Evidence)
	}

	trim := ladder.Evaluate(0.87, "gpt-5")
	if trim == nil || trim.Evidence["tier"] != "context_trim" {
		t.Fatalf("expected context_trim tier, got %+v", trim)
	}

	limited := ladder.Evaluate(0.95, "gpt-5")
	if limited == nil || limited.Evidence["tier"] != "rate_limit" {
		t.Fatalf("expected rate_limit tier, got %+v", limited)
	}

	halted := ladder.Evaluate(1.0, "gpt-5")
	if halted == nil || halted.Decision != safetytypes.Halt {
		t.Fatalf("expected halt tier, got %+v", halted)
	}
}
