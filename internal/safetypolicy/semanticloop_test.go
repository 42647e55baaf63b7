package safetypolicy

import (
	"strings"
	"testing"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

func TestSemanticLoopGuardDetectsExactRepeat(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 3, MinChars: 10})

	g.Feed("let me try searching the docs again")
	g.Feed("let me try searching the docs again")

	if d := g.Check(safetytypes.PolicyContext{}); d.Allowed {
		t.Fatal("expected denial after exact repeat")
	}
}

func TestSemanticLoopGuardDetectsNearDuplicate(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 3, Threshold: 0.6, MinChars: 10})

	g.Feed("I will search the knowledge base for the answer")
	g.Feed("I will search the knowledge base for an answer")

	if d := g.Check(safetytypes.PolicyContext{}); d.Allowed {
		t.Fatal("expected denial after near-duplicate output")
	}
}

func TestSemanticLoopGuardAllowsDistinctOutputs(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 3, MinChars: 10})

	g.Feed("checking the weather in boston")
	g.Feed("drafting a reply to the customer")
	g.Feed("summarizing the quarterly report")

	if d := g.Check(safetytypes.PolicyContext{}); !d.Allowed {
		t.Fatal("expected allow when outputs are all distinct")
	}
}

func TestSemanticLoopGuardResetClearsWindow(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 2, MinChars: 4})
	g.Feed("same text")
	g.Feed("same text")
	g.Reset()

	if d := g.Check(safetytypes.PolicyContext{}); !d.Allowed {
		t.Fatal("expected allow after reset")
	}
}

func TestSemanticLoopGuardIgnoresPairsBelowMinChars(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 3, MinChars: 80})

	g.Feed("ok")
	g.Feed("ok")

	if d := g.Check(safetytypes.PolicyContext{}); !d.Allowed {
		t.Fatal("expected allow: both outputs are shorter than min_chars")
	}
}

// Scenario F from the spec's acceptance suite: a guard configured with
// window=3, threshold=0.92, min_chars=10, fed the same 60-character
// sentence twice, allows the first feed and denies the second with a
// reason containing "exact repetition".
func TestSemanticLoopGuardScenarioFExactRepetitionOfSixtyCharSentence(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{WindowSize: 3, Threshold: 0.92, MinChars: 10})

	sentence := "the quick brown fox jumps over the lazy dog again and again!"

	first := g.Feed(sentence)
	if !first.Allowed {
		t.Fatalf("expected first feed to allow, got denial: %s", first.Reason)
	}

	second := g.Feed(sentence)
	if second.Allowed {
		t.Fatal("expected second feed to deny as an exact repetition")
	}
	if second.PolicyType != "semantic_loop" {
		t.Fatalf("expected policy_type semantic_loop, got %s", second.PolicyType)
	}
	if !strings.Contains(second.Reason, "exact repetition") {
		t.Fatalf("expected reason to contain %q, got %q", "exact repetition", second.Reason)
	}
}

func TestSemanticLoopGuardDefaultsMatchOriginal(t *testing.T) {
	g := NewSemanticLoopGuard(SemanticLoopConfig{})
	if g.windowSize != 3 {
		t.Fatalf("expected default window size 3, got %d", g.windowSize)
	}
	if g.threshold != 0.92 {
		t.Fatalf("expected default threshold 0.92, got %v", g.threshold)
	}
	if g.minChars != 80 {
		t.Fatalf("expected default min_chars 80, got %d", g.minChars)
	}
}
