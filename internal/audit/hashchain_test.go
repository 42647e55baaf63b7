package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestChainLogger(t *testing.T) (*ChainLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	l, err := NewChainLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l, path
}

func TestChainLoggerFirstRecordChainsFromGenesis(t *testing.T) {
	l, _ := newTestChainLogger(t)

	rec, err := l.Append("chain.halted", map[string]any{"reason": "circuit_open"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PrevHash != GenesisHash {
		t.Fatalf("expected first record to chain from genesis, got prev_hash=%s", rec.PrevHash)
	}
	if len(rec.Hash) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %q", rec.Hash)
	}
}

func TestChainLoggerLinksConsecutiveRecords(t *testing.T) {
	l, _ := newTestChainLogger(t)

	first, err := l.Append("policy.denied", map[string]any{"policy": "budget"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := l.Append("policy.denied", map[string]any{"policy": "circuit_breaker"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Fatalf("expected second record's prev_hash to equal first record's hash")
	}
}

func TestChainLoggerVerifyChainAcceptsIntactLog(t *testing.T) {
	l, _ := newTestChainLogger(t)
	for i := 0; i < 5; i++ {
		if _, err := l.Append("chain.quarantined", map[string]any{"step": i}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := l.VerifyChain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected chain to verify, got %+v", result)
	}
}

func TestChainLoggerVerifyChainDetectsTamperedData(t *testing.T) {
	l, path := newTestChainLogger(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Append("budget.exhausted", map[string]any{"step": i}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	var rec ChainRecord
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Data["step"] = 999
	tampered, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines[1] = string(tampered)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh, err := NewChainLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := fresh.VerifyChain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampered chain to fail verification")
	}
	if result.BrokenIndex != 1 {
		t.Fatalf("expected tampering detected at index 1, got %d", result.BrokenIndex)
	}
}

func TestChainLoggerVerifyChainDetectsBrokenLinkage(t *testing.T) {
	l, path := newTestChainLogger(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Append("chain.halted", map[string]any{"step": i}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	lines = append(lines[:1], lines[2:]...)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh, err := NewChainLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := fresh.VerifyChain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected a dropped record to break the chain")
	}
}

func TestChainLoggerRecoversTipFromExistingFile(t *testing.T) {
	l, path := newTestChainLogger(t)
	last, err := l.Append("chain.halted", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := NewChainLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reopened.Tip() != last.Hash {
		t.Fatalf("expected reopened logger to recover tip %s, got %s", last.Hash, reopened.Tip())
	}
}

func TestChainLoggerConcurrentAppendsProduceAnUnbrokenChain(t *testing.T) {
	l, _ := newTestChainLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := l.Append("policy.denied", map[string]any{"n": n}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	result, err := l.VerifyChain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected concurrent appends to still form a valid chain, got %+v", result)
	}
}
