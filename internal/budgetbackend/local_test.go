package budgetbackend

import (
	"sync"
	"testing"
)

func TestLocalBackendAddAccumulates(t *testing.T) {
	b := NewLocalBackend()
	if _, err := b.Add(1.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, err := b.Add(2.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4.0 {
		t.Fatalf("expected total 4.0, got %v", total)
	}
}

func TestLocalBackendRejectsNegativeAmount(t *testing.T) {
	b := NewLocalBackend()
	if _, err := b.Add(-1); err == nil {
		t.Fatal("expected InvalidArgument for a negative amount")
	}
}

func TestLocalBackendResetClearsTotal(t *testing.T) {
	b := NewLocalBackend()
	b.Add(5)
	if err := b.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := b.Get()
	if got != 0 {
		t.Fatalf("expected 0 after reset, got %v", got)
	}
}

func TestLocalBackendAddIsAtomicUnderConcurrency(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(1)
		}()
	}
	wg.Wait()

	got, _ := b.Get()
	if got != 100 {
		t.Fatalf("expected 100 after 100 concurrent adds of 1, got %v", got)
	}
}
