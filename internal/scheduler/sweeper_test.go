package scheduler

import (
	"testing"
	"time"
)

func TestStarvationSweeperPromotesOnTick(t *testing.T) {
	s := New(Config{})
	old := time.Now().Add(-time.Hour)
	s.Admit(QueueEntry{Org: "acme", Team: "core", StepID: "stale", Priority: P2, QueuedAt: old})

	sweeper, err := NewStarvationSweeper(s, "@every 10ms", time.Minute, nil)
	if err != nil {
		t.Fatalf("unexpected error building sweeper: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entry, ok := s.Dispatch("acme")
		if ok {
			if entry.Priority != P1 {
				t.Fatalf("expected the cron-driven sweep to promote P2 -> P1, got %v", entry.Priority)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the starvation sweeper to promote the stale entry before the deadline")
}

func TestNewStarvationSweeperRejectsInvalidSpec(t *testing.T) {
	s := New(Config{})
	if _, err := NewStarvationSweeper(s, "not a cron spec", time.Minute, nil); err == nil {
		t.Fatal("expected an invalid cron spec to be rejected")
	}
}
