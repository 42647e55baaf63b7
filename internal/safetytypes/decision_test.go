package safetytypes

import "testing"

func TestDecisionRankOrdering(t *testing.T) {
	order := []Decision{Allow, Degrade, Retry, Queue, Quarantine, Halt}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("expected %s to rank above %s", order[i], order[i-1])
		}
	}
}

func TestCombineReturnsHighest(t *testing.T) {
	cases := []struct {
		a, b, want Decision
	}{
		{Allow, Halt, Halt},
		{Degrade, Retry, Retry},
		{Quarantine, Degrade, Quarantine},
		{"", Allow, Allow},
		{Allow, "", Allow},
	}
	for _, c := range cases {
		if got := Combine(c.a, c.b); got != c.want {
			t.Errorf("Combine(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestPartialBufferOverflowChunkCount(t *testing.T) {
	b := NewPartialBuffer(2, 0)
	if err := b.Append("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Append("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Append("c")
	if err == nil {
		t.Fatal("expected overflow error")
	}
	var overflow *PartialBufferOverflowError
	if ov, ok := err.(*PartialBufferOverflowError); ok {
		overflow = ov
	} else {
		t.Fatalf("expected *PartialBufferOverflowError, got %T", err)
	}
	if overflow.TruncationPoint != TruncationChunkCount {
		t.Errorf("expected chunk_count truncation point, got %s", overflow.TruncationPoint)
	}
	if overflow.KeptChunks != 2 {
		t.Errorf("expected 2 kept chunks, got %d", overflow.KeptChunks)
	}
}

func TestPartialBufferOverflowByteSize(t *testing.T) {
	b := NewPartialBuffer(0, 5)
	if err := b.Append("abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Append("abc")
	if err == nil {
		t.Fatal("expected overflow error")
	}
	overflow, ok := err.(*PartialBufferOverflowError)
	if !ok {
		t.Fatalf("expected *PartialBufferOverflowError, got %T", err)
	}
	if overflow.TruncationPoint != TruncationByteSize {
		t.Errorf("expected byte_size truncation point, got %s", overflow.TruncationPoint)
	}
}
