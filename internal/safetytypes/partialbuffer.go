package safetytypes

import "sync"

// PartialBuffer is a bounded, append-only buffer used to preserve partial
// output across a HALT so callers can still extract something useful. It
// caps both the chunk count and the total byte size, the way
// internal/agent/tool_result_guard.go caps tool result size before
// persistence — but instead of silently truncating, overflow raises
// PartialBufferOverflowError carrying evidence of what was kept.
type PartialBuffer struct {
	mu         sync.Mutex
	chunks     []string
	bytes      int
	maxChunks  int
	maxBytes   int
	overflowed bool
}

// NewPartialBuffer creates a buffer capped at maxChunks chunks and maxBytes
// total bytes. A zero value for either disables that cap.
func NewPartialBuffer(maxChunks, maxBytes int) *PartialBuffer {
	return &PartialBuffer{maxChunks: maxChunks, maxBytes: maxBytes}
}

// Append adds a chunk to the buffer. Once either cap is exceeded, the chunk
// is rejected and every subsequent Append returns the same overflow error
// with evidence of the prefix that was kept.
func (b *PartialBuffer) Append(chunk string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.overflowed {
		return b.overflowErr(TruncationChunkCount, len(b.chunks)+1, b.bytes+len(chunk))
	}

	nextChunks := len(b.chunks) + 1
	nextBytes := b.bytes + len(chunk)

	if b.maxChunks > 0 && nextChunks > b.maxChunks {
		b.overflowed = true
		return b.overflowErr(TruncationChunkCount, nextChunks, nextBytes)
	}
	if b.maxBytes > 0 && nextBytes > b.maxBytes {
		b.overflowed = true
		return b.overflowErr(TruncationByteSize, nextChunks, nextBytes)
	}

	b.chunks = append(b.chunks, chunk)
	b.bytes = nextBytes
	return nil
}

func (b *PartialBuffer) overflowErr(point TruncationPoint, totalChunks, totalBytes int) error {
	return &PartialBufferOverflowError{
		KeptChunks:      len(b.chunks),
		TotalChunks:     totalChunks,
		KeptBytes:       b.bytes,
		TotalBytes:      totalBytes,
		TruncationPoint: point,
	}
}

// Snapshot returns the chunks kept so far, joined with no separator — callers
// that need a separator should join b.Chunks() themselves.
func (b *PartialBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Overflowed reports whether the buffer has rejected at least one chunk.
func (b *PartialBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}
