package safetytypes

import "fmt"

// InvalidArgumentError signals a caller bug: a negative spend, a negative
// token count, a negative backoff base. Raised at call time, not returned
// as a Decision, because it indicates the caller passed an impossible value.
type InvalidArgumentError struct {
	Arg    string
	Value  any
	Detail string
}

func (e *InvalidArgumentError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid argument %s=%v: %s", e.Arg, e.Value, e.Detail)
	}
	return fmt.Sprintf("invalid argument %s=%v", e.Arg, e.Value)
}

func NewInvalidArgument(arg string, value any, detail string) error {
	return &InvalidArgumentError{Arg: arg, Value: value, Detail: detail}
}

// InvalidTransitionError signals an attempt to move a Run/Session/Step to a
// state not reachable from its current one.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Entity, e.From, e.To)
}

func NewInvalidTransition(entity, from, to string) error {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// InvalidStateError signals a primitive rebind violation — e.g. binding a
// circuit breaker already bound to one chain id to a different chain id.
type InvalidStateError struct {
	Detail string
}

func (e *InvalidStateError) Error() string {
	return "invalid state: " + e.Detail
}

func NewInvalidState(detail string) error {
	return &InvalidStateError{Detail: detail}
}

// ClosedContextError is returned when a wrap is attempted on an
// ExecutionContext that has already exited.
type ClosedContextError struct {
	ChainID string
}

func (e *ClosedContextError) Error() string {
	return fmt.Sprintf("execution context %s is closed", e.ChainID)
}

// TruncationPoint names which cap a PartialBuffer overflowed on.
type TruncationPoint string

const (
	TruncationChunkCount TruncationPoint = "chunk_count"
	TruncationByteSize   TruncationPoint = "byte_size"
)

// PartialBufferOverflowError carries evidence of a bounded buffer overflow
// so the caller can still recover the kept prefix instead of losing the run.
type PartialBufferOverflowError struct {
	KeptChunks      int
	TotalChunks     int
	KeptBytes       int
	TotalBytes      int
	TruncationPoint TruncationPoint
}

func (e *PartialBufferOverflowError) Error() string {
	return fmt.Sprintf(
		"partial buffer overflow at %s: kept %d/%d chunks, %d/%d bytes",
		e.TruncationPoint, e.KeptChunks, e.TotalChunks, e.KeptBytes, e.TotalBytes,
	)
}
