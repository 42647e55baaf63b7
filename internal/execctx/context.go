// Package execctx implements the per-chain execution context: the
// cancellation token, timeout watcher, node DAG, event list and cost
// ledger that every wrapped LLM or tool call runs inside. Grounded on the
// teacher's internal/tasks.Scheduler lifecycle (pollLoop/cleanupLoop
// goroutine-per-watcher shape) for the timeout watcher, and on
// internal/observability's Event/EventStore for the append-only event list.
package execctx

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amabito/veronica-core-sub002/internal/eventbus"
	"github.com/amabito/veronica-core-sub002/internal/safetypolicy"
	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
	"github.com/amabito/veronica-core-sub002/internal/shield"
)

// ExecutionConfig bounds one chain's lifespan.
type ExecutionConfig struct {
	MaxCostUSD      float64
	MaxSteps        int
	MaxRetriesTotal int
	TimeoutMS       int64
	ChainMetadata   map[string]any
}

// cancelToken is set at most once; Set is idempotent and safe to call from
// the timeout watcher goroutine while a wrap goroutine concurrently reads
// IsSet.
type cancelToken struct {
	mu  sync.Mutex
	set bool
}

func (c *cancelToken) Set() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = true
}

func (c *cancelToken) IsSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// ExecutionContext is the per-chain lifespan object. One is created per
// chain (a "run" in state-machine terms) and every outgoing call for that
// chain wraps through it.
type ExecutionContext struct {
	mu sync.Mutex

	chainID   string
	requestID string
	cfg       ExecutionConfig

	cancel *cancelToken
	closed bool

	watcherStop chan struct{}
	watcherDone chan struct{}

	pipeline *safetypolicy.Pipeline
	shield   *shield.ShieldPipeline
	breaker  *safetypolicy.CircuitBreaker
	bus      *eventbus.Bus

	nodes   []*safetytypes.NodeRecord
	events  []safetytypes.SafetyEvent
	started time.Time

	stepCount          int
	retriesUsed        int
	costUSDAccumulated float64
	aborted            bool
	abortReason        string

	currentNodeID string
}

// New creates an ExecutionContext and, if cfg.TimeoutMS > 0, starts the
// timeout watcher immediately. pipeline and shieldPipeline may be nil (an
// always-allow context); breaker and bus are optional. If breaker is
// non-nil, New binds it to chainID per spec.md §3/§4.C ("an instance may be
// bound to at most one chain id"); binding a breaker already bound to a
// different chain returns an InvalidStateError and no ExecutionContext.
func New(chainID, requestID string, cfg ExecutionConfig, pipeline *safetypolicy.Pipeline, shieldPipeline *shield.ShieldPipeline, breaker *safetypolicy.CircuitBreaker, bus *eventbus.Bus) (*ExecutionContext, error) {
	if breaker != nil {
		if err := breaker.Bind(chainID); err != nil {
			return nil, err
		}
	}
	ec := &ExecutionContext{
		chainID:   chainID,
		requestID: requestID,
		cfg:       cfg,
		cancel:    &cancelToken{},
		pipeline:  pipeline,
		shield:    shieldPipeline,
		breaker:   breaker,
		bus:       bus,
		started:   time.Now(),
	}
	if cfg.TimeoutMS > 0 {
		ec.watcherStop = make(chan struct{})
		ec.watcherDone = make(chan struct{})
		go ec.runTimeoutWatcher(time.Duration(cfg.TimeoutMS) * time.Millisecond)
	}
	return ec, nil
}

func (ec *ExecutionContext) runTimeoutWatcher(d time.Duration) {
	defer close(ec.watcherDone)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		ec.cancel.Set()
	case <-ec.watcherStop:
	}
}

func (ec *ExecutionContext) emit(eventType string, decision safetytypes.Decision, reason, hook string, metadata map[string]any) {
	event := safetytypes.SafetyEvent{
		EventType: eventType,
		Decision:  decision,
		Reason:    reason,
		Hook:      hook,
		RequestID: ec.requestID,
		TS:        time.Now().UTC(),
		Metadata:  metadata,
	}
	ec.mu.Lock()
	ec.events = append(ec.events, event)
	ec.mu.Unlock()

	if ec.bus != nil {
		ec.bus.Emit(event)
	}
}

// openNode appends a child of whatever node is current at call time. The
// spec does not define a per-goroutine node stack, so under concurrent
// wraps a node's parent is simply whichever node was current when it
// opened — good enough for the common case of one chain driven by one
// goroutine at a time, looser under true fan-out.
func (ec *ExecutionContext) openNode(kind safetytypes.NodeKind, operation string) *safetytypes.NodeRecord {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	node := &safetytypes.NodeRecord{
		NodeID:        uuid.NewString(),
		ParentID:      ec.currentNodeID,
		Kind:          kind,
		OperationName: operation,
		StartTS:       time.Now().UTC(),
		Status:        safetytypes.NodeRunning,
	}
	ec.nodes = append(ec.nodes, node)
	ec.currentNodeID = node.NodeID
	return node
}

func (ec *ExecutionContext) closeNode(node *safetytypes.NodeRecord, status safetytypes.NodeStatus, costUSD float64, retries int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	node.EndTS = time.Now().UTC()
	node.Status = status
	node.CostUSD = costUSD
	node.RetriesUsed = retries
	if node.ParentID == ec.currentNodeID || node.NodeID == ec.currentNodeID {
		ec.currentNodeID = node.ParentID
	}
}

// Close cancels the timeout watcher (if any) and marks the context closed.
// Further wraps fail with ClosedContextError.
func (ec *ExecutionContext) Close() {
	ec.mu.Lock()
	if ec.closed {
		ec.mu.Unlock()
		return
	}
	ec.closed = true
	ec.mu.Unlock()

	ec.cancel.Set()
	if ec.watcherStop != nil {
		close(ec.watcherStop)
		<-ec.watcherDone
	}
}

func (ec *ExecutionContext) isClosed() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.closed
}

// Snapshot returns the immutable ContextSnapshot for this chain, callable
// at any time including after Close.
func (ec *ExecutionContext) Snapshot() safetytypes.ContextSnapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	nodes := make([]safetytypes.NodeRecord, len(ec.nodes))
	for i, n := range ec.nodes {
		nodes[i] = *n
	}
	events := make([]safetytypes.SafetyEvent, len(ec.events))
	copy(events, ec.events)

	return safetytypes.ContextSnapshot{
		ChainID:            ec.chainID,
		RequestID:          ec.requestID,
		StepCount:          ec.stepCount,
		CostUSDAccumulated: ec.costUSDAccumulated,
		RetriesUsed:        ec.retriesUsed,
		Aborted:            ec.aborted,
		AbortReason:        ec.abortReason,
		ElapsedMS:          time.Since(ec.started).Milliseconds(),
		Nodes:              nodes,
		Events:             events,
	}
}
