package safetypolicy

import (
	"fmt"
	"sync"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// CircuitState mirrors the teacher's CircuitClosed/Open/HalfOpen trio from
// internal/infra/circuit.go.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures failure/recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
	// HalfOpenProbes is how many concurrent probe calls are allowed through
	// while the breaker is HALF_OPEN. The spec calls for single-flight, so
	// this defaults to 1.
	HalfOpenProbes int
}

// CircuitBreaker is the policy-primitive form of the teacher's
// internal/infra CircuitBreaker, extended with two things that registry
// didn't need: a single-flight probe counter serialising HALF_OPEN attempts,
// and single-chain-owner binding so one chain_id can't be pre-empted by
// another mid-probe.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state    CircuitState
	failures int
	openedAt time.Time

	// probeOwner is the transient HALF_OPEN probe owner: it is set when the
	// breaker opens a probe window and cleared on every RecordSuccess,
	// RecordFailure, or re-open, independent of the persistent lifetime
	// binding below.
	probesInUse int
	probeOwner  string

	// boundChainID is the persistent single-owner binding spec.md §3
	// requires: "An instance may be bound to at most one chain id;
	// rebinding to a different id raises." Set once via Bind and never
	// cleared by state transitions — only a fresh breaker can bind to a
	// different chain.
	boundChainID string
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

func (b *CircuitBreaker) PolicyType() string { return "circuit_breaker" }

// Bind enforces the persistent single-owner binding spec.md §3 requires:
// "An instance may be bound to at most one chain id; rebinding to a
// different id fails with InvalidState." The first call binds for the
// breaker's whole lifetime; later calls with the same chainID are
// idempotent; calls with a different chainID raise. An empty chainID is a
// no-op so unbound breakers (e.g. ones shared deliberately across a test
// fixture) keep working without requiring a call site to invent an id.
func (b *CircuitBreaker) Bind(chainID string) error {
	if chainID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.boundChainID == "" {
		b.boundChainID = chainID
		return nil
	}
	if b.boundChainID != chainID {
		return safetytypes.NewInvalidState(fmt.Sprintf(
			"circuit breaker already bound to chain %q, cannot bind to %q", b.boundChainID, chainID))
	}
	return nil
}

// BoundChainID reports the chain id this breaker is permanently bound to,
// or "" if Bind has never been called.
func (b *CircuitBreaker) BoundChainID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boundChainID
}

// Check evaluates admission for ctx.ChainID. OPEN denies outright until
// OpenDuration elapses, at which point the breaker transitions itself to
// HALF_OPEN and binds the transient probe to the first chain to ask. While
// HALF_OPEN, only the probe owner may probe, and only up to HalfOpenProbes
// concurrent probes; any other chain is denied rather than allowed to pile
// onto the probe.
func (b *CircuitBreaker) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return safetytypes.AllowedDecision("circuit_breaker")

	case CircuitOpen:
		if time.Since(b.openedAt) < b.cfg.OpenDuration {
			return safetytypes.Denied("circuit_breaker", "circuit open")
		}
		b.state = CircuitHalfOpen
		b.probeOwner = ctx.ChainID
		b.probesInUse = 1
		return safetytypes.AllowedDecision("circuit_breaker")

	case CircuitHalfOpen:
		if b.probeOwner == "" {
			b.probeOwner = ctx.ChainID
		}
		if ctx.ChainID != b.probeOwner {
			return safetytypes.Denied("circuit_breaker", "half-open probe owned by another chain")
		}
		if b.probesInUse >= b.cfg.HalfOpenProbes {
			return safetytypes.Denied("circuit_breaker", "half-open probe already in flight")
		}
		b.probesInUse++
		return safetytypes.AllowedDecision("circuit_breaker")

	default:
		return safetytypes.Denied("circuit_breaker", "unknown circuit state")
	}
}

// RecordSuccess closes the breaker (from any state) and clears the
// transient probe ownership. The persistent chain-id binding set by Bind
// is untouched.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
	b.probesInUse = 0
	b.probeOwner = ""
}

// RecordFailure increments the failure count in CLOSED and opens the
// breaker past FailureThreshold. A failed probe in HALF_OPEN reopens
// immediately regardless of threshold. It reports whether this call is the
// one that transitioned the breaker CLOSED -> OPEN, so a caller can emit a
// single "breaker opened" event rather than one per subsequent denial.
func (b *CircuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.open()
		return true
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open()
		return true
	}
	return false
}

func (b *CircuitBreaker) open() {
	b.state = CircuitOpen
	b.openedAt = time.Now()
	b.probesInUse = 0
	b.probeOwner = ""
}

func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to CLOSED with a clean slate, as if newly
// constructed. The persistent chain-id binding survives Reset — a reset
// breaker is still the same chain's breaker, just with its failure history
// cleared.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.probesInUse = 0
	b.probeOwner = ""
}
