package safetypolicy

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// RetryContainer wraps a callable with exponential backoff and serialises
// Execute so two callers can never interleave attempts against the same
// container. Grounded on internal/backoff's BackoffPolicy/ComputeBackoff
// shape, but computes delay with the spec's symmetric jitter:
//
//	delay(i) = min(base * 2^i, max) * (1 ± jitter)
//
// instead of the teacher's one-directional base+jitter*rand formula.
type RetryContainer struct {
	execMu sync.Mutex // serialises Execute calls

	mu           sync.Mutex
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitter       float64 // fraction, default non-zero
	retryBudget  int
	attemptCount int
	totalRetries int
	exhausted    bool
}

// RetryConfig configures a RetryContainer. Jitter defaults to 0.1 (10%) when
// zero, since the spec calls out that non-zero jitter is the default,
// specifically to prevent thundering herds.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	RetryBudget int
}

func NewRetryContainer(cfg RetryConfig) *RetryContainer {
	if cfg.Jitter == 0 {
		cfg.Jitter = 0.1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RetryContainer{
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
		retryBudget: cfg.RetryBudget,
	}
}

func (r *RetryContainer) PolicyType() string { return "retry_budget" }

// Check denies further calls once a terminal failure has exhausted the
// retry budget, until Reset is called.
func (r *RetryContainer) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exhausted {
		return safetytypes.Denied("retry_budget", "retry budget exhausted")
	}
	return safetytypes.AllowedDecision("retry_budget")
}

func (r *RetryContainer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attemptCount = 0
	r.exhausted = false
}

// Delay computes the backoff for attempt i (0-indexed), per the spec
// formula, using math/rand for jitter — this is scheduling jitter, not a
// security control, so cryptographic randomness is unnecessary.
func (r *RetryContainer) Delay(attempt int) time.Duration {
	base := float64(r.baseDelay) * math.Pow(2, float64(attempt))
	capped := math.Min(base, float64(r.maxDelay))
	// jitter in [1-jitter, 1+jitter]
	factor := 1 - r.jitter + rand.Float64()*2*r.jitter //nolint:gosec // scheduling jitter, not security-sensitive
	return time.Duration(capped * factor)
}

// Execute serialises against other Execute calls and retries op until it
// succeeds, the retry budget is exhausted, or ctx is cancelled. A nil error
// from op ends the retry loop successfully.
func (r *RetryContainer) Execute(ctx context.Context, op func(attempt int) error) error {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	r.mu.Lock()
	r.attemptCount = 0
	r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= r.retryBudget; attempt++ {
		r.mu.Lock()
		r.attemptCount = attempt + 1
		r.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == r.retryBudget {
			break
		}

		r.mu.Lock()
		r.totalRetries++
		r.mu.Unlock()

		delay := r.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.exhausted = true
	r.mu.Unlock()
	return lastErr
}

// AttemptCount returns the number of attempts made by the last Execute call.
func (r *RetryContainer) AttemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attemptCount
}

// TotalRetries returns the cumulative number of retries (not first attempts)
// across every Execute call since the last Reset.
func (r *RetryContainer) TotalRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRetries
}
