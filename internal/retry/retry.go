// Package retry wraps remote operations with bounded exponential backoff.
//
// Failure classification is delegated to the error itself: errors exposing
// Retryable() bool decide whether another attempt is worthwhile. Transport
// timeouts, 5xx responses and rate limits are retryable; authentication and
// malformed-request failures are fatal and returned immediately.
//
// Backoff waits are expressed as a timer racing the context, so shutdown
// interrupts an executor between attempts instead of sleeping through the
// remaining budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds the retry behavior of an Executor.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// Backoff multiplies the delay after every failed attempt.
	Backoff float64
}

// DefaultPolicy mirrors the daemon's stock upload settings: three attempts,
// one second initial delay, doubling, capped at thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Backoff:      2.0,
	}
}

// normalize fills zero fields with defaults so a partially configured policy
// stays usable.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Backoff < 1 {
		p.Backoff = def.Backoff
	}
	return p
}

// Delay returns the wait applied after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Backoff)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryableError is implemented by errors that know whether a retry can help.
type retryableError interface {
	Retryable() bool
}

// IsRetryable reports whether err is worth another attempt. Errors that do
// not classify themselves are treated as fatal; context cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// RetriesExhaustedError reports that an operation failed on every attempt the
// policy allowed. Last carries the final underlying error.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err is (or wraps) a RetriesExhaustedError.
func IsExhausted(err error) bool {
	var ree *RetriesExhaustedError
	return errors.As(err, &ree)
}

// Executor runs operations under a Policy.
type Executor struct {
	policy Policy
	logger zerolog.Logger

	// OnRetry, when set, is called before each backoff wait. Used for
	// instrumentation.
	OnRetry func(op string, attempt int, err error, delay time.Duration)
}

// NewExecutor creates an Executor with the given policy.
func NewExecutor(policy Policy, logger zerolog.Logger) *Executor {
	return &Executor{policy: policy.normalize(), logger: logger}
}

// Do runs fn until it succeeds, fails fatally, or the attempt budget runs
// out. The returned error is nil on success, the fatal error verbatim, or a
// RetriesExhaustedError wrapping the last retryable failure.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var last error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !IsRetryable(last) {
			return last
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt)
		if e.OnRetry != nil {
			e.OnRetry(op, attempt, last, delay)
		}
		e.logger.Warn().
			Str("operation", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(last).
			Msg("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	return &RetriesExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Last: last}
}
