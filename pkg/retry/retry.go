// Package retry runs a fallible operation under a bounded exponential-backoff
// policy. It is used for balance-mutating store calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"accounts-ledger/pkg/account"
)

// ErrRetryExhausted matches every *ExhaustedError.
var ErrRetryExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	// Last is the error returned by the final attempt.
	Last error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

// Unwrap exposes both ErrRetryExhausted and the last underlying error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}

// Policy configures retries.
type Policy struct {
	// MaxAttempts counts the initial attempt. Default: 4
	MaxAttempts int

	// BaseDelay is the wait before the first retry. Default: 50ms
	BaseDelay time.Duration

	// Multiplier grows the delay between retries. Default: 2
	Multiplier float64

	// MaxDelay caps a single wait. 0 means no cap.
	MaxDelay time.Duration

	// AttemptTimeout bounds each attempt. 0 means no per-attempt deadline.
	AttemptTimeout time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Default: account.IsTransient
	Retryable func(error) bool

	// OnRetry is called before sleeping ahead of attempt number `attempt`.
	OnRetry func(operation string, attempt int, delay time.Duration, err error)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 4 attempts with a doubling 50ms base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		BaseDelay:      50 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 2 * time.Second,
	}
}

// WithBaseDelay returns a copy of the policy with the given base delay.
func (p Policy) WithBaseDelay(d time.Duration) Policy {
	p.BaseDelay = d
	return p
}

// WithAttemptTimeout returns a copy of the policy with the given per-attempt timeout.
func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

// WithOnRetry returns a copy of the policy with the given retry observer.
func (p Policy) WithOnRetry(fn func(operation string, attempt int, delay time.Duration, err error)) Policy {
	p.OnRetry = fn
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Retryable == nil {
		p.Retryable = account.IsTransient
	}
	if p.sleep == nil {
		p.sleep = sleepWithContext
	}
	return p
}

// Delay returns the wait before the given retry (1 = first retry).
func (p Policy) Delay(retry int) time.Duration {
	p = p.normalized()
	if retry < 1 || p.BaseDelay == 0 {
		return 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Non-retryable errors are returned as-is.
func (p Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(operation, attempt, delay, last)
			}
			if err := p.sleep(ctx, delay); err != nil {
				return &ExhaustedError{Operation: operation, Attempts: attempt - 1, Last: last}
			}
		}

		last = p.attempt(ctx, fn)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return last
		}
		if ctx.Err() != nil {
			return &ExhaustedError{Operation: operation, Attempts: attempt, Last: last}
		}
	}

	return &ExhaustedError{Operation: operation, Attempts: p.MaxAttempts, Last: last}
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, account.ErrTimeout) {
		// the attempt deadline fired, not the caller's
		return fmt.Errorf("%w: %v", account.ErrTimeout, err)
	}
	return err
}

// IsExhausted reports whether err came from a policy running out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
