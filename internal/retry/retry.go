// Package retry provides injectable, bounded retry policies. Conflict retries
// and transient-failure retries use separate policies so they can be tuned
// and counted independently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// Policy controls how many times an operation runs and how long to wait
// between attempts. The zero value runs the operation once.
type Policy struct {
	// Name labels log lines, e.g. "conflict" or "transient".
	Name string
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the delay before the given retry (1 = first retry).
	Backoff func(retry int) time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it to avoid delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns a backoff that doubles from base, capped at max.
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		d := base
		for i := 1; i < retry; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// DefaultConflictPolicy is used for optimistic-concurrency write retries.
func DefaultConflictPolicy() Policy {
	return Policy{
		Name:        "conflict",
		MaxAttempts: 3,
		Backoff:     Exponential(200*time.Millisecond, 2*time.Second),
		Sleep:       SleepContext,
	}
}

// DefaultTransientPolicy is used for network and rate-limit failures.
func DefaultTransientPolicy() Policy {
	return Policy{
		Name:        "transient",
		MaxAttempts: 4,
		Backoff:     Exponential(500*time.Millisecond, 8*time.Second),
		Sleep:       SleepContext,
	}
}

// Immediate returns a policy that retries without waiting. Intended for tests.
func Immediate(name string, attempts int) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return 0 },
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d %s attempts: %v", e.Attempts, e.Policy, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted. fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		log.Printf("[retry] %s attempt %d/%d failed, retrying in %s: %v", p.Name, attempt, attempts, delay, err)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry interrupted: %w", serr)
		}
	}
	return &ExhaustedError{Policy: p.Name, Attempts: attempts, Err: err}
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return err != nil && errors.Is(err, models.ErrConflict)
}

// IsTransient reports whether err is a retryable external service failure.
func IsTransient(err error) bool {
	return models.IsTransient(err)
}
