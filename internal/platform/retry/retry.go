// Package retry runs operations under an explicit, bounded retry policy with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry: attempts exhausted")

const (
	defaultAttempts       = 5
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaxBackoff     = time.Second
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	Attempts int
	Backoff  gax.Backoff
	// Sleep is swapped by tests; it defaults to gax.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked before each pause with the attempt that just failed.
	OnRetry func(ctx context.Context, attempt int, err error)
}

// DefaultPolicy returns five attempts with 50ms..1s jittered exponential backoff.
func DefaultPolicy() Policy {
	return NewPolicy(defaultAttempts, defaultInitialBackoff, defaultMaxBackoff)
}

// NewPolicy builds a policy, falling back to defaults for non-positive values.
func NewPolicy(attempts int, initial, maxBackoff time.Duration) Policy {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return Policy{
		Attempts: attempts,
		Backoff: gax.Backoff{
			Initial:    initial,
			Max:        maxBackoff,
			Multiplier: 2,
		},
	}
}

// ExhaustedError carries the last failure after all attempts were used.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: attempts exhausted after %d tries: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Do runs fn until it succeeds, returns a non-retryable error, the context ends,
// or the policy's attempts are spent. A retryable error on the final attempt is
// reported as *ExhaustedError which matches ErrExhausted via errors.Is.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	backoff := p.Backoff

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("%w (last error: %v)", err, last)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt, err)
		}
		if err := sleep(ctx, backoff.Pause()); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, last)
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}
