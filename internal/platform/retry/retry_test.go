package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func noSleep(context.Context, time.Duration) error { return nil }

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDoSucceedsAfterRetries(t *testing.T) {
	policy := NewPolicy(4, time.Millisecond, time.Millisecond)
	policy.Sleep = noSleep

	calls := 0
	err := policy.Do(context.Background(), isTransient, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	policy := NewPolicy(4, time.Millisecond, time.Millisecond)
	policy.Sleep = noSleep
	permanent := errors.New("permanent")

	calls := 0
	err := policy.Do(context.Background(), isTransient, func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestDoReportsExhaustion(t *testing.T) {
	policy := NewPolicy(3, time.Millisecond, time.Millisecond)
	policy.Sleep = noSleep

	var retried []int
	policy.OnRetry = func(_ context.Context, attempt int, _ error) {
		retried = append(retried, attempt)
	}

	err := policy.Do(context.Background(), isTransient, func(context.Context, int) error {
		return errTransient
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errTransient)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultPolicy().Do(ctx, isTransient, func(context.Context, int) error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
