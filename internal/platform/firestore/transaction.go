package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"

	"github.com/odera-store/api/internal/platform/retry"
)

const defaultTxTimeout = 15 * time.Second

type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type TxOption func(*txSettings)

type txSettings struct {
	policy  retry.Policy
	timeout time.Duration
}

// WithTxPolicy sets how many times an aborted commit is retried and how long to back off.
// Policies without attempts are ignored.
func WithTxPolicy(policy retry.Policy) TxOption {
	return func(s *txSettings) {
		if policy.Attempts > 0 {
			s.policy = policy
		}
	}
}

// WithTxTimeout caps the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

type txKey struct{}

func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFromContext returns the transaction RunTransaction put on ctx.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunTransaction runs fn inside a Firestore transaction. Each SDK call makes a single attempt;
// Aborted commits are retried here under the configured policy and running out of attempts
// returns retry.ErrExhausted. Errors returned by fn come back unchanged.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := txSettings{policy: retry.DefaultPolicy(), timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	ctx, cancel := withCeiling(ctx, settings.timeout)
	defer cancel()

	attempt := func(ctx context.Context, _ int) error {
		return client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			return fn(WithTransaction(ctx, tx), tx)
		}, firestore.MaxAttempts(1))
	}
	return transactionError(settings.policy.Do(ctx, isAborted, attempt))
}

// withCeiling applies timeout unless ctx already expires sooner.
func withCeiling(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// transactionError wraps failures that came from the server. Domain errors raised by the
// callback carry no gRPC status and are returned as is.
func transactionError(err error) error {
	if err == nil || errors.Is(err, retry.ErrExhausted) {
		return err
	}
	if _, ok := status.FromError(err); !ok {
		return err
	}
	return WrapError("transaction", err)
}
