package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/repositories"
)

// CounterRepository implements repositories.CounterRepository on single counter documents.
// Next reads and writes the counter; inside a transaction the increment commits atomically
// with the caller's other writes.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	txOpts   []pfirestore.TxOption
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next increments the counter identified by counterID and returns the new value. Called
// outside a transaction it opens its own.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.ErrCounterIDRequired
	}

	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return r.next(ctx, id)
	}

	var value int64
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		var err error
		value, err = r.next(txCtx, id)
		return err
	}, r.txOpts...)
	return value, err
}

func (r *CounterRepository) next(ctx context.Context, id string) (int64, error) {
	var doc counterDocument
	current, err := r.counters.Get(ctx, id)
	switch {
	case err == nil:
		doc = current.Data
	case isNotFound(err):
	default:
		return 0, err
	}
	if doc.Seq < 0 {
		return 0, fmt.Errorf("%w: %s holds %d", repositories.ErrCounterCorrupt, id, doc.Seq)
	}

	doc.Seq++
	doc.UpdatedAt = r.now().UTC()
	if err := r.counters.Set(ctx, id, doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
