package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

// IdempotencyGuard deduplicates order creation by client supplied key. Check must be the
// first read of the creation transaction and Remember its last write.
type IdempotencyGuard struct {
	repo repositories.IdempotencyRepository
}

func NewIdempotencyGuard(repo repositories.IdempotencyRepository) (*IdempotencyGuard, error) {
	if repo == nil {
		return nil, errors.New("idempotency guard: repository is required")
	}
	return &IdempotencyGuard{repo: repo}, nil
}

// Check returns the stored result for key and whether the key was already processed.
// An empty key never matches.
func (g *IdempotencyGuard) Check(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, false, nil
	}
	record, err := g.repo.Find(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return domain.IdempotencyRecord{}, false, nil
		}
		return domain.IdempotencyRecord{}, false, err
	}
	return record, true, nil
}

// Remember stores the result of a fresh creation under its key.
func (g *IdempotencyGuard) Remember(ctx context.Context, record domain.IdempotencyRecord) error {
	if strings.TrimSpace(record.Key) == "" {
		return nil
	}
	return g.repo.Insert(ctx, record)
}
