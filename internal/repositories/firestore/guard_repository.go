package firestore

import (
	"context"
	"errors"

	domain "github.com/odera-store/api/internal/domain"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/repositories"
)

// IdempotencyRepository stores the order produced for each client idempotency key.
type IdempotencyRepository struct {
	keys *pfirestore.Collection[idempotencyDocument]
}

var _ repositories.IdempotencyRepository = (*IdempotencyRepository)(nil)

func NewIdempotencyRepository(provider *pfirestore.Provider) (*IdempotencyRepository, error) {
	if provider == nil {
		return nil, errors.New("idempotency repository requires firestore provider")
	}
	return &IdempotencyRepository{
		keys: pfirestore.NewCollection[idempotencyDocument](provider, idempotencyCollection),
	}, nil
}

func (r *IdempotencyRepository) Find(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	doc, err := r.keys.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return domain.IdempotencyRecord{
		Key:        doc.ID,
		OrderID:    doc.Data.OrderID,
		PublicCode: doc.Data.PublicCode,
		Total:      domain.CentsFromSoles(doc.Data.Total),
		CreatedAt:  doc.Data.CreatedAt,
	}, nil
}

func (r *IdempotencyRepository) Insert(ctx context.Context, record domain.IdempotencyRecord) error {
	err := r.keys.Create(ctx, record.Key, idempotencyDocument{
		OrderID:    record.OrderID,
		PublicCode: record.PublicCode,
		Total:      domain.SolesFromCents(record.Total),
		CreatedAt:  record.CreatedAt.UTC(),
	})
	return err
}

// PaymentCodeRepository keeps one document per claimed operation code.
type PaymentCodeRepository struct {
	codes *pfirestore.Collection[paymentOpDocument]
}

var _ repositories.PaymentCodeRepository = (*PaymentCodeRepository)(nil)

func NewPaymentCodeRepository(provider *pfirestore.Provider) (*PaymentCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("payment code repository requires firestore provider")
	}
	return &PaymentCodeRepository{
		codes: pfirestore.NewCollection[paymentOpDocument](provider, paymentOpsCollection),
	}, nil
}

func (r *PaymentCodeRepository) Find(ctx context.Context, code string) (domain.PaymentCodeRecord, error) {
	doc, err := r.codes.Get(ctx, code)
	if err != nil {
		return domain.PaymentCodeRecord{}, err
	}
	return domain.PaymentCodeRecord{
		Code:            doc.ID,
		OrderID:         doc.Data.OrderID,
		OrderPublicCode: doc.Data.OrderPublicCode,
		UserID:          doc.Data.UserID,
		Verified:        doc.Data.Verified,
		CreatedAt:       doc.Data.CreatedAt,
	}, nil
}

func (r *PaymentCodeRepository) Insert(ctx context.Context, record domain.PaymentCodeRecord) error {
	err := r.codes.Create(ctx, record.Code, paymentOpDocument{
		Code:            record.Code,
		OrderID:         record.OrderID,
		OrderPublicCode: record.OrderPublicCode,
		UserID:          record.UserID,
		Verified:        record.Verified,
		CreatedAt:       record.CreatedAt.UTC(),
	})
	return err
}

// RateLimitRepository tracks the last order time per phone and client address.
type RateLimitRepository struct {
	limits *pfirestore.Collection[rateLimitDocument]
}

var _ repositories.RateLimitRepository = (*RateLimitRepository)(nil)

func NewRateLimitRepository(provider *pfirestore.Provider) (*RateLimitRepository, error) {
	if provider == nil {
		return nil, errors.New("rate limit repository requires firestore provider")
	}
	return &RateLimitRepository{
		limits: pfirestore.NewCollection[rateLimitDocument](provider, rateLimitsCollection),
	}, nil
}

func (r *RateLimitRepository) Find(ctx context.Context, key string) (domain.RateLimitRecord, error) {
	doc, err := r.limits.Get(ctx, key)
	if err != nil {
		return domain.RateLimitRecord{}, err
	}
	return domain.RateLimitRecord{Key: doc.ID, LastOrderAt: doc.Data.LastOrderAt, Count: doc.Data.Count}, nil
}

func (r *RateLimitRepository) Save(ctx context.Context, record domain.RateLimitRecord) error {
	err := r.limits.Set(ctx, record.Key, rateLimitDocument{LastOrderAt: record.LastOrderAt.UTC(), Count: record.Count})
	return err
}
