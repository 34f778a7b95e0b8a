package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

// PaymentCodeRegistry binds payment operation codes to orders. A claimed code is never
// released, not even when its order is cancelled.
type PaymentCodeRegistry struct {
	repo repositories.PaymentCodeRepository
}

func NewPaymentCodeRegistry(repo repositories.PaymentCodeRepository) (*PaymentCodeRegistry, error) {
	if repo == nil {
		return nil, errors.New("payment code registry: repository is required")
	}
	return &PaymentCodeRegistry{repo: repo}, nil
}

// Lookup returns the existing claim for code, if any.
func (r *PaymentCodeRegistry) Lookup(ctx context.Context, code string) (domain.PaymentCodeRecord, bool, error) {
	record, err := r.repo.Find(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return domain.PaymentCodeRecord{}, false, nil
		}
		return domain.PaymentCodeRecord{}, false, err
	}
	return record, true, nil
}

// Claim writes the binding. A concurrent claim that won the race surfaces as AlreadyUsed.
func (r *PaymentCodeRegistry) Claim(ctx context.Context, record domain.PaymentCodeRecord) error {
	if err := r.repo.Insert(ctx, record); err != nil {
		if isConflict(err) {
			return codeAlreadyUsed(record.Code, "")
		}
		return err
	}
	return nil
}

func codeAlreadyUsed(code, existingPublicCode string) *OrderError {
	ref := existingPublicCode
	if ref == "" {
		ref = "otro pedido"
	}
	details := map[string]any{"operationCode": code}
	if existingPublicCode != "" {
		details["existingOrderPublicCode"] = existingPublicCode
	}
	return newOrderError(ErrOrderAlreadyExists, ReasonOperationCodeUsed,
		fmt.Sprintf("Este código de operación ya fue usado en el pedido %s", ref), details)
}
