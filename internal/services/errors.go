package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/odera-store/api/internal/platform/retry"
	"github.com/odera-store/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, product or variant could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderFailedPrecondition indicates a business rule rejected the request.
	ErrOrderFailedPrecondition = errors.New("order: failed precondition")
	// ErrOrderAlreadyExists indicates a duplicate payment code or an already verified payment.
	ErrOrderAlreadyExists = errors.New("order: already exists")
	// ErrOrderRateLimited indicates the customer placed an order too recently.
	ErrOrderRateLimited = errors.New("order: rate limited")
	// ErrOrderUnavailable indicates the store failed or kept conflicting past the retry budget.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

// FailureReason is a stable machine readable cause attached to OrderError.
type FailureReason string

const (
	ReasonValidation         FailureReason = "validation_failed"
	ReasonInsufficientStock  FailureReason = "insufficient_stock"
	ReasonProductInactive    FailureReason = "product_inactive"
	ReasonProductNotFound    FailureReason = "product_not_found"
	ReasonVariantNotFound    FailureReason = "variant_not_found"
	ReasonZoneNotServiceable FailureReason = "zone_not_serviceable"
	ReasonInvalidTransition  FailureReason = "invalid_transition"
	ReasonOrderNotFound      FailureReason = "order_not_found"
	ReasonOrderExpired       FailureReason = "order_expired"
	ReasonPaymentVerified    FailureReason = "payment_already_verified"
	ReasonOperationCodeUsed  FailureReason = "operation_code_used"
	ReasonRateLimited        FailureReason = "rate_limited"
)

// OrderError is the typed error returned by the order services. Kind is one of the
// ErrOrder* sentinels and is matched by errors.Is.
type OrderError struct {
	Kind    error
	Reason  FailureReason
	Message string
	Details map[string]any
}

func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func newOrderError(kind error, reason FailureReason, message string, details map[string]any) *OrderError {
	return &OrderError{Kind: kind, Reason: reason, Message: message, Details: details}
}

func invalidInput(field, message string) *OrderError {
	return newOrderError(ErrOrderInvalidInput, ReasonValidation, message, map[string]any{"field": field})
}

// mapRepositoryError classifies persistence failures. Errors that already carry an order
// classification pass through.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return orderErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return stockFailure(stockErr)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderAlreadyExists, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func stockFailure(err *repositories.StockError) *OrderError {
	details := map[string]any{"productId": err.ProductID}
	if err.VariantID != "" {
		details["variantId"] = err.VariantID
	}
	switch err.Code {
	case repositories.StockErrorInsufficient:
		details["requested"] = err.Requested
		details["available"] = err.Available
		return newOrderError(ErrOrderFailedPrecondition, ReasonInsufficientStock, err.Message, details)
	case repositories.StockErrorProductInactive:
		return newOrderError(ErrOrderFailedPrecondition, ReasonProductInactive, err.Message, details)
	case repositories.StockErrorVariantNotFound:
		return newOrderError(ErrOrderNotFound, ReasonVariantNotFound, err.Message, details)
	default:
		return newOrderError(ErrOrderNotFound, ReasonProductNotFound, err.Message, details)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
