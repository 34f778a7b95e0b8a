package handlers

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/platform/requestctx"
	"github.com/odera-store/api/internal/services"
)

// orderRetryAfter matches the per-customer order window.
const orderRetryAfter = 2 * time.Minute

// writeOrderError maps order service failures onto the JSON error envelope. Typed failures carry
// their reason and details; anything else is logged and reported as an internal error.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var orderErr *services.OrderError
	if errors.As(err, &orderErr) {
		code, status := orderErrorStatus(orderErr.Kind)
		message := orderErr.Message
		if message == "" {
			message = orderErr.Error()
		}
		details := maps.Clone(orderErr.Details)
		if details == nil {
			details = map[string]any{}
		}
		if orderErr.Reason != "" {
			details["reason"] = string(orderErr.Reason)
		}
		apiErr := httpx.NewError(code, message, status).WithDetails(details)
		if status == http.StatusTooManyRequests {
			apiErr = apiErr.WithRetryAfter(orderRetryAfter)
		}
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	code, status := orderErrorStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(code, "internal error", status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
}

func orderErrorStatus(err error) (string, int) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, services.ErrOrderNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, services.ErrOrderFailedPrecondition):
		return "failed_precondition", http.StatusConflict
	case errors.Is(err, services.ErrOrderAlreadyExists):
		return "already_exists", http.StatusConflict
	case errors.Is(err, services.ErrOrderRateLimited):
		return "rate_limited", http.StatusTooManyRequests
	case errors.Is(err, services.ErrOrderUnavailable):
		return "store_unavailable", http.StatusServiceUnavailable
	default:
		return "internal", http.StatusInternalServerError
	}
}
