package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/odera-store/api/internal/platform/auth"
	"github.com/odera-store/api/internal/platform/events"
	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/platform/requestctx"
	"github.com/odera-store/api/internal/services"
)

// InternalHandlers serves machine-to-machine endpoints: the scheduler-triggered expiry sweep and
// the Pub/Sub push endpoint feeding order events to notifications.
type InternalHandlers struct {
	sweeper       services.ExpirySweeper
	notifications services.NotificationService
	cronSecret    string
	oidc          *auth.OIDCValidator
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithSweeper enables POST /internal/orders/expire guarded by the shared cron secret.
func WithSweeper(sweeper services.ExpirySweeper, secret string) InternalOption {
	return func(h *InternalHandlers) {
		h.sweeper = sweeper
		h.cronSecret = secret
	}
}

// WithPushNotifications enables POST /internal/events/pubsub.
func WithPushNotifications(svc services.NotificationService) InternalOption {
	return func(h *InternalHandlers) {
		h.notifications = svc
	}
}

// WithOIDCValidator accepts Google-signed service tokens on the internal routes.
func WithOIDCValidator(validator *auth.OIDCValidator) InternalOption {
	return func(h *InternalHandlers) {
		h.oidc = validator
	}
}

// NewInternalHandlers constructs the internal endpoint handlers.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the enabled /internal endpoints. The push endpoint is only mounted when an
// OIDC validator is configured since the push subscription authenticates with a service token.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.sweeper != nil {
		r.With(auth.RequireSchedulerAuth(h.cronSecret, h.oidc)).Post("/orders/expire", h.expireOrders)
	}
	if h.notifications != nil && h.oidc != nil {
		r.With(h.oidc.RequireOIDC()).Post("/events/pubsub", h.pubsubPush)
	}
}

func (h *InternalHandlers) expireOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.sweeper.RunExpirySweep(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("expiry sweep failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "expiry sweep failed", http.StatusInternalServerError))
		return
	}
	errs := summary.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"timestamp": formatTime(summary.Timestamp),
		"found":     summary.Found,
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errors":    errs,
	})
}

// pubsubPush acknowledges malformed messages so they are not redelivered forever; handler
// failures answer 500 and Pub/Sub retries with backoff.
func (h *InternalHandlers) pubsubPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	event, err := events.DecodePush(r.Body)
	if err != nil {
		logger.Warn("dropping malformed push message", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.notifications.HandleOrderEvent(ctx, event); err != nil {
		logger.Error("order event handling failed",
			zap.Error(err),
			zap.String("eventId", event.ID),
			zap.String("eventType", event.Type),
			zap.String("orderId", event.OrderID),
		)
		httpx.WriteError(ctx, w, httpx.NewError("event_handling_failed", "event handling failed", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
