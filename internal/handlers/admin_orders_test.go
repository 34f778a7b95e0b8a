package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/auth"
	"github.com/odera-store/api/internal/services"
)

const adminTestToken = "admin-test-token"

type identityVerifier struct {
	identity *auth.Identity
	now      time.Time
}

func (v identityVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	if v.identity == nil || token != adminTestToken {
		return nil, errors.New("invalid token")
	}
	return &firebaseauth.Token{
		UID:      v.identity.UID,
		AuthTime: v.now.Add(-time.Minute).Unix(),
		Claims:   map[string]any{"admin": v.identity.Admin, "email": v.identity.Email},
	}, nil
}

// newAdminRouter mounts the admin routes behind a real authenticator. A non-nil identity
// makes every request carry a token that verifies as that identity.
func newAdminRouter(svc services.OrderService, identity *auth.Identity) http.Handler {
	now := time.Now()
	authn := auth.NewAuthenticator(identityVerifier{identity: identity, now: now}, auth.WithClock(func() time.Time { return now }))
	r := chi.NewRouter()
	r.Route("/admin", NewAdminOrderHandlers(authn, svc).Routes)
	if identity == nil {
		return r
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+adminTestToken)
		r.ServeHTTP(w, req)
	})
}

func sampleOrder() services.Order {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:         "ord_01",
		PublicCode: "OD-41",
		Customer:   domain.Customer{Name: "Lucia Rojas", Phone: "987654321"},
		Items: []domain.OrderItemSnapshot{{
			ProductID:         "prod-1",
			VariantID:         "var-m",
			NameSnapshot:      "Polo Oversize",
			UnitPriceSnapshot: 5000,
			Quantity:          2,
			VariantSnapshot:   domain.VariantSnapshot{Size: "M", Color: "Negro"},
		}},
		Subtotal:      10000,
		ShippingCost:  1500,
		Total:         11500,
		Status:        domain.OrderStatusScheduled,
		StatusHistory: []domain.StatusChange{{To: domain.OrderStatusScheduled, ChangedBy: "system", ChangedAt: created}},
		ReservedUntil: created.Add(20 * time.Minute),
		StockReserved: true,
		ShippingType:  domain.ShippingTypeDelivery,
		ShippingInfo: domain.ShippingInfo{
			Type:     domain.ShippingTypeDelivery,
			Delivery: &domain.DeliveryInfo{District: "Miraflores", Address: "Av. Larco 123"},
		},
		PaymentMethod: domain.PaymentMethodYape,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestAdminListOrders_ParsesFilters(t *testing.T) {
	var got services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?status=scheduled,payment_reported&pageSize=500&pageToken=abc", nil)
	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []domain.OrderStatus{domain.OrderStatusScheduled, domain.OrderStatusPaymentReported}, got.Status)
	require.Equal(t, maxAdminOrderPageSize, got.Pagination.PageSize)
	require.Equal(t, "abc", got.Pagination.PageToken)

	body := decodeBody(t, rr)
	require.Equal(t, "next", body["nextPageToken"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	order := items[0].(map[string]any)
	require.Equal(t, "OD-41", order["publicCode"])
	require.Equal(t, 115.0, order["total"])
	require.Equal(t, "2025-03-01T10:20:00Z", order["reservedUntil"])
	shipping := order["shippingInfo"].(map[string]any)
	require.Equal(t, "Miraflores", shipping["delivery"].(map[string]any)["district"])
}

func TestAdminListOrders_DefaultPageSizeAndBadStatus(t *testing.T) {
	var got services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, defaultAdminOrderPageSize, got.Pagination.PageSize)
	require.Empty(t, got.Status)

	rr = httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders?status=paid", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminGetOrder_NotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			return services.Order{}, &services.OrderError{Kind: services.ErrOrderNotFound, Reason: services.ReasonOrderNotFound, Message: "Pedido no encontrado", Details: map[string]any{"orderId": id}}
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders/ord_missing", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "order_not_found", body["reason"])
	require.Equal(t, "ord_missing", body["orderId"])
}

func TestAdminChangeStatus_PassesActor(t *testing.T) {
	var got services.ChangeStatusCommand
	svc := &stubOrderService{
		statusFn: func(_ context.Context, cmd services.ChangeStatusCommand) (services.Order, error) {
			got = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelledManual
			order.StockReserved = false
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01/status", strings.NewReader(`{"newStatus": "CANCELLED_MANUAL", "reason": "cliente desistió"}`))
	req.Header.Set("User-Agent", "odera-admin/1.0")
	req.RemoteAddr = "198.51.100.4:443"
	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Email: "ops@odera.pe", Admin: true}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "ord_01", got.OrderID)
	require.Equal(t, "CANCELLED_MANUAL", got.NewStatus)
	require.Equal(t, "cliente desistió", got.Reason)
	require.Equal(t, services.Actor{UID: "admin-1", Email: "ops@odera.pe", UserAgent: "odera-admin/1.0", IP: "198.51.100.4"}, got.Actor)

	body := decodeBody(t, rr)
	require.Equal(t, true, body["success"])
	order := body["order"].(map[string]any)
	require.Equal(t, "CANCELLED_MANUAL", order["status"])
	require.NotContains(t, order, "reservedUntil")
}

func TestAdminChangeStatus_InvalidTransition(t *testing.T) {
	svc := &stubOrderService{
		statusFn: func(context.Context, services.ChangeStatusCommand) (services.Order, error) {
			return services.Order{}, &services.OrderError{
				Kind:    services.ErrOrderFailedPrecondition,
				Reason:  services.ReasonInvalidTransition,
				Message: "invalid transition SCHEDULED -> DELIVERED: allowed [PAYMENT_REPORTED, CANCELLED_MANUAL, CANCELLED_EXPIRED]",
				Details: map[string]any{
					"current": "SCHEDULED",
					"allowed": []string{"PAYMENT_REPORTED", "CANCELLED_MANUAL", "CANCELLED_EXPIRED"},
				},
			}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01/status", strings.NewReader(`{"newStatus": "DELIVERED"}`))
	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "invalid_transition", body["reason"])
	require.Equal(t, "SCHEDULED", body["current"])
	require.Equal(t, []any{"PAYMENT_REPORTED", "CANCELLED_MANUAL", "CANCELLED_EXPIRED"}, body["allowed"])
}

func TestAdminChangeStatus_RequiresIdentityAndStatus(t *testing.T) {
	svc := &stubOrderService{
		statusFn: func(context.Context, services.ChangeStatusCommand) (services.Order, error) {
			t.Fatalf("service should not be called")
			return services.Order{}, nil
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(svc, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01/status", strings.NewReader(`{"newStatus": "PREPARING"}`)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "admin-1", Admin: true}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/orders/ord_01/status", strings.NewReader(`{"reason": "x"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRoutes_RejectWithoutAuthenticator(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatalf("service should not be called")
			return domain.CursorPage[services.Order]{}, nil
		},
		getFn: func(context.Context, string) (services.Order, error) {
			t.Fatalf("service should not be called")
			return services.Order{}, nil
		},
	}
	r := chi.NewRouter()
	r.Route("/admin", NewAdminOrderHandlers(nil, svc).Routes)

	for _, path := range []string{"/admin/orders", "/admin/orders/ord_01"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+adminTestToken)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestAdminRoutes_RejectNonAdmin(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			t.Fatalf("service should not be called")
			return services.Order{}, nil
		},
	}
	rr := httptest.NewRecorder()
	newAdminRouter(svc, &auth.Identity{UID: "customer-1"}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/orders/ord_01", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
