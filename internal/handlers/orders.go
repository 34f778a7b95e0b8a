package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/auth"
	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	maxPaymentBodySize     = 2 * 1024
	idempotencyHeader      = "Idempotency-Key"
)

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"customer"`
	Items []struct {
		ProductID string `json:"productId"`
		VariantID string `json:"variantId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	ShippingType string `json:"shippingType"`
	ShippingInfo struct {
		Delivery *struct {
			District  string `json:"district"`
			Address   string `json:"address"`
			Reference string `json:"reference"`
		} `json:"delivery"`
		Agency *struct {
			Department       string `json:"department"`
			Province         string `json:"province"`
			District         string `json:"district"`
			DNI              string `json:"dni"`
			Agency           string `json:"agency"`
			CustomerAccepted bool   `json:"customerAccepted"`
		} `json:"agency"`
	} `json:"shippingInfo"`
	PaymentMethod  string `json:"paymentMethod"`
	CustomerNotes  string `json:"customerNotes"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type createOrderResponse struct {
	OrderID       string  `json:"orderId"`
	PublicCode    string  `json:"publicCode"`
	Total         float64 `json:"total"`
	ReservedUntil string  `json:"reservedUntil"`
	WhatsAppURL   string  `json:"whatsappUrl,omitempty"`
}

type submitPaymentRequest struct {
	OperationCode string `json:"operationCode"`
}

// OrderHandlers exposes the storefront checkout endpoints. Callers may be guests.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Post("/{orderID}/payment", h.submitPayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxCreateOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Customer: services.Customer{
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Email: req.Customer.Email,
		},
		ShippingType:   domain.ShippingType(strings.ToUpper(strings.TrimSpace(req.ShippingType))),
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		CustomerNotes:  req.CustomerNotes,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		ClientIP:       clientIP(r),
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		cmd.IdempotencyKey = key
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderLineInput{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	if d := req.ShippingInfo.Delivery; d != nil {
		cmd.Delivery = &domain.DeliveryInfo{District: d.District, Address: d.Address, Reference: d.Reference}
	}
	if a := req.ShippingInfo.Agency; a != nil {
		cmd.Agency = &domain.AgencyInfo{
			Department:       a.Department,
			Province:         a.Province,
			District:         a.District,
			DNI:              a.DNI,
			Agency:           a.Agency,
			CustomerAccepted: a.CustomerAccepted,
		}
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, createOrderResponse{
		OrderID:       result.OrderID,
		PublicCode:    result.PublicCode,
		Total:         domain.SolesFromCents(result.Total),
		ReservedUntil: formatTime(result.ReservedUntil),
		WhatsAppURL:   result.WhatsAppURL,
	})
}

func (h *OrderHandlers) submitPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req submitPaymentRequest
	if err := decodeJSONBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.SubmitPaymentCommand{
		OrderID:       orderID,
		OperationCode: req.OperationCode,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
	}

	result, err := h.orders.SubmitPayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       result.Message,
		"orderId":       result.OrderID,
		"publicCode":    result.PublicCode,
		"operationCode": result.OperationCode,
	})
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
