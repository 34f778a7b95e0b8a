package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/auth"
	"github.com/odera-store/api/internal/platform/httpx"
	"github.com/odera-store/api/internal/platform/pagination"
	"github.com/odera-store/api/internal/services"
)

const (
	defaultAdminOrderPageSize = 50
	maxAdminOrderPageSize     = 100
	maxStatusBodySize         = 4 * 1024
)

type changeStatusRequest struct {
	NewStatus string `json:"newStatus"`
	Reason    string `json:"reason"`
}

// AdminOrderHandlers exposes operator endpoints for reading orders and moving them through the lifecycle.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs handlers that require an admin identity.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		// A nil authenticator still rejects every request.
		rt.Use(h.authn.RequireAdmin())
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}/status", h.changeStatus)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range splitFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+strconv.Quote(raw), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	pageSize, err := pagination.Size(query.Get("pageSize"), defaultAdminOrderPageSize, maxAdminOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("pageToken")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req changeStatusRequest
	if err := decodeJSONBody(r, maxStatusBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.NewStatus) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "newStatus is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ChangeStatus(ctx, services.ChangeStatusCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		NewStatus: req.NewStatus,
		Reason:    req.Reason,
		Actor: services.Actor{
			UID:       identity.UID,
			Email:     identity.Email,
			UserAgent: r.UserAgent(),
			IP:        clientIP(r),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   buildOrderPayload(order),
	})
}

func splitFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type orderPayload struct {
	ID              string                `json:"id"`
	PublicCode      string                `json:"publicCode"`
	UserID          string                `json:"userId,omitempty"`
	Customer        customerPayload       `json:"customer"`
	Items           []orderItemPayload    `json:"items"`
	Subtotal        float64               `json:"subtotal"`
	ShippingCost    float64               `json:"shippingCost"`
	Total           float64               `json:"total"`
	Status          string                `json:"status"`
	StatusHistory   []statusChangePayload `json:"statusHistory"`
	ReservedUntil   string                `json:"reservedUntil,omitempty"`
	StockReserved   bool                  `json:"stockReserved"`
	ShippingType    string                `json:"shippingType"`
	ShippingInfo    shippingInfoPayload   `json:"shippingInfo"`
	PaymentMethod   string                `json:"paymentMethod"`
	PaymentVerified bool                  `json:"paymentVerified"`
	OperationCode   string                `json:"operationCode,omitempty"`
	CustomerNotes   string                `json:"customerNotes,omitempty"`
	EmailSent       bool                  `json:"emailSent"`
	CreatedAt       string                `json:"createdAt,omitempty"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
	CancelledAt     string                `json:"cancelledAt,omitempty"`
	CancelledReason string                `json:"cancelledReason,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type orderItemPayload struct {
	ProductID         string  `json:"productId"`
	ProductPublicCode string  `json:"productPublicCode,omitempty"`
	VariantID         string  `json:"variantId"`
	Name              string  `json:"nameSnapshot"`
	UnitPrice         float64 `json:"unitPriceSnapshot"`
	Quantity          int     `json:"quantity"`
	Size              string  `json:"size,omitempty"`
	Color             string  `json:"color,omitempty"`
	Image             string  `json:"imageSnapshot,omitempty"`
}

type statusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ChangedBy string `json:"changedBy"`
	ChangedAt string `json:"changedAt"`
	Reason    string `json:"reason,omitempty"`
}

type shippingInfoPayload struct {
	Type     string           `json:"type"`
	Delivery *deliveryPayload `json:"delivery,omitempty"`
	Agency   *agencyPayload   `json:"agency,omitempty"`
}

type deliveryPayload struct {
	District  string `json:"district"`
	Address   string `json:"address"`
	Reference string `json:"reference,omitempty"`
}

type agencyPayload struct {
	Department       string `json:"department"`
	Province         string `json:"province"`
	District         string `json:"district"`
	DNI              string `json:"dni"`
	Agency           string `json:"agency"`
	CustomerAccepted bool   `json:"customerAccepted"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:         order.ID,
		PublicCode: order.PublicCode,
		UserID:     order.UserID,
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Phone: order.Customer.Phone,
			Email: order.Customer.Email,
		},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:        domain.SolesFromCents(order.Subtotal),
		ShippingCost:    domain.SolesFromCents(order.ShippingCost),
		Total:           domain.SolesFromCents(order.Total),
		Status:          string(order.Status),
		StatusHistory:   make([]statusChangePayload, 0, len(order.StatusHistory)),
		StockReserved:   order.StockReserved,
		ShippingType:    string(order.ShippingType),
		ShippingInfo:    shippingInfoPayload{Type: string(order.ShippingInfo.Type)},
		PaymentMethod:   string(order.PaymentMethod),
		PaymentVerified: order.PaymentVerified,
		OperationCode:   order.OperationCode,
		CustomerNotes:   order.CustomerNotes,
		EmailSent:       order.EmailSent,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		CancelledReason: order.CancelledReason,
	}
	if order.Status == domain.OrderStatusScheduled {
		payload.ReservedUntil = formatTime(order.ReservedUntil)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	if d := order.ShippingInfo.Delivery; d != nil {
		payload.ShippingInfo.Delivery = &deliveryPayload{District: d.District, Address: d.Address, Reference: d.Reference}
	}
	if a := order.ShippingInfo.Agency; a != nil {
		payload.ShippingInfo.Agency = &agencyPayload{
			Department:       a.Department,
			Province:         a.Province,
			District:         a.District,
			DNI:              a.DNI,
			Agency:           a.Agency,
			CustomerAccepted: a.CustomerAccepted,
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:         item.ProductID,
			ProductPublicCode: item.ProductPublicCode,
			VariantID:         item.VariantID,
			Name:              item.NameSnapshot,
			UnitPrice:         domain.SolesFromCents(item.UnitPriceSnapshot),
			Quantity:          item.Quantity,
			Size:              item.VariantSnapshot.Size,
			Color:             item.VariantSnapshot.Color,
			Image:             item.ImageSnapshot,
		})
	}
	for _, change := range order.StatusHistory {
		entry := statusChangePayload{
			To:        string(change.To),
			ChangedBy: change.ChangedBy,
			ChangedAt: formatTime(change.ChangedAt),
			Reason:    change.Reason,
		}
		if change.From != nil {
			entry.From = string(*change.From)
		}
		payload.StatusHistory = append(payload.StatusHistory, entry)
	}
	return payload
}
