package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductStatus enumerates catalog visibility states. Only active products can be sold.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusDraft    ProductStatus = "draft"
)

// Product is the sellable catalog entry that owns variant stock.
type Product struct {
	ID            string
	PublicCode    string
	Name          string
	Slug          string
	Status        ProductStatus
	Price         int64
	SalePrice     int64
	OnSale        bool
	CoverImageURL string
	Variants      []ProductVariant
	TotalStock    int
	UpdatedAt     time.Time
}

// ProductVariant is one size/colour combination of a product with its own stock count.
type ProductVariant struct {
	ID    string
	Size  string
	Color string
	Stock int
}

// EffectivePrice returns the unit price a customer pays right now.
func (p Product) EffectivePrice() int64 {
	if p.OnSale && p.SalePrice > 0 {
		return p.SalePrice
	}
	return p.Price
}

// Variant finds a variant by id.
func (p Product) Variant(variantID string) (ProductVariant, int, bool) {
	for i, v := range p.Variants {
		if v.ID == variantID {
			return v, i, true
		}
	}
	return ProductVariant{}, -1, false
}

// RecalculateTotalStock recomputes TotalStock from the variant list.
func (p *Product) RecalculateTotalStock() {
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	p.TotalStock = total
}

// StockMovementReason labels why a variant's stock changed.
type StockMovementReason string

const (
	StockReasonOrderCreated         StockMovementReason = "order_created"
	StockReasonOrderExpired         StockMovementReason = "order_expired"
	StockReasonOrderCancelledManual StockMovementReason = "order_cancelled_manual"
)

// StockMovement is an append-only stock log entry.
type StockMovement struct {
	ID             string
	ProductID      string
	VariantID      string
	PreviousStock  int
	NewStock       int
	Delta          int
	Reason         StockMovementReason
	RelatedOrderID string
	CreatedAt      time.Time
}

// ShippingType discriminates the shipping payload of an order.
type ShippingType string

const (
	ShippingTypeDelivery      ShippingType = "DELIVERY"
	ShippingTypeAgencyCollect ShippingType = "AGENCY_COLLECT"
)

// PaymentMethod lists the manual wallet transfers accepted by the store.
type PaymentMethod string

const (
	PaymentMethodYape PaymentMethod = "yape"
	PaymentMethodPlin PaymentMethod = "plin"
)

// Customer stores the buyer contact snapshot.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// ShippingInfo holds exactly one of Delivery or Agency depending on Type.
type ShippingInfo struct {
	Type     ShippingType
	Delivery *DeliveryInfo
	Agency   *AgencyInfo
}

// DeliveryInfo is a courier drop-off inside the serviceable area.
type DeliveryInfo struct {
	District  string
	Address   string
	Reference string
}

// AgencyInfo is a pickup at a shipping agency branch.
type AgencyInfo struct {
	Department       string
	Province         string
	District         string
	DNI              string
	Agency           string
	CustomerAccepted bool
}

// OrderItemSnapshot freezes product identity and price at order time. It is never recomputed.
type OrderItemSnapshot struct {
	ProductID         string
	ProductPublicCode string
	VariantID         string
	NameSnapshot      string
	UnitPriceSnapshot int64
	Quantity          int
	VariantSnapshot   VariantSnapshot
	ImageSnapshot     string
}

// VariantSnapshot captures the variant labels shown to the customer.
type VariantSnapshot struct {
	Size  string
	Color string
}

// LineTotal returns unit price times quantity.
func (i OrderItemSnapshot) LineTotal() int64 {
	return i.UnitPriceSnapshot * int64(i.Quantity)
}

// StatusChange is one entry of an order's append-only status history.
type StatusChange struct {
	From      *OrderStatus
	To        OrderStatus
	ChangedBy string
	ChangedAt time.Time
	Reason    string
}

// Order is the central aggregate of the reservation engine.
type Order struct {
	ID              string
	PublicCode      string
	UserID          string
	Customer        Customer
	Items           []OrderItemSnapshot
	Subtotal        int64
	ShippingCost    int64
	Total           int64
	Status          OrderStatus
	StatusHistory   []StatusChange
	ReservedUntil   time.Time
	StockReserved   bool
	ShippingType    ShippingType
	ShippingInfo    ShippingInfo
	PaymentMethod   PaymentMethod
	PaymentVerified bool
	OperationCode   string
	CustomerNotes   string
	EmailSent       bool
	WhatsAppSent    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	CancelledReason string
	UpdatedBy       string
}

// ReservationLines converts the order items into stock ledger lines.
func (o Order) ReservationLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

// StockLine is a product variant quantity handled by the stock ledger.
type StockLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// OrderReceipt is the result returned for a created (or replayed) order.
type OrderReceipt struct {
	OrderID       string
	PublicCode    string
	Total         int64
	ReservedUntil time.Time
	Replayed      bool
}

// IdempotencyRecord binds a client idempotency key to the order it produced.
type IdempotencyRecord struct {
	Key        string
	OrderID    string
	PublicCode string
	Total      int64
	CreatedAt  time.Time
}

// PaymentCodeRecord binds a payment operation code to exactly one order, permanently.
type PaymentCodeRecord struct {
	Code            string
	OrderID         string
	OrderPublicCode string
	UserID          string
	Verified        bool
	CreatedAt       time.Time
}

// RateLimitRecord tracks the last order placed for a phone and client address pair.
type RateLimitRecord struct {
	Key         string
	LastOrderAt time.Time
	Count       int
}

// StoreSettings is the operator-managed storefront configuration.
type StoreSettings struct {
	DeliveryCost      *int64
	DeliveryDistricts []string
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID            string
	Entity        string
	EntityID      string
	Action        string
	PreviousValue *string
	NewValue      string
	PerformedBy   string
	AdminEmail    string
	UserAgent     string
	IP            string
	CreatedAt     time.Time
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []OrderStatus
	Pagination Pagination
}

// SweepSummary reports the outcome of one expiry sweep run.
type SweepSummary struct {
	Timestamp time.Time
	Found     int
	Processed int
	Skipped   int
	Errors    []string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
