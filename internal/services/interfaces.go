package services

import (
	"context"
	"time"

	domain "github.com/odera-store/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderReceipt       = domain.OrderReceipt
	OrderListFilter    = domain.OrderListFilter
	Customer           = domain.Customer
	ShippingInfo       = domain.ShippingInfo
	StockLine          = domain.StockLine
	SweepSummary       = domain.SweepSummary
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService orchestrates the reservation and order lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	SubmitPayment(ctx context.Context, cmd SubmitPaymentCommand) (SubmitPaymentResult, error)
	ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// ExpirySweeper releases reservations whose deadline passed without payment.
type ExpirySweeper interface {
	RunExpirySweep(ctx context.Context) (SweepSummary, error)
}

// NotificationService reacts to published order events outside the order transactions.
type NotificationService interface {
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService exposes operational metadata such as health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// AuditLogService normalises and persists audit trail entries. Called with a transactional
// context the write joins the transaction.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        string
	PublicCode     string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderLineInput is one requested cart line.
type OrderLineInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand carries a storefront checkout request.
type CreateOrderCommand struct {
	Customer       Customer
	Items          []OrderLineInput
	ShippingType   domain.ShippingType
	Delivery       *domain.DeliveryInfo
	Agency         *domain.AgencyInfo
	PaymentMethod  domain.PaymentMethod
	CustomerNotes  string
	IdempotencyKey string
	UserID         string
	ClientIP       string
}

// CreateOrderResult is the receipt plus the chat hand-off link shown to the customer.
type CreateOrderResult struct {
	OrderReceipt
	WhatsAppURL string
}

// SubmitPaymentCommand records a customer's claimed payment operation code.
type SubmitPaymentCommand struct {
	OrderID       string
	OperationCode string
	UserID        string
}

// SubmitPaymentResult reports the recorded code.
type SubmitPaymentResult struct {
	OrderID       string
	PublicCode    string
	OperationCode string
	Message       string
}

// Actor identifies who requested an admin mutation.
type Actor struct {
	UID       string
	Email     string
	UserAgent string
	IP        string
}

// ChangeStatusCommand is an operator status transition.
type ChangeStatusCommand struct {
	OrderID   string
	NewStatus string
	Reason    string
	Actor     Actor
}

// AuditLogRecord is the input accepted by AuditLogService.Record.
type AuditLogRecord struct {
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
	OccurredAt    time.Time
}
