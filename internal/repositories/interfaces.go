package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/odera-store/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	StockMovements() StockMovementRepository
	Orders() OrderRepository
	Counters() CounterRepository
	IdempotencyKeys() IdempotencyRepository
	PaymentCodes() PaymentCodeRepository
	RateLimits() RateLimitRepository
	AuditLogs() AuditLogRepository
	Settings() SettingsRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one atomic transaction. Repositories called with
// the context passed to fn join the transaction. Implementations retry fn on write conflicts,
// so fn must not have side effects outside the repositories. Every read inside fn has to happen
// before the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads and writes the stock-bearing product documents.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// SaveStock persists variants, totalStock and updatedAt only; catalog fields are untouched.
	SaveStock(ctx context.Context, product domain.Product) error
}

// StockMovementRepository appends to the stock movement log. Entries are never updated.
type StockMovementRepository interface {
	Append(ctx context.Context, movement domain.StockMovement) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListExpiredReservations returns SCHEDULED orders whose reservation deadline is at or before
	// now, ordered by (reservedUntil, id) and starting strictly after the cursor when one is given.
	ListExpiredReservations(ctx context.Context, now time.Time, after *ReservationCursor, limit int) ([]domain.Order, error)
}

// ReservationCursor is the position of the last order a reservation scan returned.
type ReservationCursor struct {
	ReservedUntil time.Time
	OrderID       string
}

// ReservationCursorOf positions a scan just after order.
func ReservationCursorOf(order domain.Order) *ReservationCursor {
	return &ReservationCursor{ReservedUntil: order.ReservedUntil, OrderID: order.ID}
}

var (
	ErrCounterIDRequired = errors.New("counter: id is required")
	// ErrCounterCorrupt means the stored value cannot continue a positive sequence.
	ErrCounterCorrupt = errors.New("counter: stored value is corrupt")
)

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	// Next increments the named counter and returns the new value.
	Next(ctx context.Context, counterID string) (int64, error)
}

// IdempotencyRepository stores order creation results keyed by client idempotency key.
type IdempotencyRepository interface {
	Find(ctx context.Context, key string) (domain.IdempotencyRecord, error)
	Insert(ctx context.Context, record domain.IdempotencyRecord) error
}

// PaymentCodeRepository stores claimed payment operation codes.
type PaymentCodeRepository interface {
	Find(ctx context.Context, code string) (domain.PaymentCodeRecord, error)
	Insert(ctx context.Context, record domain.PaymentCodeRecord) error
}

// RateLimitRepository tracks per-customer order creation timestamps.
type RateLimitRepository interface {
	Find(ctx context.Context, key string) (domain.RateLimitRecord, error)
	Save(ctx context.Context, record domain.RateLimitRecord) error
}

// AuditLogRepository persists immutable audit trail entries. An entry with an ID is written
// under that ID and a second write with the same ID is a no-op.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}

// SettingsRepository loads the operator-managed store settings.
type SettingsRepository interface {
	Store(ctx context.Context) (domain.StoreSettings, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
