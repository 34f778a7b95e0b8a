package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/pagination"
	"github.com/odera-store/api/internal/repositories"
)

const (
	productsCollection    = "products"
	stockLogsCollection   = "stockLogs"
	ordersCollection      = "orders"
	countersCollection    = "counters"
	idempotencyCollection = "idempotencyKeys"
	paymentOpsCollection  = "paymentOps"
	rateLimitsCollection  = "rateLimits"
	auditLogsCollection   = "auditLogs"
	settingsCollection    = "settings"
	storeSettingsDocID    = "store"
)

// Registry implements repositories.Registry on a Store.
type Registry struct {
	store *Store
	now   func() time.Time
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps the store in the repository registry.
func NewRegistry(store *Store) *Registry {
	if store == nil {
		store = NewStore()
	}
	return &Registry{store: store, now: time.Now}
}

// Store exposes the underlying document store.
func (r *Registry) Store() *Store { return r.store }

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}

func (r *Registry) Products() repositories.ProductRepository { return productRepo{r.store} }
func (r *Registry) StockMovements() repositories.StockMovementRepository {
	return stockMovementRepo{r.store}
}
func (r *Registry) Orders() repositories.OrderRepository { return orderRepo{r.store} }
func (r *Registry) Counters() repositories.CounterRepository { return counterRepo{r.store} }
func (r *Registry) IdempotencyKeys() repositories.IdempotencyRepository {
	return idempotencyRepo{r.store}
}
func (r *Registry) PaymentCodes() repositories.PaymentCodeRepository { return paymentCodeRepo{r.store} }
func (r *Registry) RateLimits() repositories.RateLimitRepository { return rateLimitRepo{r.store} }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return auditLogRepo{r.store} }
func (r *Registry) Settings() repositories.SettingsRepository { return settingsRepo{r.store} }

func (r *Registry) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, repositories.WithDependencyClock(r.now))
	return repo
}

// PutProduct seeds or replaces a product outside any transaction.
func (r *Registry) PutProduct(ctx context.Context, product domain.Product) error {
	product.RecalculateTotalStock()
	return r.store.put(ctx, productsCollection, product.ID, product, false)
}

// PutSettings seeds the store settings document.
func (r *Registry) PutSettings(ctx context.Context, settings domain.StoreSettings) error {
	return r.store.put(ctx, settingsCollection, storeSettingsDocID, settings, false)
}

// StockMovementsFor returns the logged movements of an order in insertion order.
func (r *Registry) StockMovementsFor(orderID string) []domain.StockMovement {
	var out []domain.StockMovement
	_ = r.store.scan(stockLogsCollection, func(_ string, data []byte) error {
		var m domain.StockMovement
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.RelatedOrderID == orderID {
			out = append(out, m)
		}
		return nil
	})
	return out
}

// AuditEntriesFor returns the audit entries recorded for an entity id.
func (r *Registry) AuditEntriesFor(entityID string) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	_ = r.store.scan(auditLogsCollection, func(_ string, data []byte) error {
		var e domain.AuditLogEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if e.EntityID == entityID {
			out = append(out, e)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type productRepo struct{ store *Store }

func (r productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.store.get(ctx, productsCollection, productID, &product)
	return product, err
}

func (r productRepo) SaveStock(ctx context.Context, product domain.Product) error {
	return r.store.put(ctx, productsCollection, product.ID, product, false)
}

type stockMovementRepo struct{ store *Store }

func (r stockMovementRepo) Append(ctx context.Context, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = r.store.NewID("mov")
	}
	return r.store.put(ctx, stockLogsCollection, movement.ID, movement, true)
}

type orderRepo struct{ store *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.store.put(ctx, ordersCollection, order.ID, order, true)
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.store.put(ctx, ordersCollection, order.ID, order, false)
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.store.get(ctx, ordersCollection, orderID, &order)
	return order, err
}

func (r orderRepo) all(match func(domain.Order) bool) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.store.scan(ordersCollection, func(_ string, data []byte) error {
		var order domain.Order
		if err := json.Unmarshal(data, &order); err != nil {
			return err
		}
		if match(order) {
			orders = append(orders, order)
		}
		return nil
	})
	return orders, err
}

func (r orderRepo) List(_ context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var page domain.CursorPage[domain.Order]

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	after, hasAfter, err := pagination.Decode(filter.Pagination.PageToken)
	if err != nil {
		return page, err
	}

	orders, err := r.all(func(o domain.Order) bool {
		return len(filter.Status) == 0 || slices.Contains(filter.Status, o.Status)
	})
	if err != nil {
		return page, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})

	for _, order := range orders {
		if hasAfter && after.Precedes(order.CreatedAt, order.ID) {
			continue
		}
		if len(page.Items) == pageSize {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.After(last.CreatedAt, last.ID).Token()
			break
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r orderRepo) ListExpiredReservations(_ context.Context, now time.Time, after *repositories.ReservationCursor, limit int) ([]domain.Order, error) {
	orders, err := r.all(func(o domain.Order) bool {
		return o.Status == domain.OrderStatusScheduled && !o.ReservedUntil.After(now) &&
			(after == nil || reservationAfter(o, after))
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].ReservedUntil.Equal(orders[j].ReservedUntil) {
			return orders[i].ReservedUntil.Before(orders[j].ReservedUntil)
		}
		return orders[i].ID < orders[j].ID
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func reservationAfter(o domain.Order, cursor *repositories.ReservationCursor) bool {
	if !o.ReservedUntil.Equal(cursor.ReservedUntil) {
		return o.ReservedUntil.After(cursor.ReservedUntil)
	}
	return o.ID > cursor.OrderID
}

type counterDoc struct {
	Seq int64 `json:"seq"`
}

type counterRepo struct{ store *Store }

func (r counterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	if strings.TrimSpace(counterID) == "" {
		return 0, repositories.ErrCounterIDRequired
	}
	var doc counterDoc
	if err := r.store.get(ctx, countersCollection, counterID, &doc); err != nil && !isNotFound(err) {
		return 0, err
	}
	if doc.Seq < 0 {
		return 0, fmt.Errorf("%w: %s is negative", repositories.ErrCounterCorrupt, counterID)
	}
	doc.Seq++
	if err := r.store.put(ctx, countersCollection, counterID, doc, false); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

type idempotencyRepo struct{ store *Store }

func (r idempotencyRepo) Find(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	var record domain.IdempotencyRecord
	err := r.store.get(ctx, idempotencyCollection, key, &record)
	return record, err
}

func (r idempotencyRepo) Insert(ctx context.Context, record domain.IdempotencyRecord) error {
	return r.store.put(ctx, idempotencyCollection, record.Key, record, true)
}

type paymentCodeRepo struct{ store *Store }

func (r paymentCodeRepo) Find(ctx context.Context, code string) (domain.PaymentCodeRecord, error) {
	var record domain.PaymentCodeRecord
	err := r.store.get(ctx, paymentOpsCollection, code, &record)
	return record, err
}

func (r paymentCodeRepo) Insert(ctx context.Context, record domain.PaymentCodeRecord) error {
	return r.store.put(ctx, paymentOpsCollection, record.Code, record, true)
}

type rateLimitRepo struct{ store *Store }

func (r rateLimitRepo) Find(ctx context.Context, key string) (domain.RateLimitRecord, error) {
	var record domain.RateLimitRecord
	err := r.store.get(ctx, rateLimitsCollection, key, &record)
	return record, err
}

func (r rateLimitRepo) Save(ctx context.Context, record domain.RateLimitRecord) error {
	return r.store.put(ctx, rateLimitsCollection, record.Key, record, false)
}

type auditLogRepo struct{ store *Store }

func (r auditLogRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = r.store.NewID("audit")
		return r.store.put(ctx, auditLogsCollection, entry.ID, entry, true)
	}
	if _, ok := txFromContext(ctx); ok {
		return r.store.put(ctx, auditLogsCollection, entry.ID, entry, false)
	}
	if err := r.store.put(ctx, auditLogsCollection, entry.ID, entry, true); err != nil {
		var memErr *Error
		if errors.As(err, &memErr) && memErr.IsConflict() {
			return nil
		}
		return err
	}
	return nil
}

type settingsRepo struct{ store *Store }

func (r settingsRepo) Store(ctx context.Context) (domain.StoreSettings, error) {
	var settings domain.StoreSettings
	if err := r.store.get(ctx, settingsCollection, storeSettingsDocID, &settings); err != nil && !isNotFound(err) {
		return domain.StoreSettings{}, err
	}
	return settings, nil
}
