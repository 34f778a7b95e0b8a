package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/retry"
	"github.com/odera-store/api/internal/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *logRecorder) Log(_ context.Context, event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *logRecorder) Has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) OfType(eventType string) []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OrderEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type orderFixture struct {
	reg    *memory.Registry
	svc    *orderService
	clock  *testClock
	events *recordingPublisher
	logs   *logRecorder
}

func noSleepPolicy(attempts int) retry.Policy {
	policy := retry.NewPolicy(attempts, time.Millisecond, time.Millisecond)
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return policy
}

func newOrderFixture(t *testing.T, mutate ...func(*OrderServiceDeps)) *orderFixture {
	t.Helper()
	reg := memory.NewRegistry(memory.NewStore(memory.WithRetryPolicy(noSleepPolicy(20))))
	clock := &testClock{now: time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}
	logs := &logRecorder{}

	audit, err := NewAuditLogService(AuditLogServiceDeps{Repository: reg.AuditLogs(), Clock: clock.Now})
	require.NoError(t, err)

	deps := OrderServiceDeps{
		UnitOfWork:     reg,
		Products:       reg.Products(),
		StockMovements: reg.StockMovements(),
		Orders:         reg.Orders(),
		Counters:       reg.Counters(),
		Idempotency:    reg.IdempotencyKeys(),
		PaymentCodes:   reg.PaymentCodes(),
		RateLimits:     reg.RateLimits(),
		Settings:       reg.Settings(),
		Audit:          audit,
		Events:         events,
		WhatsAppNumber: "51999888777",
		Clock:          clock.Now,
		Logger:         logs.Log,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := newOrderService(deps)
	require.NoError(t, err)

	seedCatalog(t, reg)
	return &orderFixture{reg: reg, svc: svc, clock: clock, events: events, logs: logs}
}

func seedCatalog(t *testing.T, reg *memory.Registry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, reg.PutProduct(ctx, domain.Product{
		ID:            "prod_polo",
		PublicCode:    "P-001",
		Name:          "Polo Oversize",
		Status:        domain.ProductStatusActive,
		Price:         5000,
		CoverImageURL: "https://cdn.example.com/polo.jpg",
		Variants: []domain.ProductVariant{
			{ID: "s-black", Size: "S", Color: "Negro", Stock: 3},
			{ID: "m-black", Size: "M", Color: "Negro", Stock: 1},
		},
	}))
	require.NoError(t, reg.PutProduct(ctx, domain.Product{
		ID:         "prod_jogger",
		PublicCode: "P-002",
		Name:       "Jogger Cargo",
		Status:     domain.ProductStatusActive,
		Price:      8990,
		SalePrice:  6990,
		OnSale:     true,
		Variants: []domain.ProductVariant{
			{ID: "32-green", Size: "32", Color: "Verde", Stock: 5},
		},
	}))
	require.NoError(t, reg.PutProduct(ctx, domain.Product{
		ID:       "prod_hidden",
		Name:     "Casaca",
		Status:   domain.ProductStatusInactive,
		Price:    12000,
		Variants: []domain.ProductVariant{{ID: "l", Size: "L", Stock: 4}},
	}))
}

func deliveryOrder(key, phone string, items ...OrderLineInput) CreateOrderCommand {
	return CreateOrderCommand{
		Customer:       Customer{Name: "Lucía Pérez", Phone: phone, Email: "lucia@example.com"},
		Items:          items,
		ShippingType:   domain.ShippingTypeDelivery,
		Delivery:       &domain.DeliveryInfo{District: "Los Olivos", Address: "Av. Universitaria 1234"},
		PaymentMethod:  domain.PaymentMethodYape,
		IdempotencyKey: key,
		ClientIP:       "203.0.113.10",
	}
}

func line(productID, variantID string, qty int) OrderLineInput {
	return OrderLineInput{ProductID: productID, VariantID: variantID, Quantity: qty}
}

func variantStock(t *testing.T, reg *memory.Registry, productID, variantID string) int {
	t.Helper()
	product, err := reg.Products().FindByID(context.Background(), productID)
	require.NoError(t, err)
	variant, _, ok := product.Variant(variantID)
	require.True(t, ok)
	return variant.Stock
}

func requireReason(t *testing.T, err error, kind error, reason FailureReason) *OrderError {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	require.Equal(t, reason, orderErr.Reason)
	return orderErr
}
