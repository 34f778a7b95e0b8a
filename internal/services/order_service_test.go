package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n)
	}
}

func TestCreateOrderReservesStockAndSnapshotsItems(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	result, err := f.svc.CreateOrder(ctx, deliveryOrder("checkout-0001", "987654321",
		line("prod_polo", "s-black", 2),
		line("prod_jogger", "32-green", 1),
	))
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, "OD-1", result.PublicCode)
	require.Equal(t, int64(2*5000+6990+DefaultDeliveryCost), result.Total)
	require.True(t, result.ReservedUntil.Equal(now.Add(20*time.Minute)))
	require.True(t, strings.HasPrefix(result.WhatsAppURL, "https://wa.me/51999888777?text="))
	require.Contains(t, result.WhatsAppURL, url.QueryEscape("pedido OD-1 por un total de S/184.90"))
	require.Contains(t, result.WhatsAppURL, url.QueryEscape("Delivery Lima Norte/Centro"))

	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "s-black"))
	require.Equal(t, 4, variantStock(t, f.reg, "prod_jogger", "32-green"))

	order, err := f.svc.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusScheduled, order.Status)
	require.True(t, order.StockReserved)
	require.Equal(t, int64(16990), order.Subtotal)
	require.Equal(t, DefaultDeliveryCost, order.ShippingCost)
	require.Len(t, order.Items, 2)
	require.Equal(t, int64(5000), order.Items[0].UnitPriceSnapshot)
	require.Equal(t, domain.VariantSnapshot{Size: "S", Color: "Negro"}, order.Items[0].VariantSnapshot)
	require.Equal(t, "https://cdn.example.com/polo.jpg", order.Items[0].ImageSnapshot)
	require.Equal(t, int64(6990), order.Items[1].UnitPriceSnapshot, "sale price applies")
	require.Len(t, order.StatusHistory, 1)
	require.Nil(t, order.StatusHistory[0].From)
	require.Equal(t, domain.OrderStatusScheduled, order.StatusHistory[0].To)

	movements := f.reg.StockMovementsFor(result.OrderID)
	require.Len(t, movements, 2)
	for _, m := range movements {
		require.Equal(t, domain.StockReasonOrderCreated, m.Reason)
		require.Equal(t, m.PreviousStock+m.Delta, m.NewStock)
		if m.VariantID == "s-black" {
			require.Equal(t, -2, m.Delta)
			require.Equal(t, 3, m.PreviousStock)
		}
	}

	created := f.events.OfType(OrderEventCreated)
	require.Len(t, created, 1)
	require.NotEmpty(t, created[0].ID)
	require.Equal(t, result.OrderID, created[0].OrderID)
}

func TestCreateOrderSnapshotSurvivesCatalogChanges(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	require.NoError(t, f.reg.PutProduct(ctx, domain.Product{
		ID:       "prod_polo",
		Name:     "Polo Oversize v2",
		Status:   domain.ProductStatusActive,
		Price:    9900,
		Variants: []domain.ProductVariant{{ID: "s-black", Size: "S", Color: "Negro", Stock: 10}},
	}))

	order, err := f.svc.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, "Polo Oversize", order.Items[0].NameSnapshot)
	require.Equal(t, int64(5000), order.Items[0].UnitPriceSnapshot)
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	cmd := deliveryOrder("checkout-replay-1", "987654321", line("prod_polo", "s-black", 2))

	first, err := f.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)

	// a replay inside the rate-limit window is not rejected
	second, err := f.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, first.PublicCode, second.PublicCode)
	require.Equal(t, first.Total, second.Total)
	require.True(t, first.ReservedUntil.Equal(second.ReservedUntil))

	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "s-black"))
	require.Len(t, f.events.OfType(OrderEventCreated), 1)
	require.Len(t, f.reg.StockMovementsFor(first.OrderID), 1)
}

func TestCreateOrderReplayIgnoresDifferentCart(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, deliveryOrder("checkout-replay-2", "987654321", line("prod_polo", "s-black", 2)))
	require.NoError(t, err)

	second, err := f.svc.CreateOrder(ctx, deliveryOrder("checkout-replay-2", "987654321", line("prod_jogger", "32-green", 3)))
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, first.Total, second.Total)

	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "s-black"))
	require.Equal(t, 5, variantStock(t, f.reg, "prod_jogger", "32-green"))
	require.Equal(t, 1, f.reg.Store().Count("stockLogs"))

	order, err := f.svc.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, "prod_polo", order.Items[0].ProductID)
}

func TestCreateOrderConcurrentSameKeyCreatesOneOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	const callers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.CreateOrder(ctx, deliveryOrder("checkout-burst-1", "987654321", line("prod_jogger", "32-green", 1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[result.OrderID]++
			if !result.Replayed {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, ids, 1)
	require.Equal(t, 1, created)
	require.Equal(t, 4, variantStock(t, f.reg, "prod_jogger", "32-green"))
	require.Equal(t, 1, f.reg.Store().Count("stockLogs"))
	require.Len(t, f.events.OfType(OrderEventCreated), 1)
}

func TestCreateOrderRateLimitedPerPhoneAndIP(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, deliveryOrder("rate-key-0001", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, deliveryOrder("rate-key-0002", "987654321", line("prod_polo", "s-black", 1)))
	orderErr := requireReason(t, err, ErrOrderRateLimited, ReasonRateLimited)
	require.Equal(t, "Demasiadas peticiones. Espera 2 minutos.", orderErr.Message)
	require.Equal(t, 2, variantStock(t, f.reg, "prod_polo", "s-black"))

	other := deliveryOrder("rate-key-0003", "912345678", line("prod_polo", "s-black", 1))
	_, err = f.svc.CreateOrder(ctx, other)
	require.NoError(t, err, "another phone is not limited")

	f.clock.Advance(2 * time.Minute)
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("rate-key-0004", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)
	require.Equal(t, "OD-3", result.PublicCode, "rejected attempts do not consume sequence numbers")
}

func TestCreateOrderRejectsWholeCartOnShortage(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321",
		line("prod_polo", "s-black", 2),
		line("prod_polo", "m-black", 2),
	))
	orderErr := requireReason(t, err, ErrOrderFailedPrecondition, ReasonInsufficientStock)
	require.Equal(t, 1, orderErr.Details["available"])
	require.Equal(t, 2, orderErr.Details["requested"])
	require.Contains(t, orderErr.Message, "Stock insuficiente")

	require.Equal(t, 3, variantStock(t, f.reg, "prod_polo", "s-black"))
	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "m-black"))

	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)
	require.Equal(t, "OD-1", result.PublicCode)
}

func TestCreateOrderMergesDuplicateLinesForStockChecks(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), deliveryOrder("", "987654321",
		line("prod_polo", "s-black", 2),
		line("prod_polo", "s-black", 2),
	))
	requireReason(t, err, ErrOrderFailedPrecondition, ReasonInsufficientStock)
	require.Equal(t, 3, variantStock(t, f.reg, "prod_polo", "s-black"))
}

func TestCreateOrderCatalogFailures(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_hidden", "l", 1)))
	requireReason(t, err, ErrOrderFailedPrecondition, ReasonProductInactive)

	_, err = f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_missing", "x", 1)))
	requireReason(t, err, ErrOrderNotFound, ReasonProductNotFound)

	_, err = f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "xl-white", 1)))
	requireReason(t, err, ErrOrderNotFound, ReasonVariantNotFound)
}

func TestCreateOrderValidatesInput(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cmd := deliveryOrder("", "12345", line("prod_polo", "s-black", 1))
	_, err := f.svc.CreateOrder(ctx, cmd)
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	cmd = deliveryOrder("", "987654321")
	_, err = f.svc.CreateOrder(ctx, cmd)
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	cmd = deliveryOrder("", "987654321", line("prod_polo", "s-black", 100))
	_, err = f.svc.CreateOrder(ctx, cmd)
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	cmd = deliveryOrder("", "987654321", line("prod_polo", "s-black", 1))
	cmd.PaymentMethod = "card"
	_, err = f.svc.CreateOrder(ctx, cmd)
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)
}

func TestCreateOrderDeliveryZoneAndCost(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	cost := int64(1000)
	require.NoError(t, f.reg.PutSettings(ctx, domain.StoreSettings{
		DeliveryCost:      &cost,
		DeliveryDistricts: []string{"Los Olivos", "Breña"},
	}))

	cmd := deliveryOrder("", "987654321", line("prod_polo", "s-black", 1))
	cmd.Delivery.District = "San Isidro"
	_, err := f.svc.CreateOrder(ctx, cmd)
	requireReason(t, err, ErrOrderFailedPrecondition, ReasonZoneNotServiceable)
	require.Equal(t, 3, variantStock(t, f.reg, "prod_polo", "s-black"))

	cmd = deliveryOrder("", "987654321", line("prod_polo", "s-black", 1))
	cmd.Delivery.District = "  BRENA "
	result, err := f.svc.CreateOrder(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, int64(6000), result.Total)
}

func TestCreateOrderAgencyPickupIsFree(t *testing.T) {
	f := newOrderFixture(t)
	cmd := deliveryOrder("", "987654321", line("prod_jogger", "32-green", 2))
	cmd.ShippingType = domain.ShippingTypeAgencyCollect
	cmd.Delivery = nil
	cmd.Agency = &domain.AgencyInfo{
		Department:       "Arequipa",
		Province:         "Arequipa",
		District:         "Cayma",
		DNI:              "44556677",
		CustomerAccepted: true,
	}

	result, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, int64(2*6990), result.Total)
	require.Contains(t, result.WhatsAppURL, url.QueryEscape("Agencia Shalom"))

	order, err := f.svc.GetOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.ShippingInfo.Agency)
	require.Equal(t, "Shalom", order.ShippingInfo.Agency.Agency)
	require.Nil(t, order.ShippingInfo.Delivery)
}

func TestCreateOrderWithoutWhatsAppNumber(t *testing.T) {
	f := newOrderFixture(t, func(d *OrderServiceDeps) { d.WhatsAppNumber = "" })
	result, err := f.svc.CreateOrder(context.Background(), deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)
	require.Empty(t, result.WhatsAppURL)
}

func TestCreateOrderConcurrentBuyersOfLastUnit(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	const buyers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []string
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := deliveryOrder("", fmt.Sprintf("98765430%d", i), line("prod_polo", "m-black", 1))
			result, err := f.svc.CreateOrder(ctx, cmd)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, result.PublicCode)
		}(i)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	require.Len(t, failures, buyers-1)
	for _, err := range failures {
		requireReason(t, err, ErrOrderFailedPrecondition, ReasonInsufficientStock)
	}
	require.Equal(t, 0, variantStock(t, f.reg, "prod_polo", "m-black"))
	require.Equal(t, "OD-1", successes[0])
}

func TestCreateOrderConcurrentSequenceNumbersAreUnique(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	const buyers = 5

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]bool{}
		errs  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.svc.CreateOrder(ctx, deliveryOrder("", fmt.Sprintf("91234560%d", i), line("prod_jogger", "32-green", 1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			codes[result.PublicCode] = true
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, codes, buyers)
	for i := 1; i <= buyers; i++ {
		require.True(t, codes[fmt.Sprintf("OD-%d", i)])
	}
	require.Equal(t, 0, variantStock(t, f.reg, "prod_jogger", "32-green"))
}

func TestSubmitPaymentClaimsCode(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	paid, err := f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: result.OrderID, OperationCode: " op-123456 "})
	require.NoError(t, err)
	require.Equal(t, "OP-123456", paid.OperationCode)
	require.Equal(t, "Código de operación registrado. El administrador verificará tu pago pronto.", paid.Message)

	order, err := f.svc.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, "OP-123456", order.OperationCode)
	require.Equal(t, domain.OrderStatusScheduled, order.Status)

	entries := f.reg.AuditEntriesFor(result.OrderID)
	require.Len(t, entries, 1)
	require.Equal(t, auditActionPaymentCode, entries[0].Action)
	require.Equal(t, "guest", entries[0].PerformedBy)

	again, err := f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: result.OrderID, OperationCode: "OP-123456"})
	require.NoError(t, err, "resubmitting the same code is idempotent")
	require.Equal(t, paid, again)
	require.Len(t, f.events.OfType(OrderEventPaymentSubmitted), 1)
	require.Len(t, f.reg.AuditEntriesFor(result.OrderID), 1)
}

func TestSubmitPaymentRejectsCodeOfAnotherOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, deliveryOrder("", "912345678", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: first.OrderID, OperationCode: "7788990011"})
	require.NoError(t, err)

	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: second.OrderID, OperationCode: "7788990011"})
	orderErr := requireReason(t, err, ErrOrderAlreadyExists, ReasonOperationCodeUsed)
	require.Equal(t, first.PublicCode, orderErr.Details["existingOrderPublicCode"])

	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: first.OrderID, OperationCode: "1122334455"})
	require.NoError(t, err)
	order, err := f.svc.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	require.Equal(t, "1122334455", order.OperationCode)

	entries := f.reg.AuditEntriesFor(first.OrderID)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[1].PreviousValue)
	require.Equal(t, "7788990011", *entries[1].PreviousValue)

	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: second.OrderID, OperationCode: "7788990011"})
	requireReason(t, err, ErrOrderAlreadyExists, ReasonOperationCodeUsed)
}

func TestSubmitPaymentPreconditions(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: "ord_missing", OperationCode: "ABCD1234"})
	requireReason(t, err, ErrOrderNotFound, ReasonOrderNotFound)

	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: "ord_x", OperationCode: "ab"})
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{
		OrderID:   result.OrderID,
		NewStatus: string(domain.OrderStatusCancelledManual),
		Actor:     Actor{UID: "admin-1"},
	})
	require.NoError(t, err)
	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: result.OrderID, OperationCode: "ABCD1234"})
	require.NoError(t, err)
	claim, claimed, err := f.svc.codes.Lookup(ctx, "ABCD1234")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, result.OrderID, claim.OrderID)

	verified, err := f.svc.CreateOrder(ctx, deliveryOrder("", "912345678", line("prod_jogger", "32-green", 1)))
	require.NoError(t, err)
	for _, status := range []domain.OrderStatus{domain.OrderStatusPaymentReported, domain.OrderStatusPaymentVerified} {
		_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: verified.OrderID, NewStatus: string(status), Actor: Actor{UID: "admin-1"}})
		require.NoError(t, err)
	}
	_, err = f.svc.SubmitPayment(ctx, SubmitPaymentCommand{OrderID: verified.OrderID, OperationCode: "EFGH5678"})
	requireReason(t, err, ErrOrderAlreadyExists, ReasonPaymentVerified)
}

func TestChangeStatusManualCancelRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 2)))
	require.NoError(t, err)
	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "s-black"))

	updated, err := f.svc.ChangeStatus(ctx, ChangeStatusCommand{
		OrderID:   result.OrderID,
		NewStatus: "cancelled_manual",
		Reason:    "cliente desistió",
		Actor:     Actor{UID: "admin-1", Email: "ops@example.com", IP: "198.51.100.1"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelledManual, updated.Status)
	require.False(t, updated.StockReserved)
	require.NotNil(t, updated.CancelledAt)
	require.Equal(t, "cliente desistió", updated.CancelledReason)
	require.Equal(t, 3, variantStock(t, f.reg, "prod_polo", "s-black"))

	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	require.NotNil(t, last.From)
	require.Equal(t, domain.OrderStatusScheduled, *last.From)
	require.Equal(t, "admin-1", last.ChangedBy)

	movements := f.reg.StockMovementsFor(result.OrderID)
	require.Len(t, movements, 2)
	restored := 0
	for _, m := range movements {
		if m.Reason == domain.StockReasonOrderCancelledManual {
			restored++
			require.Equal(t, 2, m.Delta)
		}
	}
	require.Equal(t, 1, restored)

	entries := f.reg.AuditEntriesFor(result.OrderID)
	require.Len(t, entries, 1)
	require.Equal(t, auditActionStatusChanged, entries[0].Action)
	require.Equal(t, "ops@example.com", entries[0].AdminEmail)
	require.NotNil(t, entries[0].PreviousValue)
	require.Equal(t, "SCHEDULED", *entries[0].PreviousValue)

	events := f.events.OfType(OrderEventStatusChanged)
	require.Len(t, events, 1)
	require.Equal(t, "SCHEDULED", events[0].PreviousStatus)
	require.Equal(t, "CANCELLED_MANUAL", events[0].CurrentStatus)
}

func TestChangeStatusExpiryReleasesReservation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 2)))
	require.NoError(t, err)
	require.Equal(t, 1, variantStock(t, f.reg, "prod_polo", "s-black"))

	updated, err := f.svc.ChangeStatus(ctx, ChangeStatusCommand{
		OrderID:   result.OrderID,
		NewStatus: string(domain.OrderStatusCancelledExpired),
		Actor:     Actor{UID: "admin-1"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelledExpired, updated.Status)
	require.False(t, updated.StockReserved)
	require.NotNil(t, updated.CancelledAt)
	require.Equal(t, 3, variantStock(t, f.reg, "prod_polo", "s-black"))

	movements := f.reg.StockMovementsFor(result.OrderID)
	require.Len(t, movements, 2)
	require.Equal(t, domain.StockReasonOrderExpired, movements[1].Reason)
	require.Equal(t, 2, movements[1].Delta)

	stored, err := f.svc.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.False(t, stored.StockReserved)
}

func TestChangeStatusCancelAfterVerificationKeepsStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	admin := Actor{UID: "admin-1"}
	for _, status := range []domain.OrderStatus{domain.OrderStatusPaymentReported, domain.OrderStatusPaymentVerified} {
		_, err := f.svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: result.OrderID, NewStatus: string(status), Actor: admin})
		require.NoError(t, err)
	}

	updated, err := f.svc.ChangeStatus(ctx, ChangeStatusCommand{
		OrderID:   result.OrderID,
		NewStatus: string(domain.OrderStatusCancelledManual),
		Actor:     admin,
	})
	require.NoError(t, err)
	require.True(t, updated.PaymentVerified)
	require.Equal(t, 2, variantStock(t, f.reg, "prod_polo", "s-black"), "stock stays reserved for operator review")
	require.True(t, f.logs.Has("order.cancel.stock_review.warning"))
}

func TestChangeStatusRejectsIllegalTransition(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	result, err := f.svc.CreateOrder(ctx, deliveryOrder("", "987654321", line("prod_polo", "s-black", 1)))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{
		OrderID:   result.OrderID,
		NewStatus: string(domain.OrderStatusDelivered),
		Actor:     Actor{UID: "admin-1"},
	})
	orderErr := requireReason(t, err, ErrOrderFailedPrecondition, ReasonInvalidTransition)
	require.Equal(t, "SCHEDULED", orderErr.Details["current"])
	require.Equal(t, []string{"PAYMENT_REPORTED", "CANCELLED_MANUAL", "CANCELLED_EXPIRED"}, orderErr.Details["allowed"])

	order, err := f.svc.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusScheduled, order.Status)
	require.Empty(t, f.reg.AuditEntriesFor(result.OrderID))

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: result.OrderID, NewStatus: "PAID", Actor: Actor{UID: "admin-1"}})
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: result.OrderID, NewStatus: "PAYMENT_REPORTED"})
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: "ord_missing", NewStatus: "PAYMENT_REPORTED", Actor: Actor{UID: "admin-1"}})
	requireReason(t, err, ErrOrderNotFound, ReasonOrderNotFound)
}

func TestListOrdersNewestFirst(t *testing.T) {
	f := newOrderFixture(t, func(d *OrderServiceDeps) { d.IDGenerator = sequentialIDs() })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(ctx, deliveryOrder("", fmt.Sprintf("90000000%d", i), line("prod_jogger", "32-green", 1)))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.ListOrders(ctx, OrderListFilter{Pagination: Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "ord_000003", page.Items[0].ID)
	require.Equal(t, "ord_000002", page.Items[1].ID)
	require.NotEmpty(t, page.NextPageToken)

	next, err := f.svc.ListOrders(ctx, OrderListFilter{Pagination: Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	require.Equal(t, "ord_000001", next.Items[0].ID)

	_, err = f.svc.ListOrders(ctx, OrderListFilter{Pagination: Pagination{PageToken: "%%%"}})
	requireReason(t, err, ErrOrderInvalidInput, ReasonValidation)
}

func TestBuildWhatsAppURL(t *testing.T) {
	link := BuildWhatsAppURL("51999888777", "OD-42", 12345, domain.ShippingTypeAgencyCollect)
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "wa.me", parsed.Host)
	require.Equal(t, "/51999888777", parsed.Path)
	require.Equal(t,
		"Hola ODERA 05 STORE, acabo de realizar el pedido OD-42 por un total de S/123.45. Tipo de envío: Agencia Shalom. Adjuntaré mi comprobante y mi código de operación.",
		parsed.Query().Get("text"))
}
