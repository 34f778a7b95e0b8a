package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/observability"
	"github.com/odera-store/api/internal/platform/pagination"
	"github.com/odera-store/api/internal/repositories"
)

const (
	OrderEventCreated          = "order.created"
	OrderEventStatusChanged    = "order.status_changed"
	OrderEventExpired          = "order.expired"
	OrderEventPaymentSubmitted = "order.payment_submitted"

	orderCounterID           = "orders"
	publicCodePrefix         = "OD-"
	defaultOrderIDPrefix     = "ord_"
	defaultReservationWindow = 20 * time.Minute
	defaultRateWindow        = 2 * time.Minute

	changedBySystem = "system"

	auditActionStatusChanged = "ORDER_STATUS_CHANGED"
	auditActionPaymentCode   = "payment_code_submitted"
)

var tracer = otel.Tracer("github.com/odera-store/api/internal/services")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	UnitOfWork     repositories.UnitOfWork
	Products       repositories.ProductRepository
	StockMovements repositories.StockMovementRepository
	Orders         repositories.OrderRepository
	Counters       repositories.CounterRepository
	Idempotency    repositories.IdempotencyRepository
	PaymentCodes   repositories.PaymentCodeRepository
	RateLimits     repositories.RateLimitRepository
	Settings       repositories.SettingsRepository
	Audit          AuditLogService
	Events         OrderEventPublisher
	Metrics        *observability.OrderMetrics

	ReservationWindow   time.Duration
	RateWindow          time.Duration
	DefaultDeliveryCost int64
	WhatsAppNumber      string
	IDPrefix            string

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	unitOfWork  repositories.UnitOfWork
	orders      repositories.OrderRepository
	counters    repositories.CounterRepository
	rateLimits  repositories.RateLimitRepository
	settings    repositories.SettingsRepository
	ledger      *StockLedger
	idempotency *IdempotencyGuard
	codes       *PaymentCodeRegistry
	quoter      ShippingQuoter
	audit       AuditLogService
	events      OrderEventPublisher
	metrics     *observability.OrderMetrics

	reservationWindow time.Duration
	rateWindow        time.Duration
	whatsAppNumber    string
	idPrefix          string

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	return newOrderService(deps)
}

func newOrderService(deps OrderServiceDeps) (*orderService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.RateLimits == nil {
		return nil, errors.New("order service: rate limit repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("order service: audit log service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}

	ledger, err := NewStockLedger(StockLedgerDeps{
		Products:  deps.Products,
		Movements: deps.StockMovements,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	guard, err := NewIdempotencyGuard(deps.Idempotency)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	codes, err := NewPaymentCodeRegistry(deps.PaymentCodes)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	reservation := deps.ReservationWindow
	if reservation <= 0 {
		reservation = defaultReservationWindow
	}
	rateWindow := deps.RateWindow
	if rateWindow < 0 {
		rateWindow = 0
	} else if rateWindow == 0 {
		rateWindow = defaultRateWindow
	}
	prefix := strings.TrimSpace(deps.IDPrefix)
	if prefix == "" {
		prefix = defaultOrderIDPrefix
	}

	return &orderService{
		unitOfWork:        deps.UnitOfWork,
		orders:            deps.Orders,
		counters:          deps.Counters,
		rateLimits:        deps.RateLimits,
		settings:          deps.Settings,
		ledger:            ledger,
		idempotency:       guard,
		codes:             codes,
		quoter:            NewShippingQuoter(deps.DefaultDeliveryCost),
		audit:             deps.Audit,
		events:            deps.Events,
		metrics:           deps.Metrics,
		reservationWindow: reservation,
		rateWindow:        rateWindow,
		whatsAppNumber:    strings.TrimSpace(deps.WhatsAppNumber),
		idPrefix:          prefix,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder reserves stock and persists a SCHEDULED order in one transaction. A repeated
// idempotency key returns the first result without touching stock or the counter.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (result CreateOrderResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder")
	defer func() { endSpan(span, err) }()

	cmd, err = normalizeCreateOrder(cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	orderID := s.idPrefix + s.newID()
	shipping := domain.ShippingInfo{Type: cmd.ShippingType, Delivery: cmd.Delivery, Agency: cmd.Agency}
	lines := make([]StockLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	rateKey := rateLimitKey(cmd.Customer.Phone, cmd.ClientIP)

	var (
		order    domain.Order
		receipt  OrderReceipt
		replayed bool
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, receipt, replayed = domain.Order{}, OrderReceipt{}, false
		now := s.clock()

		record, found, err := s.idempotency.Check(txCtx, cmd.IdempotencyKey)
		if err != nil {
			return err
		}
		if found {
			replayed = true
			receipt = OrderReceipt{
				OrderID:    record.OrderID,
				PublicCode: record.PublicCode,
				Total:      record.Total,
				Replayed:   true,
			}
			return nil
		}

		limit, limited, err := s.findRateLimit(txCtx, rateKey)
		if err != nil {
			return err
		}
		if limited && s.rateWindow > 0 && now.Sub(limit.LastOrderAt) < s.rateWindow {
			return newOrderError(ErrOrderRateLimited, ReasonRateLimited, "Demasiadas peticiones. Espera 2 minutos.",
				map[string]any{"retryAfterSeconds": int((s.rateWindow - now.Sub(limit.LastOrderAt)).Seconds()) + 1})
		}

		settings, err := s.settings.Store(txCtx)
		if err != nil {
			return err
		}
		shippingCost, err := s.quoter.Quote(settings, shipping)
		if err != nil {
			return err
		}

		plan, err := s.ledger.PrepareReserve(txCtx, orderID, lines)
		if err != nil {
			return err
		}
		items := buildSnapshots(cmd.Items, plan.Products())
		subtotal, total := domain.OrderTotals(items, shippingCost)

		seq, err := s.counters.Next(txCtx, orderCounterID)
		if err != nil {
			return err
		}

		order = domain.Order{
			ID:            orderID,
			PublicCode:    fmt.Sprintf("%s%d", publicCodePrefix, seq),
			UserID:        cmd.UserID,
			Customer:      cmd.Customer,
			Items:         items,
			Subtotal:      subtotal,
			ShippingCost:  shippingCost,
			Total:         total,
			Status:        domain.OrderStatusScheduled,
			StatusHistory: []domain.StatusChange{{To: domain.OrderStatusScheduled, ChangedBy: changedBySystem, ChangedAt: now}},
			ReservedUntil: now.Add(s.reservationWindow),
			StockReserved: true,
			ShippingType:  cmd.ShippingType,
			ShippingInfo:  shipping,
			PaymentMethod: cmd.PaymentMethod,
			CustomerNotes: cmd.CustomerNotes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := s.ledger.Commit(txCtx, plan); err != nil {
			return err
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		if err := s.idempotency.Remember(txCtx, domain.IdempotencyRecord{
			Key:        cmd.IdempotencyKey,
			OrderID:    order.ID,
			PublicCode: order.PublicCode,
			Total:      order.Total,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if err := s.rateLimits.Save(txCtx, domain.RateLimitRecord{Key: rateKey, LastOrderAt: now, Count: limit.Count + 1}); err != nil {
			return err
		}

		receipt = OrderReceipt{
			OrderID:       order.ID,
			PublicCode:    order.PublicCode,
			Total:         order.Total,
			ReservedUntil: order.ReservedUntil,
		}
		return nil
	})
	if err != nil {
		err = mapRepositoryError(err)
		s.logger(ctx, "order.create.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return CreateOrderResult{}, err
	}

	span.SetAttributes(attribute.String("order.id", receipt.OrderID), attribute.Bool("order.replayed", replayed))
	if replayed {
		s.logger(ctx, "order.create.replayed", map[string]any{"orderId": receipt.OrderID, "publicCode": receipt.PublicCode})
		if existing, err := s.orders.FindByID(ctx, receipt.OrderID); err == nil {
			receipt.ReservedUntil = existing.ReservedUntil
			shipping.Type = existing.ShippingType
		}
		return CreateOrderResult{OrderReceipt: receipt, WhatsAppURL: s.whatsAppURL(receipt.PublicCode, receipt.Total, shipping.Type)}, nil
	}

	s.metrics.OrderCreated(ctx, string(order.ShippingType))
	s.logger(ctx, "order.created", map[string]any{
		"orderId":    order.ID,
		"publicCode": order.PublicCode,
		"total":      order.Total,
		"items":      len(order.Items),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		PublicCode:    order.PublicCode,
		CurrentStatus: string(order.Status),
		ActorID:       order.UserID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"total":        order.Total,
			"shippingType": string(order.ShippingType),
		},
	})

	return CreateOrderResult{
		OrderReceipt: receipt,
		WhatsAppURL:  s.whatsAppURL(order.PublicCode, order.Total, order.ShippingType),
	}, nil
}

func (s *orderService) findRateLimit(ctx context.Context, key string) (domain.RateLimitRecord, bool, error) {
	record, err := s.rateLimits.Find(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return domain.RateLimitRecord{Key: key}, false, nil
		}
		return domain.RateLimitRecord{}, false, err
	}
	return record, true, nil
}

// SubmitPayment claims an operation code for an order. The claim is pre-checked outside the
// transaction and re-checked inside it; resubmitting the same code for the same order succeeds.
func (s *orderService) SubmitPayment(ctx context.Context, cmd SubmitPaymentCommand) (result SubmitPaymentResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.SubmitPayment")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return SubmitPaymentResult{}, invalidInput("orderId", "orderId is required")
	}
	code, err := normalizeOperationCode(cmd.OperationCode)
	if err != nil {
		return SubmitPaymentResult{}, err
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return SubmitPaymentResult{}, err
	}
	recorded, err := paymentPreconditions(order, code)
	if err != nil {
		return SubmitPaymentResult{}, err
	}
	if recorded {
		return paymentRecorded(order, code), nil
	}
	existing, claimed, err := s.codes.Lookup(ctx, code)
	if err != nil {
		return SubmitPaymentResult{}, mapRepositoryError(err)
	}
	if claimed && existing.OrderID != order.ID {
		return SubmitPaymentResult{}, codeAlreadyUsed(code, existing.OrderPublicCode)
	}

	var previous string
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		recorded = false
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if recorded, err = paymentPreconditions(current, code); err != nil || recorded {
			order = current
			return err
		}
		existing, claimed, err := s.codes.Lookup(txCtx, code)
		if err != nil {
			return err
		}
		if claimed && existing.OrderID != current.ID {
			return codeAlreadyUsed(code, existing.OrderPublicCode)
		}

		now := s.clock()
		if !claimed {
			if err := s.codes.Claim(txCtx, domain.PaymentCodeRecord{
				Code:            code,
				OrderID:         current.ID,
				OrderPublicCode: current.PublicCode,
				UserID:          cmd.UserID,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
		}
		previous = current.OperationCode
		current.OperationCode = code
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return err
		}
		performedBy := strings.TrimSpace(cmd.UserID)
		if performedBy == "" {
			performedBy = "guest"
		}
		record := AuditLogRecord{
			Entity:      "order",
			EntityID:    current.ID,
			Action:      auditActionPaymentCode,
			NewValue:    code,
			PerformedBy: performedBy,
			OccurredAt:  now,
		}
		if previous != "" {
			record.PreviousValue = &previous
		}
		if err := s.audit.Record(txCtx, record); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return SubmitPaymentResult{}, orderNotFound(orderID)
		}
		return SubmitPaymentResult{}, mapRepositoryError(err)
	}
	if recorded {
		return paymentRecorded(order, code), nil
	}

	s.logger(ctx, "order.payment.submitted", map[string]any{"orderId": order.ID, "publicCode": order.PublicCode, "operationCode": code})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventPaymentSubmitted,
		OrderID:        order.ID,
		PublicCode:     order.PublicCode,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.UserID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"operationCode": code, "previousOperationCode": previous},
	})
	return paymentRecorded(order, code), nil
}

// paymentPreconditions reports whether code is already recorded on order. Only expired and
// verified orders refuse a code; a new code replaces an earlier one, which stays claimed.
func paymentPreconditions(order domain.Order, code string) (bool, error) {
	if order.Status == domain.OrderStatusCancelledExpired {
		return false, newOrderError(ErrOrderFailedPrecondition, ReasonOrderExpired,
			"Esta orden expiró. El stock ya fue liberado. Crea un nuevo pedido.", map[string]any{"orderId": order.ID})
	}
	if order.PaymentVerified {
		return false, newOrderError(ErrOrderAlreadyExists, ReasonPaymentVerified,
			"Este pedido ya fue verificado como pagado", map[string]any{"orderId": order.ID})
	}
	return order.OperationCode == code, nil
}

func paymentRecorded(order domain.Order, code string) SubmitPaymentResult {
	return SubmitPaymentResult{
		OrderID:       order.ID,
		PublicCode:    order.PublicCode,
		OperationCode: code,
		Message:       "Código de operación registrado. El administrador verificará tu pago pronto.",
	}
}

// ChangeStatus applies an operator transition. Manual cancellation restores stock only from
// states listed by domain.RestoreStockOnCancel and only while the order still holds stock.
// Expiry always returns a held reservation.
func (s *orderService) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (updated Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ChangeStatus")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("orderId", "orderId is required")
	}
	target, ok := domain.ParseOrderStatus(cmd.NewStatus)
	if !ok {
		return Order{}, invalidInput("newStatus", fmt.Sprintf("unknown status %q", cmd.NewStatus))
	}
	actor := strings.TrimSpace(cmd.Actor.UID)
	if actor == "" {
		return Order{}, invalidInput("actor", "an authenticated admin is required")
	}
	reason := cleanText(cmd.Reason, maxNotesRunes)

	var (
		previous     OrderStatus
		restored     bool
		needsReview  bool
		skippedLines []StockLine
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		restored, needsReview, skippedLines = false, false, nil

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := domain.ValidateTransition(order.Status, target); err != nil {
			return invalidTransition(err)
		}

		var plan *StockPlan
		switch target {
		case domain.OrderStatusCancelledManual:
			switch {
			case !domain.RestoreStockOnCancel(order.Status):
				needsReview = order.StockReserved
			case order.StockReserved:
				if plan, err = s.ledger.PrepareRestore(txCtx, order.ID, order.ReservationLines(), domain.StockReasonOrderCancelledManual); err != nil {
					return err
				}
			}
		case domain.OrderStatusCancelledExpired:
			// Operator expiry releases the reservation the same way the sweeper does.
			if order.StockReserved {
				if plan, err = s.ledger.PrepareRestore(txCtx, order.ID, order.ReservationLines(), domain.StockReasonOrderExpired); err != nil {
					return err
				}
			}
		}

		now := s.clock()
		if plan != nil {
			if err := s.ledger.Commit(txCtx, plan); err != nil {
				return err
			}
			restored = true
			skippedLines = plan.Skipped()
			order.StockReserved = false
		}

		previous = order.Status
		from := order.Status
		order.Status = target
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:      &from,
			To:        target,
			ChangedBy: actor,
			ChangedAt: now,
			Reason:    reason,
		})
		order.UpdatedAt = now
		order.UpdatedBy = actor
		switch target {
		case domain.OrderStatusPaymentVerified:
			order.PaymentVerified = true
		case domain.OrderStatusCancelledManual, domain.OrderStatusCancelledExpired:
			order.CancelledAt = &now
			order.CancelledReason = reason
			if order.CancelledReason == "" {
				order.CancelledReason = "Cancelado por administrador"
			}
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}

		prev := string(from)
		if err := s.audit.Record(txCtx, AuditLogRecord{
			Entity:        "order",
			EntityID:      order.ID,
			Action:        auditActionStatusChanged,
			PreviousValue: &prev,
			NewValue:      string(target),
			PerformedBy:   actor,
			AdminEmail:    cmd.Actor.Email,
			UserAgent:     cmd.Actor.UserAgent,
			IP:            cmd.Actor.IP,
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return Order{}, orderNotFound(orderID)
		}
		return Order{}, mapRepositoryError(err)
	}

	if needsReview {
		s.logger(ctx, "order.cancel.stock_review.warning", map[string]any{
			"orderId": updated.ID,
			"from":    string(previous),
			"detail":  "stock not restored automatically; operator review required",
		})
	}
	if len(skippedLines) > 0 {
		s.logger(ctx, "order.cancel.restore.warning", map[string]any{"orderId": updated.ID, "skippedLines": len(skippedLines)})
	}
	s.metrics.StatusChanged(ctx, string(previous), string(target))
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":  updated.ID,
		"from":     string(previous),
		"to":       string(target),
		"actor":    actor,
		"restored": restored,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		PublicCode:     updated.PublicCode,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        actor,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"stockRestored": restored, "reason": reason},
	})
	return updated, nil
}

func invalidTransition(err error) error {
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		return err
	}
	allowed := make([]string, 0, len(invalid.Allowed))
	for _, status := range invalid.Allowed {
		allowed = append(allowed, string(status))
	}
	return newOrderError(ErrOrderFailedPrecondition, ReasonInvalidTransition, invalid.Error(), map[string]any{
		"current":   string(invalid.Current),
		"requested": string(invalid.Requested),
		"allowed":   allowed,
	})
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("orderId", "orderId is required")
	}
	return s.loadOrder(ctx, orderID)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = pagination.DefaultPageSize
	}
	if filter.Pagination.PageSize > pagination.MaxPageSize {
		filter.Pagination.PageSize = pagination.MaxPageSize
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, invalidInput("pageToken", "pageToken is invalid")
		}
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, orderNotFound(orderID)
		}
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func orderNotFound(orderID string) *OrderError {
	return newOrderError(ErrOrderNotFound, ReasonOrderNotFound, "Orden no encontrada", map[string]any{"orderId": orderID})
}

func (s *orderService) whatsAppURL(publicCode string, total int64, shippingType domain.ShippingType) string {
	if s.whatsAppNumber == "" {
		return ""
	}
	return BuildWhatsAppURL(s.whatsAppNumber, publicCode, total, shippingType)
}

// BuildWhatsAppURL returns the wa.me link customers use to send their payment receipt.
func BuildWhatsAppURL(number, publicCode string, total int64, shippingType domain.ShippingType) string {
	shippingText := "Agencia Shalom"
	if shippingType == domain.ShippingTypeDelivery {
		shippingText = "Delivery Lima Norte/Centro"
	}
	message := fmt.Sprintf("Hola ODERA 05 STORE, acabo de realizar el pedido %s por un total de S/%.2f. Tipo de envío: %s. Adjuntaré mi comprobante y mi código de operación.",
		publicCode, domain.SolesFromCents(total), shippingText)
	return "https://wa.me/" + url.PathEscape(number) + "?text=" + url.QueryEscape(message)
}

func buildSnapshots(items []OrderLineInput, products map[string]domain.Product) []domain.OrderItemSnapshot {
	snapshots := make([]domain.OrderItemSnapshot, 0, len(items))
	for _, item := range items {
		product := products[item.ProductID]
		variant, _, _ := product.Variant(item.VariantID)
		snapshots = append(snapshots, domain.OrderItemSnapshot{
			ProductID:         product.ID,
			ProductPublicCode: product.PublicCode,
			VariantID:         variant.ID,
			NameSnapshot:      product.Name,
			UnitPriceSnapshot: product.EffectivePrice(),
			Quantity:          item.Quantity,
			VariantSnapshot:   domain.VariantSnapshot{Size: variant.Size, Color: variant.Color},
			ImageSnapshot:     product.CoverImageURL,
		})
	}
	return snapshots
}

var rateKeyReplacer = strings.NewReplacer("/", "_", ".", "-", ":", "-")

func rateLimitKey(phone, ip string) string {
	if ip == "" {
		return phone
	}
	return phone + "_" + rateKeyReplacer.Replace(ip)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

// publishOrderEvent is best effort: the mutation already committed, so failures are only logged.
func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.warning", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
