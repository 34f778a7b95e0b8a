package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/platform/observability"
	"github.com/odera-store/api/internal/repositories"
)

const (
	// MaxSweepBatchSize mirrors the Firestore per-transaction write cap.
	MaxSweepBatchSize    = 500
	defaultSweepMaxPages = 20
	defaultSweepWorkers  = 4

	sweeperActor        = "system_ttl"
	expiredCancelReason = "TTL expired (20 minutes without payment)"
)

// ExpirySweeperDeps bundles collaborators required by the reservation sweeper.
type ExpirySweeperDeps struct {
	UnitOfWork     repositories.UnitOfWork
	Orders         repositories.OrderRepository
	Products       repositories.ProductRepository
	StockMovements repositories.StockMovementRepository
	Events         OrderEventPublisher
	Metrics        *observability.OrderMetrics

	BatchSize   int
	MaxPages    int
	Parallelism int

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type expirySweeper struct {
	unitOfWork repositories.UnitOfWork
	orders     repositories.OrderRepository
	ledger     *StockLedger
	events     OrderEventPublisher
	metrics    *observability.OrderMetrics

	batchSize   int
	maxPages    int
	parallelism int

	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ ExpirySweeper = (*expirySweeper)(nil)

type sweepOutcome int

const (
	sweepExpired sweepOutcome = iota
	sweepSkipped
)

// NewExpirySweeper builds the sweeper that cancels SCHEDULED orders past their reservation deadline.
func NewExpirySweeper(deps ExpirySweeperDeps) (ExpirySweeper, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("expiry sweeper: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("expiry sweeper: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ledger, err := NewStockLedger(StockLedgerDeps{
		Products:  deps.Products,
		Movements: deps.StockMovements,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("expiry sweeper: %w", err)
	}

	batch := deps.BatchSize
	if batch <= 0 || batch > MaxSweepBatchSize {
		batch = MaxSweepBatchSize
	}
	pages := deps.MaxPages
	if pages <= 0 {
		pages = defaultSweepMaxPages
	}
	workers := deps.Parallelism
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	return &expirySweeper{
		unitOfWork:  deps.UnitOfWork,
		orders:      deps.Orders,
		ledger:      ledger,
		events:      deps.Events,
		metrics:     deps.Metrics,
		batchSize:   batch,
		maxPages:    pages,
		parallelism: workers,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// RunExpirySweep expires every overdue reservation it can find. Each order runs in its own
// transaction, so one failing order never blocks the others; failures are reported in the
// summary and picked up again by the next run.
func (s *expirySweeper) RunExpirySweep(ctx context.Context) (summary SweepSummary, err error) {
	ctx, span := tracer.Start(ctx, "ExpirySweeper.RunExpirySweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.found", summary.Found),
			attribute.Int("sweep.processed", summary.Processed),
			attribute.Int("sweep.errors", len(summary.Errors)),
		)
		endSpan(span, err)
	}()

	now := s.clock()
	summary = SweepSummary{Timestamp: now, Errors: []string{}}
	var (
		expired []domain.Order
		cursor  *repositories.ReservationCursor
	)
	for page := 0; page < s.maxPages; page++ {
		batch, err := s.orders.ListExpiredReservations(ctx, now, cursor, s.batchSize)
		if err != nil {
			if page == 0 {
				return summary, mapRepositoryError(err)
			}
			s.logger(ctx, "order.sweep.query.warning", map[string]any{"page": page, "error": err.Error()})
			break
		}

		if len(batch) == 0 {
			break
		}
		summary.Found += len(batch)
		// Failed orders stay SCHEDULED, so the next page starts after this one's last row.
		cursor = repositories.ReservationCursorOf(batch[len(batch)-1])

		done, failures := s.processBatch(ctx, now, batch)
		for _, order := range done {
			if order.ID == "" {
				summary.Skipped++
				continue
			}
			summary.Processed++
			expired = append(expired, order)
		}
		summary.Errors = append(summary.Errors, failures...)

		if len(batch) < s.batchSize {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.metrics.SweepResult(ctx, summary.Processed, len(summary.Errors))
	for _, order := range expired {
		s.publishExpired(ctx, order)
	}
	s.logger(ctx, "order.sweep.completed", map[string]any{
		"found":     summary.Found,
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"errors":    len(summary.Errors),
	})
	return summary, nil
}

// processBatch returns one entry per handled order; skipped orders come back with an empty ID.
func (s *expirySweeper) processBatch(ctx context.Context, now time.Time, batch []domain.Order) ([]domain.Order, []string) {
	var (
		mu       sync.Mutex
		done     []domain.Order
		failures []string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)
	for _, candidate := range batch {
		orderID := candidate.ID
		group.Go(func() error {
			order, outcome, err := s.expireOrder(groupCtx, orderID, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.logger(ctx, "order.sweep.order.warning", map[string]any{"orderId": orderID, "error": err.Error()})
				failures = append(failures, fmt.Sprintf("%s: %v", orderID, err))
			case outcome == sweepSkipped:
				done = append(done, domain.Order{})
			default:
				done = append(done, order)
			}
			return nil
		})
	}
	_ = group.Wait()
	return done, failures
}

func (s *expirySweeper) expireOrder(ctx context.Context, orderID string, now time.Time) (domain.Order, sweepOutcome, error) {
	var (
		expired domain.Order
		outcome sweepOutcome
		skipped []StockLine
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		outcome, skipped = sweepExpired, nil

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusScheduled || order.ReservedUntil.After(now) {
			outcome = sweepSkipped
			return nil
		}

		var plan *StockPlan
		if order.StockReserved {
			if plan, err = s.ledger.PrepareRestore(txCtx, order.ID, order.ReservationLines(), domain.StockReasonOrderExpired); err != nil {
				return err
			}
		}

		at := s.clock()
		if plan != nil {
			if err := s.ledger.Commit(txCtx, plan); err != nil {
				return err
			}
			skipped = plan.Skipped()
		}
		from := order.Status
		order.Status = domain.OrderStatusCancelledExpired
		order.StockReserved = false
		order.CancelledAt = &at
		order.CancelledReason = expiredCancelReason
		order.UpdatedAt = at
		order.UpdatedBy = sweeperActor
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:      &from,
			To:        domain.OrderStatusCancelledExpired,
			ChangedBy: sweeperActor,
			ChangedAt: at,
			Reason:    expiredCancelReason,
		})
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		expired = order
		return nil
	})
	if err != nil {
		return domain.Order{}, outcome, mapRepositoryError(err)
	}
	if len(skipped) > 0 {
		s.logger(ctx, "order.sweep.restore.warning", map[string]any{"orderId": orderID, "skippedLines": len(skipped)})
	}
	return expired, outcome, nil
}

func (s *expirySweeper) publishExpired(ctx context.Context, order domain.Order) {
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           OrderEventExpired,
		OrderID:        order.ID,
		PublicCode:     order.PublicCode,
		PreviousStatus: string(domain.OrderStatusScheduled),
		CurrentStatus:  string(order.Status),
		ActorID:        sweeperActor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"reason": expiredCancelReason},
	})
}
