package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

// StockLedger mutates variant stock and appends the movement log. It never opens a
// transaction: callers pass a transactional context. Work is split in two phases so that
// every read of a transaction happens before its first write.
type StockLedger struct {
	products  repositories.ProductRepository
	movements repositories.StockMovementRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// StockLedgerDeps bundles collaborators required by the ledger.
type StockLedgerDeps struct {
	Products  repositories.ProductRepository
	Movements repositories.StockMovementRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewStockLedger validates dependencies and builds a ledger.
func NewStockLedger(deps StockLedgerDeps) (*StockLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}
	if deps.Movements == nil {
		return nil, errors.New("stock ledger: stock movement repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StockLedger{
		products:  deps.Products,
		movements: deps.Movements,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// StockPlan holds the product documents loaded and mutated in memory by a Prepare call,
// waiting to be written by Commit.
type StockPlan struct {
	orderID   string
	order     []string
	products  map[string]*domain.Product
	movements []domain.StockMovement
	skipped   []StockLine
}

// Products returns the mutated product state, keyed by product id.
func (p *StockPlan) Products() map[string]domain.Product {
	out := make(map[string]domain.Product, len(p.products))
	for id, product := range p.products {
		out[id] = *product
	}
	return out
}

// Movements returns the movements Commit will append.
func (p *StockPlan) Movements() []domain.StockMovement {
	return append([]domain.StockMovement(nil), p.movements...)
}

// Skipped lists restore lines dropped because the product or variant no longer exists.
func (p *StockPlan) Skipped() []StockLine {
	return append([]StockLine(nil), p.skipped...)
}

func (l *StockLedger) newPlan(orderID string) *StockPlan {
	return &StockPlan{orderID: orderID, products: make(map[string]*domain.Product)}
}

func (l *StockLedger) load(ctx context.Context, plan *StockPlan, productID string) (*domain.Product, error) {
	if product, ok := plan.products[productID]; ok {
		return product, nil
	}
	product, err := l.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	plan.products[productID] = &product
	plan.order = append(plan.order, productID)
	return &product, nil
}

// PrepareReserve loads every product referenced by lines and validates that the whole cart
// can be served. Any failure rejects the entire reservation.
func (l *StockLedger) PrepareReserve(ctx context.Context, orderID string, lines []StockLine) (*StockPlan, error) {
	plan := l.newPlan(orderID)
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("stock ledger: quantity must be positive for %s/%s", line.ProductID, line.VariantID)
		}
		product, err := l.load(ctx, plan, line.ProductID)
		if err != nil {
			if isNotFound(err) {
				return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, line.ProductID, line.VariantID,
					fmt.Sprintf("Producto %s no encontrado", line.ProductID), err)
			}
			return nil, err
		}
		if product.Status != domain.ProductStatusActive {
			return nil, repositories.NewStockError(repositories.StockErrorProductInactive, line.ProductID, line.VariantID,
				fmt.Sprintf("Producto %q no está disponible", product.Name), nil)
		}
		variant, idx, ok := product.Variant(line.VariantID)
		if !ok {
			return nil, repositories.NewStockError(repositories.StockErrorVariantNotFound, line.ProductID, line.VariantID,
				fmt.Sprintf("Variante no encontrada en producto %q", product.Name), nil)
		}
		if variant.Stock < line.Quantity {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, line.ProductID, line.VariantID,
				fmt.Sprintf("Stock insuficiente para %q %s. Disponible: %d", product.Name, variantLabel(variant), variant.Stock), nil)
			stockErr.Requested = line.Quantity
			stockErr.Available = variant.Stock
			return nil, stockErr
		}
		l.apply(plan, product, idx, -line.Quantity, domain.StockReasonOrderCreated)
	}
	return plan, nil
}

// PrepareRestore loads the products of lines and credits their stock back. Lines whose
// product or variant has been deleted are skipped with a warning.
func (l *StockLedger) PrepareRestore(ctx context.Context, orderID string, lines []StockLine, reason domain.StockMovementReason) (*StockPlan, error) {
	plan := l.newPlan(orderID)
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		product, err := l.load(ctx, plan, line.ProductID)
		if err != nil {
			if isNotFound(err) {
				l.skip(ctx, plan, line, "product_missing")
				continue
			}
			return nil, err
		}
		_, idx, ok := product.Variant(line.VariantID)
		if !ok {
			l.skip(ctx, plan, line, "variant_missing")
			continue
		}
		l.apply(plan, product, idx, line.Quantity, reason)
	}
	return plan, nil
}

func (l *StockLedger) skip(ctx context.Context, plan *StockPlan, line StockLine, cause string) {
	plan.skipped = append(plan.skipped, line)
	l.logger(ctx, "stock.restore.skipped", map[string]any{
		"orderId":   plan.orderID,
		"productId": line.ProductID,
		"variantId": line.VariantID,
		"quantity":  line.Quantity,
		"cause":     cause,
	})
}

func (l *StockLedger) apply(plan *StockPlan, product *domain.Product, idx int, delta int, reason domain.StockMovementReason) {
	previous := product.Variants[idx].Stock
	product.Variants[idx].Stock = previous + delta
	product.RecalculateTotalStock()
	plan.movements = append(plan.movements, domain.StockMovement{
		ProductID:      product.ID,
		VariantID:      product.Variants[idx].ID,
		PreviousStock:  previous,
		NewStock:       previous + delta,
		Delta:          delta,
		Reason:         reason,
		RelatedOrderID: plan.orderID,
	})
}

// Commit writes the prepared product stock and appends the movements.
func (l *StockLedger) Commit(ctx context.Context, plan *StockPlan) error {
	if plan == nil {
		return nil
	}
	now := l.clock()
	for _, id := range plan.order {
		product := plan.products[id]
		product.UpdatedAt = now
		if err := l.products.SaveStock(ctx, *product); err != nil {
			return err
		}
	}
	for _, movement := range plan.movements {
		movement.CreatedAt = now
		if err := l.movements.Append(ctx, movement); err != nil {
			return err
		}
	}
	return nil
}

// Reserve decrements stock for every line or fails without writing anything.
func (l *StockLedger) Reserve(ctx context.Context, orderID string, lines []StockLine) error {
	plan, err := l.PrepareReserve(ctx, orderID, lines)
	if err != nil {
		return err
	}
	return l.Commit(ctx, plan)
}

// Restore credits stock back for every line that still exists.
func (l *StockLedger) Restore(ctx context.Context, orderID string, lines []StockLine, reason domain.StockMovementReason) error {
	plan, err := l.PrepareRestore(ctx, orderID, lines, reason)
	if err != nil {
		return err
	}
	return l.Commit(ctx, plan)
}

func variantLabel(v domain.ProductVariant) string {
	switch {
	case v.Size != "" && v.Color != "":
		return v.Size + "/" + v.Color
	case v.Size != "":
		return v.Size
	default:
		return v.Color
	}
}
