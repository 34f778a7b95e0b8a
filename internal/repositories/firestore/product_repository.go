package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/odera-store/api/internal/domain"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/repositories"
)

// ProductRepository reads product stock and writes variant stock back.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "", "product id is required", nil)
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// SaveStock writes only the stock fields so catalog edits made concurrently by the
// storefront admin are preserved.
func (r *ProductRepository) SaveStock(ctx context.Context, product domain.Product) error {
	product.RecalculateTotalStock()
	err := r.products.Update(ctx, product.ID, []firestore.Update{
		{Path: "variants", Value: variantDocuments(product.Variants)},
		{Path: "totalStock", Value: product.TotalStock},
		{Path: "updatedAt", Value: product.UpdatedAt.UTC()},
	})
	return err
}

// StockLogRepository appends stock movements to the stockLogs collection.
type StockLogRepository struct {
	logs *pfirestore.Collection[stockLogDocument]
}

var _ repositories.StockMovementRepository = (*StockLogRepository)(nil)

func NewStockLogRepository(provider *pfirestore.Provider) (*StockLogRepository, error) {
	if provider == nil {
		return nil, errors.New("stock log repository requires firestore provider")
	}
	return &StockLogRepository{
		logs: pfirestore.NewCollection[stockLogDocument](provider, stockLogsCollection),
	}, nil
}

func (r *StockLogRepository) Append(ctx context.Context, movement domain.StockMovement) error {
	err := r.logs.Create(ctx, movement.ID, stockLogDocument{
		ProductID:      movement.ProductID,
		VariantID:      movement.VariantID,
		PreviousStock:  movement.PreviousStock,
		NewStock:       movement.NewStock,
		Delta:          movement.Delta,
		Reason:         string(movement.Reason),
		RelatedOrderID: movement.RelatedOrderID,
		CreatedAt:      movement.CreatedAt.UTC(),
	})
	return err
}
