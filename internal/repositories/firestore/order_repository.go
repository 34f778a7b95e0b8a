package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/odera-store/api/internal/domain"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/platform/pagination"
	"github.com/odera-store/api/internal/repositories"
)

// OrderRepository persists orders in the orders collection.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document and fails when the id is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	err := r.orders.Create(ctx, order.ID, newOrderDocument(order))
	return err
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	err := r.orders.Set(ctx, order.ID, newOrderDocument(order))
	return err
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first. The page token carries the (createdAt, id) of the last item.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var page domain.CursorPage[domain.Order]

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	after, hasAfter, err := pagination.Decode(filter.Pagination.PageToken)
	if err != nil {
		return page, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Status[0]))
		default:
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if hasAfter {
			q = q.StartAfter(after.CreatedAt, after.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return page, err
	}

	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.After(last.CreatedAt, last.ID).Token()
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func (r *OrderRepository) ListExpiredReservations(ctx context.Context, now time.Time, after *repositories.ReservationCursor, limit int) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.OrderStatusScheduled)).
			Where("reservedUntil", "<=", now.UTC()).
			OrderBy("reservedUntil", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if after != nil {
			q = q.StartAfter(after.ReservedUntil.UTC(), after.OrderID)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}
