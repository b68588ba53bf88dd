package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderCollection = "orders"
	// array-contains-any accepts at most 30 comparison values.
	arrayContainsAnyLimit = 30
)

// OrderRepository persists orders. The distinct product ids of each order are denormalised into
// productIds so admin-scoped listings can be answered with array-contains-any.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, fromDomainOrder(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.base.Set(ctx, order.ID, fromDomainOrder(order))
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, orderID)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if filter.Scope.Enabled {
		orders, err := r.scoped(ctx, filter.Scope.ProductIDs)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		if userID != "" {
			kept := orders[:0]
			for _, order := range orders {
				if order.UserID == userID {
					kept = append(kept, order)
				}
			}
			orders = kept
		}
		return pagination.Slice(orders, filter.Pagination)
	}

	offset, size, err := pagination.Window(filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		return q.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return pagination.Trim(toDomainOrders(docs), offset, size), nil
}

func (r *OrderRepository) ListPaidSince(ctx context.Context, since time.Time, scope repositories.ProductScope) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isPaid", "==", true).Where("paidAt", ">=", since.UTC())
	})
	if err != nil {
		return nil, err
	}
	orders := toDomainOrders(docs)
	if !scope.Enabled {
		return orders, nil
	}
	owned := make(map[string]struct{}, len(scope.ProductIDs))
	for _, id := range scope.ProductIDs {
		owned[id] = struct{}{}
	}
	kept := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if order.ContainsAnyProduct(owned) {
			kept = append(kept, order)
		}
	}
	return kept, nil
}

// scoped returns the orders referencing any of productIDs, newest first.
func (r *OrderRepository) scoped(ctx context.Context, productIDs []string) ([]domain.Order, error) {
	seen := make(map[string]struct{})
	var orders []domain.Order
	for start := 0; start < len(productIDs); start += arrayContainsAnyLimit {
		chunk := productIDs[start:min(start+arrayContainsAnyLimit, len(productIDs))]
		values := make([]any, 0, len(chunk))
		for _, id := range chunk {
			values = append(values, id)
		}
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("productIds", "array-contains-any", values)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			orders = append(orders, toDomainOrder(doc))
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, nil
}

type orderDocument struct {
	UserID          string             `firestore:"userId"`
	CheckoutID      string             `firestore:"checkoutId,omitempty"`
	Items           []lineItemDocument `firestore:"items"`
	ProductIDs      []string           `firestore:"productIds"`
	ShippingAddress addressDocument    `firestore:"shippingAddress"`
	PaymentMethod   string             `firestore:"paymentMethod"`
	TotalPrice      int64              `firestore:"totalPrice"`
	IsPaid          bool               `firestore:"isPaid"`
	PaidAt          *time.Time         `firestore:"paidAt"`
	IsDelivered     bool               `firestore:"isDelivered"`
	DeliveredAt     *time.Time         `firestore:"deliveredAt"`
	Status          string             `firestore:"status"`
	PaymentResult   map[string]any     `firestore:"paymentResult,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

func fromDomainOrder(o domain.Order) orderDocument {
	return orderDocument{
		UserID:          o.UserID,
		CheckoutID:      o.CheckoutID,
		Items:           fromDomainLines(o.Items),
		ProductIDs:      o.ProductIDs(),
		ShippingAddress: fromDomainAddress(o.ShippingAddress),
		PaymentMethod:   o.PaymentMethod,
		TotalPrice:      o.TotalPrice,
		IsPaid:          o.IsPaid,
		PaidAt:          utcPtr(o.PaidAt),
		IsDelivered:     o.IsDelivered,
		DeliveredAt:     utcPtr(o.DeliveredAt),
		Status:          string(o.Status),
		PaymentResult:   o.PaymentResult.Clone(),
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func toDomainOrder(doc pfirestore.Document[orderDocument]) domain.Order {
	d := doc.Data
	status, ok := domain.ParseOrderStatus(d.Status)
	if !ok {
		status = domain.OrderStatusProcessing
	}
	return domain.Order{
		ID:              doc.ID,
		UserID:          d.UserID,
		CheckoutID:      d.CheckoutID,
		Items:           toDomainLines(d.Items),
		ShippingAddress: toDomainAddress(d.ShippingAddress),
		PaymentMethod:   d.PaymentMethod,
		TotalPrice:      d.TotalPrice,
		IsPaid:          d.IsPaid,
		PaidAt:          utcPtr(d.PaidAt),
		IsDelivered:     d.IsDelivered,
		DeliveredAt:     utcPtr(d.DeliveredAt),
		Status:          status,
		PaymentResult:   domain.PaymentDetails(d.PaymentResult),
		CreatedAt:       orCreateTime(d.CreatedAt, doc.CreateTime),
		UpdatedAt:       orCreateTime(d.UpdatedAt, doc.UpdateTime),
	}
}

func toDomainOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc))
	}
	return orders
}
