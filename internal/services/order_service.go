package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid data.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order service: order not found")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

var orderRepoErrors = repoErrors{notFound: ErrOrderNotFound, conflict: ErrOrderUnavailable, unavailable: ErrOrderUnavailable}

type ownedProductLister interface {
	OwnedIDs(ctx context.Context, ownerID string) ([]string, error)
}

// OrderServiceDeps wires the collaborators of the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    ownedProductLister
	Events      OrderEventPublisher
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type orderService struct {
	orders   repositories.OrderRepository
	products ownedProductLister
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	newID    func() string
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product lister is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return domain.NewID(domain.OrderIDPrefix) }
	}
	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		events:   deps.Events,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newID:    idGen,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, caller Principal, cmd CreateOrderCommand) (Order, error) {
	if caller.Anonymous() {
		return Order{}, domain.ErrForbidden
	}
	items, err := validateLineItems(ErrOrderInvalidInput, cmd.Items)
	if err != nil {
		return Order{}, err
	}
	address, err := validateShippingAddress(ErrOrderInvalidInput, cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		return Order{}, invalidField(ErrOrderInvalidInput, "paymentMethod", "paymentMethod is required")
	}
	if cmd.TotalPrice < 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "totalPrice", "totalPrice must be zero or greater")
	}

	now := s.now()
	order := Order{
		ID:              s.newID(),
		UserID:          caller.ID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   method,
		TotalPrice:      cmd.TotalPrice,
		Status:          domain.OrderStatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, orderRepoErrors.translate(err)
	}
	s.logger(ctx, "order.created", map[string]any{"orderID": order.ID, "userID": caller.ID})
	publishOrderEvent(ctx, s.events, s.logger, NewOrderEvent(OrderEventCreated, order, now))
	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[Order], error) {
	if caller.Anonymous() {
		return domain.CursorPage[Order]{}, domain.ErrForbidden
	}
	return s.list(ctx, repositories.OrderListFilter{UserID: caller.ID, Pagination: pager})
}

// ListOrders returns every order to superAdmin, orders containing an owned product to admins,
// and the caller's own orders otherwise.
func (s *orderService) ListOrders(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[Order], error) {
	switch {
	case caller.Anonymous():
		return domain.CursorPage[Order]{}, domain.ErrForbidden
	case domain.IsSuperAdmin(caller.Role):
		return s.list(ctx, repositories.OrderListFilter{Pagination: pager})
	case domain.IsAdmin(caller.Role):
		owned, err := s.ownedIDs(ctx, caller)
		if err != nil {
			return domain.CursorPage[Order]{}, err
		}
		if len(owned) == 0 {
			return domain.CursorPage[Order]{Items: []Order{}}, nil
		}
		return s.list(ctx, repositories.OrderListFilter{
			Scope:      repositories.ProductScope{Enabled: true, ProductIDs: owned},
			Pagination: pager,
		})
	default:
		return s.ListMyOrders(ctx, caller, pager)
	}
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, invalidField(ErrOrderInvalidInput, "pageToken", "page token is invalid")
		}
		return domain.CursorPage[Order]{}, orderRepoErrors.translate(err)
	}
	return page, nil
}

// GetOrder returns the order to its owner, to superAdmin and to admins owning one of its products.
func (s *orderService) GetOrder(ctx context.Context, caller Principal, orderID string) (Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if caller.Owns(order.UserID) {
		return order, nil
	}
	if err := s.authorizeScoped(ctx, caller, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) MarkPaid(ctx context.Context, caller Principal, cmd MarkOrderPaidCommand) (Order, error) {
	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !caller.Owns(order.UserID) {
		if err := s.authorizeScoped(ctx, caller, order); err != nil {
			return Order{}, err
		}
	}
	now := s.now()
	order.IsPaid = true
	order.PaidAt = &now
	order.PaymentResult = domain.PaymentDetails(cmd.PaymentResult).Clone()
	return s.save(ctx, caller, order, OrderEventPaid)
}

func (s *orderService) MarkDelivered(ctx context.Context, caller Principal, orderID string) (Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorizeScoped(ctx, caller, order); err != nil {
		return Order{}, err
	}
	markDelivered(&order, s.now())
	return s.save(ctx, caller, order, OrderEventDelivered)
}

func (s *orderService) UpdateStatus(ctx context.Context, caller Principal, orderID, status string) (Order, error) {
	next, ok := domain.ParseOrderStatus(status)
	if !ok {
		return Order{}, invalidField(ErrOrderInvalidInput, "status", "status must be one of Processing, Shipped, Delivered, Cancelled")
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorizeScoped(ctx, caller, order); err != nil {
		return Order{}, err
	}
	order.Status = next
	if next == domain.OrderStatusDelivered {
		markDelivered(&order, s.now())
	}
	return s.save(ctx, caller, order, OrderEventStatusChanged)
}

func (s *orderService) DeleteOrder(ctx context.Context, caller Principal, orderID string) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.authorizeScoped(ctx, caller, order); err != nil {
		return err
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return orderRepoErrors.translate(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{"orderID": order.ID, "actorID": caller.ID})
	return nil
}

// AdminRevenue sums price times quantity of the lines referencing the caller's products,
// bucketed by the month the order was paid.
func (s *orderService) AdminRevenue(ctx context.Context, caller Principal) ([]MonthlyRevenue, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin}); err != nil {
		return nil, err
	}
	series := domain.NewRevenueSeries(s.now(), domain.RevenueMonths)
	owned, err := s.ownedIDs(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return series, nil
	}
	orders, err := s.orders.ListPaidSince(ctx, series.Start(), repositories.ProductScope{Enabled: true, ProductIDs: owned})
	if err != nil {
		return nil, orderRepoErrors.translate(err)
	}
	ownedSet := toSet(owned)
	for _, order := range orders {
		if order.PaidAt == nil {
			continue
		}
		for _, item := range order.Items {
			if _, ok := ownedSet[item.ProductID]; ok {
				series.Add(*order.PaidAt, item.Subtotal())
			}
		}
	}
	return series, nil
}

// SuperAdminRevenue sums the totals of every paid order by month paid.
func (s *orderService) SuperAdminRevenue(ctx context.Context, caller Principal) ([]MonthlyRevenue, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return nil, err
	}
	series := domain.NewRevenueSeries(s.now(), domain.RevenueMonths)
	orders, err := s.orders.ListPaidSince(ctx, series.Start(), repositories.ProductScope{})
	if err != nil {
		return nil, orderRepoErrors.translate(err)
	}
	for _, order := range orders {
		if order.PaidAt != nil {
			series.Add(*order.PaidAt, order.TotalPrice)
		}
	}
	return series, nil
}

// authorizeScoped admits superAdmin and admins owning a product referenced by order.
func (s *orderService) authorizeScoped(ctx context.Context, caller Principal, order Order) error {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin}); err != nil {
		return err
	}
	if domain.IsSuperAdmin(caller.Role) {
		return nil
	}
	owned, err := s.ownedIDs(ctx, caller)
	if err != nil {
		return err
	}
	if !order.ContainsAnyProduct(toSet(owned)) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *orderService) ownedIDs(ctx context.Context, caller Principal) ([]string, error) {
	ids, err := s.products.OwnedIDs(ctx, caller.ID)
	if err != nil {
		return nil, orderRepoErrors.translate(err)
	}
	return ids, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if !domain.ValidID(domain.OrderIDPrefix, orderID) {
		return Order{}, invalidField(ErrOrderInvalidInput, "id", "invalid order id")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, orderRepoErrors.translate(err)
	}
	return order, nil
}

func (s *orderService) save(ctx context.Context, caller Principal, order Order, eventType string) (Order, error) {
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, orderRepoErrors.translate(err)
	}
	s.logger(ctx, eventType, map[string]any{"orderID": order.ID, "actorID": caller.ID, "status": string(order.Status)})
	publishOrderEvent(ctx, s.events, s.logger, NewOrderEvent(eventType, order, order.UpdatedAt))
	return order, nil
}

func markDelivered(order *Order, now time.Time) {
	order.IsDelivered = true
	order.DeliveredAt = &now
	order.Status = domain.OrderStatusDelivered
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
