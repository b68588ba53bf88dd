package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxOrderRequestBody = 64 * 1024

// OrderHandlers exposes order reads, fulfilment transitions and revenue reports.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency guards direct order creation with mw. It runs after authentication.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires /orders. Services apply per-order scoping on top of the role gates here.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.RequireAuth(domain.RoleUser))
		}
		user.Get("/my-orders", h.listMyOrders)
		withOptional(user, h.idempotency).Post("/", h.createOrder)
		user.Get("/", h.listOrders)
		user.Get("/{orderId}", h.getOrder)
		user.Put("/{orderId}/pay", h.markPaid)
	})
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(domain.RoleAdmin))
		}
		admin.Get("/admin-revenue", h.adminRevenue)
		admin.Put("/{orderId}/deliver", h.markDelivered)
		admin.Put("/{orderId}/status", h.updateStatus)
		admin.Delete("/{orderId}", h.deleteOrder)
	})
	r.Group(func(super chi.Router) {
		if h.authn != nil {
			super.Use(h.authn.RequireAuth(domain.RoleSuperAdmin))
		}
		super.Get("/super-admin-revenue", h.superAdminRevenue)
	})
}

// AdminRoutes wires /admin/orders.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Put("/{orderId}", h.updateStatus)
	r.Delete("/{orderId}", h.deleteOrder)
}

type createOrderRequest struct {
	OrderItems      []lineItemRequest      `json:"orderItems"`
	ShippingAddress shippingAddressRequest `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TotalPrice      int64                  `json:"totalPrice"`
}

type markOrderPaidRequest struct {
	PaymentResult map[string]any `json:"paymentResult"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId"`
	CheckoutID      string                 `json:"checkoutId,omitempty"`
	OrderItems      []lineItemPayload      `json:"orderItems"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TotalPrice      int64                  `json:"totalPrice"`
	IsPaid          bool                   `json:"isPaid"`
	PaidAt          string                 `json:"paidAt,omitempty"`
	IsDelivered     bool                   `json:"isDelivered"`
	DeliveredAt     string                 `json:"deliveredAt,omitempty"`
	Status          string                 `json:"status"`
	PaymentResult   map[string]any         `json:"paymentResult,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type revenuePayload struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Label string `json:"label"`
	Total int64  `json:"total"`
}

type revenueResponse struct {
	Months []revenuePayload `json:"months"`
	Total  int64            `json:"total"`
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		CheckoutID:      order.CheckoutID,
		OrderItems:      buildLineItems(order.Items),
		ShippingAddress: buildShippingAddress(order.ShippingAddress),
		PaymentMethod:   order.PaymentMethod,
		TotalPrice:      order.TotalPrice,
		IsPaid:          order.IsPaid,
		PaidAt:          formatTimePointer(order.PaidAt),
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     formatTimePointer(order.DeliveredAt),
		Status:          string(order.Status),
		PaymentResult:   cloneMap(order.PaymentResult),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func buildRevenueResponse(months []services.MonthlyRevenue) revenueResponse {
	resp := revenueResponse{Months: make([]revenuePayload, 0, len(months))}
	for _, m := range months {
		resp.Months = append(resp.Months, revenuePayload{
			Year:  m.Year,
			Month: int(m.Month),
			Label: m.Month.String()[:3],
			Total: m.Total,
		})
		resp.Total += m.Total
	}
	return resp
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, &req) {
		return
	}
	order, err := h.orders.CreateOrder(ctx, auth.PrincipalFromContext(ctx), services.CreateOrderCommand{
		Items:           toLineItems(req.OrderItems),
		ShippingAddress: toShippingAddress(req.ShippingAddress),
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      req.TotalPrice,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, services.OrderService.ListMyOrders)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, services.OrderService.ListOrders)
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request, lister func(services.OrderService, context.Context, services.Principal, services.Pagination) (domain.CursorPage[services.Order], error)) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := lister(h.orders, ctx, auth.PrincipalFromContext(ctx), pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page, buildOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req markOrderPaidRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, &req) {
		return
	}
	order, err := h.orders.MarkPaid(ctx, auth.PrincipalFromContext(ctx), services.MarkOrderPaidCommand{
		OrderID:       chi.URLParam(r, "orderId"),
		PaymentResult: req.PaymentResult,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.MarkDelivered(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "orderId"), req.Status)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	if err := h.orders.DeleteOrder(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "orderId")); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "order removed"})
}

func (h *OrderHandlers) adminRevenue(w http.ResponseWriter, r *http.Request) {
	h.revenue(w, r, services.OrderService.AdminRevenue)
}

func (h *OrderHandlers) superAdminRevenue(w http.ResponseWriter, r *http.Request) {
	h.revenue(w, r, services.OrderService.SuperAdminRevenue)
}

func (h *OrderHandlers) revenue(w http.ResponseWriter, r *http.Request, report func(services.OrderService, context.Context, services.Principal) ([]services.MonthlyRevenue, error)) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	months, err := report(h.orders, ctx, auth.PrincipalFromContext(ctx))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRevenueResponse(months))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		writeServiceUnavailable(ctx, w, "order")
	default:
		writeUnexpectedError(ctx, w, "order_error", err)
	}
}
