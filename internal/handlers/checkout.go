package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes the checkout session lifecycle for authenticated users.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards session creation with mw. It runs after authentication.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleUser))
	}
	withOptional(r, h.idempotency).Post("/", h.createSession)
	r.Get("/{checkoutId}", h.getSession)
	r.Put("/{checkoutId}/pay", h.markPaid)
	r.Post("/{checkoutId}/finalize", h.finalize)
	r.Post("/{checkoutId}/payment-session", h.createPaymentSession)
}

type lineItemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type contactRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type shippingAddressRequest struct {
	Address    string         `json:"address"`
	City       string         `json:"city"`
	PostalCode string         `json:"postalCode"`
	Country    string         `json:"country"`
	Contact    contactRequest `json:"contact"`
}

type createCheckoutRequest struct {
	CheckoutItems   []lineItemRequest      `json:"checkoutItems"`
	ShippingAddress shippingAddressRequest `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TotalPrice      int64                  `json:"totalPrice"`
}

type markCheckoutPaidRequest struct {
	PaymentStatus  string         `json:"paymentStatus"`
	PaymentDetails map[string]any `json:"paymentDetails"`
}

type lineItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type contactPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type shippingAddressPayload struct {
	Address    string         `json:"address"`
	City       string         `json:"city"`
	PostalCode string         `json:"postalCode"`
	Country    string         `json:"country"`
	Contact    contactPayload `json:"contact"`
}

type checkoutPayload struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId"`
	CheckoutItems   []lineItemPayload      `json:"checkoutItems"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TotalPrice      int64                  `json:"totalPrice"`
	IsPaid          bool                   `json:"isPaid"`
	PaidAt          string                 `json:"paidAt,omitempty"`
	PaymentStatus   string                 `json:"paymentStatus,omitempty"`
	PaymentDetails  map[string]any         `json:"paymentDetails,omitempty"`
	IsFinalized     bool                   `json:"isFinalized"`
	FinalizedAt     string                 `json:"finalizedAt,omitempty"`
	OrderID         string                 `json:"orderId,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type paymentSessionResponse struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	var req createCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	session, err := h.checkout.CreateSession(ctx, auth.PrincipalFromContext(ctx), services.CreateCheckoutCommand{
		Items:           toLineItems(req.CheckoutItems),
		ShippingAddress: toShippingAddress(req.ShippingAddress),
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      req.TotalPrice,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCheckoutPayload(session))
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	session, err := h.checkout.GetSession(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "checkoutId"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutPayload(session))
}

func (h *CheckoutHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	var req markCheckoutPaidRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	session, err := h.checkout.MarkPaid(ctx, auth.PrincipalFromContext(ctx), services.MarkCheckoutPaidCommand{
		CheckoutID:     chi.URLParam(r, "checkoutId"),
		PaymentStatus:  req.PaymentStatus,
		PaymentDetails: req.PaymentDetails,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutPayload(session))
}

func (h *CheckoutHandlers) finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	order, err := h.checkout.Finalize(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "checkoutId"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *CheckoutHandlers) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	session, err := h.checkout.CreatePaymentSession(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "checkoutId"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	resp := paymentSessionResponse{
		SessionID: session.ID,
		Provider:  session.Provider,
		URL:       session.RedirectURL,
	}
	if session.ExpiresAt > 0 {
		resp.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutNotPaid):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_paid", services.ErrCheckoutNotPaid.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAlreadyFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_finalized", services.ErrCheckoutAlreadyFinalized.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_already_paid", services.ErrCheckoutAlreadyPaid.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		writeServiceUnavailable(ctx, w, "checkout")
	default:
		writeUnexpectedError(ctx, w, "checkout_error", err)
	}
}

func toLineItems(items []lineItemRequest) []services.LineItem {
	if items == nil {
		return nil
	}
	out := make([]services.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return out
}

func toShippingAddress(addr shippingAddressRequest) services.ShippingAddress {
	return services.ShippingAddress{
		Address:    addr.Address,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Contact: domain.Contact{
			FirstName: addr.Contact.FirstName,
			LastName:  addr.Contact.LastName,
			Phone:     addr.Contact.Phone,
		},
	}
}

func buildLineItems(items []services.LineItem) []lineItemPayload {
	out := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return out
}

func buildShippingAddress(addr services.ShippingAddress) shippingAddressPayload {
	return shippingAddressPayload{
		Address:    addr.Address,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Contact: contactPayload{
			FirstName: addr.Contact.FirstName,
			LastName:  addr.Contact.LastName,
			Phone:     addr.Contact.Phone,
		},
	}
}

func buildCheckoutPayload(session services.CheckoutSession) checkoutPayload {
	return checkoutPayload{
		ID:              session.ID,
		UserID:          session.UserID,
		CheckoutItems:   buildLineItems(session.Items),
		ShippingAddress: buildShippingAddress(session.ShippingAddress),
		PaymentMethod:   session.PaymentMethod,
		TotalPrice:      session.TotalPrice,
		IsPaid:          session.IsPaid,
		PaidAt:          formatTimePointer(session.PaidAt),
		PaymentStatus:   session.PaymentStatus,
		PaymentDetails:  cloneMap(session.PaymentDetails),
		IsFinalized:     session.IsFinalized,
		FinalizedAt:     formatTimePointer(session.FinalizedAt),
		OrderID:         session.OrderID,
		CreatedAt:       formatTime(session.CreatedAt),
		UpdatedAt:       formatTime(session.UpdatedAt),
	}
}
