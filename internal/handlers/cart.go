package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

// CartHandlers exposes guest and user cart endpoints. Signed-in callers always operate on
// their own cart; anonymous callers identify a guest cart with guestId.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(open chi.Router) {
		if h.authn != nil {
			open.Use(h.authn.OptionalAuth())
		}
		open.Get("/", h.getCart)
		open.Post("/", h.addItem)
		open.Put("/", h.updateItem)
		open.Delete("/", h.removeItem)
	})
	r.Group(func(merge chi.Router) {
		if h.authn != nil {
			merge.Use(h.authn.RequireAuth(domain.RoleUser))
		}
		merge.Post("/merge", h.mergeCart)
	})
}

type cartItemRequest struct {
	UserID    string `json:"userId"`
	GuestID   string `json:"guestId"`
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type mergeCartRequest struct {
	GuestID string `json:"guestId"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId,omitempty"`
	GuestID    string            `json:"guestId,omitempty"`
	Products   []cartItemPayload `json:"products"`
	ItemsCount int               `json:"itemsCount"`
	TotalPrice int64             `json:"totalPrice"`
	CreatedAt  string            `json:"createdAt,omitempty"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Price     int64  `json:"price"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	query := r.URL.Query()
	owner, ok := resolveCartOwner(ctx, w, query.Get("userId"), query.Get("guestId"))
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	owner, ok := resolveCartOwner(ctx, w, req.UserID, req.GuestID)
	if !ok {
		return
	}
	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(req.ProductID),
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusCreated, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	owner, ok := resolveCartOwner(ctx, w, req.UserID, req.GuestID)
	if !ok {
		return
	}
	cart, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(req.ProductID),
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

// removeItem accepts the line key either as a JSON body or as query parameters.
func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	var req cartItemRequest
	body, err := readLimitedBody(r, maxCartBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
		query := r.URL.Query()
		req = cartItemRequest{
			UserID:    query.Get("userId"),
			GuestID:   query.Get("guestId"),
			ProductID: query.Get("productId"),
			Size:      query.Get("size"),
			Color:     query.Get("color"),
		}
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
			return
		}
	}
	owner, ok := resolveCartOwner(ctx, w, req.UserID, req.GuestID)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(req.ProductID),
		Size:      req.Size,
		Color:     req.Color,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	caller := auth.PrincipalFromContext(ctx)
	if caller.Anonymous() {
		writeUnauthenticated(ctx, w)
		return
	}
	var req mergeCartRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.MergeGuestCart(ctx, caller.ID, strings.TrimSpace(req.GuestID))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

// resolveCartOwner picks the cart for this request. An explicit userId must match the
// authenticated caller; guests are addressed by guestId only.
func resolveCartOwner(ctx context.Context, w http.ResponseWriter, requestedUserID, guestID string) (services.CartOwner, bool) {
	requestedUserID = strings.TrimSpace(requestedUserID)
	caller := auth.PrincipalFromContext(ctx)
	if caller.Anonymous() {
		if requestedUserID != "" {
			writeUnauthenticated(ctx, w)
			return services.CartOwner{}, false
		}
		return services.CartOwner{GuestID: strings.TrimSpace(guestID)}, true
	}
	if requestedUserID != "" && requestedUserID != caller.ID {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot access another user's cart", http.StatusForbidden))
		return services.CartOwner{}, false
	}
	return services.CartOwner{UserID: caller.ID}, true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart or item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		writeServiceUnavailable(ctx, w, "cart")
	default:
		writeUnexpectedError(ctx, w, "cart_error", err)
	}
}

func writeCartResponse(w http.ResponseWriter, status int, cart services.Cart) {
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, status, buildCartPayload(cart))
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
		})
	}
	return cartPayload{
		ID:         cart.ID,
		UserID:     cart.UserID,
		GuestID:    cart.GuestID,
		Products:   items,
		ItemsCount: len(items),
		TotalPrice: cart.TotalPrice,
		CreatedAt:  formatTime(cart.CreatedAt),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}
