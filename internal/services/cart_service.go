package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const maxCartLineQuantity = domain.MaxLineQuantity

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the cart, the line or the referenced product does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartUnavailable indicates the cart store could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

var cartRepoErrors = repoErrors{notFound: ErrCartNotFound, conflict: ErrCartUnavailable, unavailable: ErrCartUnavailable}

type productFinder interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products productFinder
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	// GuestIDGenerator mints guest identifiers for anonymous first adds.
	GuestIDGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	products productFinder
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	newGuest func() string
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product finder is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	guestGen := deps.GuestIDGenerator
	if guestGen == nil {
		guestGen = func() string { return "guest_" + uuid.NewString() }
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newGuest: guestGen,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, owner CartOwner) (Cart, error) {
	id, err := resolveCartID(owner)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.carts.Get(ctx, id)
	if err != nil {
		return Cart{}, cartRepoErrors.translate(err)
	}
	return cart, nil
}

// AddItem snapshots the product into the cart. Lines sharing (product, size, color) are summed.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	owner := normaliseOwner(cmd.Owner)
	if owner.UserID == "" && owner.GuestID == "" {
		owner.GuestID = s.newGuest()
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartLineQuantity {
		return Cart{}, invalidField(ErrCartInvalidInput, "quantity", "quantity must be between 1 and 999")
	}
	product, err := s.lookupProduct(ctx, cmd.ProductID)
	if err != nil {
		return Cart{}, err
	}
	size, err := pickVariant(product.Sizes, cmd.Size, "size")
	if err != nil {
		return Cart{}, err
	}
	color, err := pickVariant(product.Colors, cmd.Color, "color")
	if err != nil {
		return Cart{}, err
	}

	id := domain.CartID(owner.UserID, owner.GuestID)
	cart, err := s.carts.Get(ctx, id)
	switch {
	case err == nil:
	case isRepoNotFound(err):
		cart = s.emptyCart(owner)
	default:
		return Cart{}, cartRepoErrors.translate(err)
	}
	if idx := cart.FindLine(domain.LineKey{ProductID: product.ID, Size: size, Color: color}); idx >= 0 &&
		cart.Items[idx].Quantity+cmd.Quantity > maxCartLineQuantity {
		return Cart{}, invalidField(ErrCartInvalidInput, "quantity", "line quantity must not exceed 999")
	}

	cart.AddLine(domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		Image:     product.PrimaryImage(),
		Price:     product.Price,
		Size:      size,
		Color:     color,
		Quantity:  cmd.Quantity,
	})
	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.logger(ctx, "cart.item_added", map[string]any{"cartID": cart.ID, "productID": product.ID, "quantity": cmd.Quantity})
	return cart, nil
}

// UpdateItem sets an absolute quantity. Non-positive quantities remove the line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, invalidField(ErrCartInvalidInput, "quantity", "quantity must not exceed 999")
	}
	return s.mutate(ctx, cmd.Owner, func(cart *Cart) bool {
		return cart.SetQuantity(lineKey(cmd.ProductID, cmd.Size, cmd.Color), cmd.Quantity)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return s.mutate(ctx, cmd.Owner, func(cart *Cart) bool {
		return cart.RemoveLine(lineKey(cmd.ProductID, cmd.Size, cmd.Color))
	})
}

// MergeGuestCart folds the guest cart into the user's cart, or re-owns it when the user has none.
// The guest cart is deleted whenever it was found, even when it held no lines.
func (s *cartService) MergeGuestCart(ctx context.Context, userID, guestID string) (Cart, error) {
	userID, guestID = strings.TrimSpace(userID), strings.TrimSpace(guestID)
	if userID == "" {
		return Cart{}, invalidField(ErrCartInvalidInput, "userId", "user id is required")
	}
	if guestID == "" {
		return Cart{}, invalidField(ErrCartInvalidInput, "guestId", "guest id is required")
	}

	guestCartID := domain.CartID("", guestID)
	guest, guestFound, err := s.find(ctx, guestCartID)
	if err != nil {
		return Cart{}, err
	}
	user, userFound, err := s.find(ctx, domain.CartID(userID, ""))
	if err != nil {
		return Cart{}, err
	}
	if !guestFound {
		if userFound {
			return user, nil
		}
		return Cart{}, ErrCartNotFound
	}

	if !userFound {
		user = s.emptyCart(CartOwner{UserID: userID})
		user.CreatedAt = guest.CreatedAt
	}
	user.Merge(guest)
	if !user.IsEmpty() {
		if err := s.save(ctx, &user); err != nil {
			return Cart{}, err
		}
	}
	if err := s.carts.Delete(ctx, guestCartID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "cart.guest_delete_failed", map[string]any{"cartID": guestCartID, "error": err.Error()})
	}
	s.logger(ctx, "cart.merged", map[string]any{"cartID": user.ID, "guestCartID": guestCartID, "lines": len(guest.Items)})
	if user.IsEmpty() {
		return Cart{}, ErrCartNotFound
	}
	return user, nil
}

func (s *cartService) mutate(ctx context.Context, owner CartOwner, apply func(*Cart) bool) (Cart, error) {
	id, err := resolveCartID(owner)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.carts.Get(ctx, id)
	if err != nil {
		return Cart{}, cartRepoErrors.translate(err)
	}
	if !apply(&cart) {
		return Cart{}, ErrCartNotFound
	}
	if cart.IsEmpty() {
		if err := s.carts.Delete(ctx, cart.ID); err != nil && !isRepoNotFound(err) {
			return Cart{}, cartRepoErrors.translate(err)
		}
		s.logger(ctx, "cart.deleted", map[string]any{"cartID": cart.ID})
		return cart, nil
	}
	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) find(ctx context.Context, id string) (Cart, bool, error) {
	cart, err := s.carts.Get(ctx, id)
	switch {
	case err == nil:
		return cart, true, nil
	case isRepoNotFound(err):
		return Cart{}, false, nil
	default:
		return Cart{}, false, cartRepoErrors.translate(err)
	}
}

func (s *cartService) save(ctx context.Context, cart *Cart) error {
	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, *cart); err != nil {
		return cartRepoErrors.translate(err)
	}
	return nil
}

func (s *cartService) emptyCart(owner CartOwner) Cart {
	now := s.now()
	cart := Cart{ID: domain.CartID(owner.UserID, owner.GuestID), CreatedAt: now, UpdatedAt: now}
	if owner.UserID != "" {
		cart.UserID = owner.UserID
	} else {
		cart.GuestID = owner.GuestID
	}
	return cart
}

func (s *cartService) lookupProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if !domain.ValidID(domain.ProductIDPrefix, productID) {
		return Product{}, invalidField(ErrCartInvalidInput, "productId", "invalid product id")
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, cartRepoErrors.translate(err)
	}
	if !product.IsPublished {
		return Product{}, invalidField(ErrCartInvalidInput, "productId", "product is not available")
	}
	return product, nil
}

func resolveCartID(owner CartOwner) (string, error) {
	owner = normaliseOwner(owner)
	id := domain.CartID(owner.UserID, owner.GuestID)
	if id == "" {
		return "", invalidField(ErrCartInvalidInput, "userId", "userId or guestId is required")
	}
	return id, nil
}

func normaliseOwner(owner CartOwner) CartOwner {
	owner.UserID = strings.TrimSpace(owner.UserID)
	owner.GuestID = strings.TrimSpace(owner.GuestID)
	if owner.UserID != "" {
		owner.GuestID = ""
	}
	return owner
}

func lineKey(productID, size, color string) domain.LineKey {
	return domain.LineKey{
		ProductID: strings.TrimSpace(productID),
		Size:      strings.TrimSpace(size),
		Color:     strings.TrimSpace(color),
	}
}

// pickVariant returns the catalog spelling of value. A value is always required; products
// without options take it free-form.
func pickVariant(options []string, value, field string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidField(ErrCartInvalidInput, field, field+" is required")
	}
	if len(options) == 0 {
		return value, nil
	}
	for _, option := range options {
		if strings.EqualFold(strings.TrimSpace(option), value) {
			return option, nil
		}
	}
	return "", invalidField(ErrCartInvalidInput, field, field+" is not offered for this product")
}
