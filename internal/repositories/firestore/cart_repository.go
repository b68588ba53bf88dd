package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts keyed by domain.CartID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
	}, nil
}

func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(cartID))
	if err != nil {
		return domain.Cart{}, err
	}
	return toDomainCart(doc), nil
}

// Save upserts the cart under the id derived from its owner.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	id := cart.ID
	if id == "" {
		id = domain.CartID(cart.UserID, cart.GuestID)
	}
	if id == "" {
		return errors.New("cart repository: cart owner is required")
	}
	return r.base.Set(ctx, id, fromDomainCart(cart))
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(cartID))
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	Price     int64  `firestore:"price"`
	Size      string `firestore:"size"`
	Color     string `firestore:"color"`
	Quantity  int    `firestore:"quantity"`
}

type cartDocument struct {
	UserID     string             `firestore:"userId,omitempty"`
	GuestID    string             `firestore:"guestId,omitempty"`
	Items      []cartItemDocument `firestore:"items"`
	TotalPrice int64              `firestore:"totalPrice"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

func fromDomainCart(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
		})
	}
	doc := cartDocument{
		Items:      items,
		TotalPrice: cart.TotalPrice,
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
	if cart.UserID != "" {
		doc.UserID = cart.UserID
	} else {
		doc.GuestID = cart.GuestID
	}
	return doc
}

func toDomainCart(doc pfirestore.Document[cartDocument]) domain.Cart {
	cart := domain.Cart{
		ID:        doc.ID,
		UserID:    doc.Data.UserID,
		GuestID:   doc.Data.GuestID,
		Items:     make([]domain.CartItem, 0, len(doc.Data.Items)),
		CreatedAt: orCreateTime(doc.Data.CreatedAt, doc.CreateTime),
		UpdatedAt: orCreateTime(doc.Data.UpdatedAt, doc.UpdateTime),
	}
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
		})
	}
	cart.Recalculate()
	return cart
}
