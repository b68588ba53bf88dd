package services

import (
	"context"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/storage"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Principal       = domain.Principal
	User            = domain.User
	Product         = domain.Product
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	LineItem        = domain.LineItem
	ShippingAddress = domain.ShippingAddress
	CheckoutSession = domain.CheckoutSession
	Order           = domain.Order
	Taxon           = domain.Taxon
	MonthlyRevenue  = domain.MonthlyRevenue
	HealthReport    = domain.HealthReport
)

// UserService manages registration, sign-in and account administration.
type UserService interface {
	Register(ctx context.Context, cmd RegisterCommand) (AuthResult, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthResult, error)
	GetProfile(ctx context.Context, caller Principal) (User, error)
	UpdateProfile(ctx context.Context, caller Principal, cmd UpdateProfileCommand) (User, error)
	// FindUser loads the current account state, used to refresh identities on each request.
	FindUser(ctx context.Context, userID string) (User, error)

	ListUsers(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[User], error)
	CreateUser(ctx context.Context, caller Principal, cmd CreateUserCommand) (User, error)
	UpdateUser(ctx context.Context, caller Principal, cmd UpdateUserCommand) (User, error)
	DeleteUser(ctx context.Context, caller Principal, userID string) error
	// AssignRole is reachable only from the OIDC-guarded internal route.
	AssignRole(ctx context.Context, userID string, role domain.Role) (User, error)
}

// CatalogService serves product browsing and admin product management.
type CatalogService interface {
	ListProducts(ctx context.Context, caller Principal, cmd ProductListCommand) (domain.CursorPage[Product], error)
	ListAdminProducts(ctx context.Context, caller Principal, cmd ProductListCommand) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, caller Principal, productID string) (Product, error)
	CreateProduct(ctx context.Context, caller Principal, cmd ProductInput) (Product, error)
	UpdateProduct(ctx context.Context, caller Principal, productID string, cmd ProductPatch) (Product, error)
	DeleteProduct(ctx context.Context, caller Principal, productID string) error

	SimilarProducts(ctx context.Context, productID string, limit int) ([]Product, error)
	RecommendedProducts(ctx context.Context, cmd FeaturedQuery) ([]Product, error)
	BestSellers(ctx context.Context, cmd FeaturedQuery) ([]Product, error)
	NewArrivals(ctx context.Context, cmd FeaturedQuery) ([]Product, error)
}

// CartService manages guest and user carts.
type CartService interface {
	GetCart(ctx context.Context, owner CartOwner) (Cart, error)
	// AddItem generates a guest id when owner is empty; the returned cart carries it.
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	MergeGuestCart(ctx context.Context, userID, guestID string) (Cart, error)
}

// CheckoutService drives the Created -> Paid -> Finalized session lifecycle.
type CheckoutService interface {
	CreateSession(ctx context.Context, caller Principal, cmd CreateCheckoutCommand) (CheckoutSession, error)
	GetSession(ctx context.Context, caller Principal, checkoutID string) (CheckoutSession, error)
	MarkPaid(ctx context.Context, caller Principal, cmd MarkCheckoutPaidCommand) (CheckoutSession, error)
	Finalize(ctx context.Context, caller Principal, checkoutID string) (Order, error)
	CreatePaymentSession(ctx context.Context, caller Principal, checkoutID string) (payments.CheckoutSession, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error
}

// OrderService encapsulates order reads, role-scoped administration and revenue reporting.
type OrderService interface {
	CreateOrder(ctx context.Context, caller Principal, cmd CreateOrderCommand) (Order, error)
	ListMyOrders(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, caller Principal, orderID string) (Order, error)
	MarkPaid(ctx context.Context, caller Principal, cmd MarkOrderPaidCommand) (Order, error)
	MarkDelivered(ctx context.Context, caller Principal, orderID string) (Order, error)
	UpdateStatus(ctx context.Context, caller Principal, orderID, status string) (Order, error)
	DeleteOrder(ctx context.Context, caller Principal, orderID string) error
	AdminRevenue(ctx context.Context, caller Principal) ([]MonthlyRevenue, error)
	SuperAdminRevenue(ctx context.Context, caller Principal) ([]MonthlyRevenue, error)
}

// TaxonomyService manages one keyed list: categories or brands.
type TaxonomyService interface {
	List(ctx context.Context) ([]Taxon, error)
	Get(ctx context.Context, taxonID string) (Taxon, error)
	Create(ctx context.Context, caller Principal, name string) (Taxon, error)
	Update(ctx context.Context, caller Principal, taxonID, name string) (Taxon, error)
	Delete(ctx context.Context, caller Principal, taxonID string) error
}

// UploadService stores product images.
type UploadService interface {
	UploadImages(ctx context.Context, caller Principal, files []storage.File) ([]string, error)
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(user domain.User) (auth.IssuedToken, error)
}

// Command and DTO definitions ------------------------------------------------

// AuthResult is returned by register and login.
type AuthResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

type RegisterCommand struct {
	Name     string
	Email    string
	Password string
}

type LoginCommand struct {
	Email    string
	Password string
}

// UpdateProfileCommand carries optional self-service changes. Nil fields are left untouched.
type UpdateProfileCommand struct {
	Name     *string
	Email    *string
	Password *string
}

type CreateUserCommand struct {
	Name     string
	Email    string
	Password string
	Role     string
}

type UpdateUserCommand struct {
	UserID string
	Name   *string
	Email  *string
	Role   *string
}

// ProductListCommand filters and pages a product listing.
type ProductListCommand struct {
	Query      domain.ProductQuery
	Pagination Pagination
}

// ProductInput is the full payload of a new product.
type ProductInput struct {
	Name         string
	Description  string
	Price        int64
	Category     string
	Brand        string
	Gender       string
	Material     string
	Sizes        []string
	Colors       []string
	Images       []string
	CountInStock int
	IsPublished  *bool
}

// ProductPatch updates a product. Nil fields are left untouched.
type ProductPatch struct {
	Name         *string
	Description  *string
	Price        *int64
	Category     *string
	Brand        *string
	Gender       *string
	Material     *string
	Sizes        *[]string
	Colors       *[]string
	Images       *[]string
	CountInStock *int
	IsPublished  *bool
}

// FeaturedQuery drives the fallback-tiered product shelves.
type FeaturedQuery struct {
	Category string
	Gender   string
	Limit    int
}

// CartOwner identifies a cart. UserID takes precedence over GuestID.
type CartOwner struct {
	UserID  string
	GuestID string
}

type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

type UpdateCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

type RemoveCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Color     string
}

// CreateCheckoutCommand snapshots the purchase attempt.
type CreateCheckoutCommand struct {
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      int64
}

type MarkCheckoutPaidCommand struct {
	CheckoutID     string
	PaymentStatus  string
	PaymentDetails map[string]any
}

type CreateOrderCommand struct {
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      int64
}

type MarkOrderPaidCommand struct {
	OrderID       string
	PaymentResult map[string]any
}

// Order event types published on lifecycle transitions.
const (
	OrderEventCreated       = "order.created"
	OrderEventPaid          = "order.paid"
	OrderEventDelivered     = "order.delivered"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEvent is the message body published for order lifecycle transitions.
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status,omitempty"`
	TotalPrice int64     `json:"totalPrice"`
	ProductIDs []string  `json:"productIds,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewOrderEvent builds the event of eventType for order.
func NewOrderEvent(eventType string, order Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		TotalPrice: order.TotalPrice,
		ProductIDs: order.ProductIDs(),
		OccurredAt: at.UTC(),
	}
}
