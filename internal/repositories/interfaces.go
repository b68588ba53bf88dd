package repositories

import (
	"context"
	"time"

	"github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Products() ProductRepository
	Carts() CartRepository
	Checkouts() CheckoutRepository
	Orders() OrderRepository
	Categories() TaxonRepository
	Brands() TaxonRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserRepository stores accounts. Emails are unique; a duplicate yields a conflict error.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	// Update replaces the account. previousEmail is the stored email before the change.
	Update(ctx context.Context, user domain.User, previousEmail string) error
	Delete(ctx context.Context, userID string) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error)
}

// ProductRepository persists catalog entries.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// Search returns every product matching the equality filters in filter.
	Search(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	// OwnedIDs lists the ids of products created by ownerID.
	OwnedIDs(ctx context.Context, ownerID string) ([]string, error)
	IncrementSales(ctx context.Context, productID string, quantity int64) error
}

// CartRepository stores one cart per owner keyed by domain.CartID.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// FinalizeFunc derives the finalized session and the order to create from the stored session.
// Returning an error aborts the transaction and is passed back unchanged.
type FinalizeFunc func(session domain.CheckoutSession) (domain.CheckoutSession, domain.Order, error)

// CheckoutRepository persists checkout sessions.
type CheckoutRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Update(ctx context.Context, session domain.CheckoutSession) error
	FindByID(ctx context.Context, checkoutID string) (domain.CheckoutSession, error)
	// Finalize atomically creates the order and stores the finalized session.
	Finalize(ctx context.Context, checkoutID string, fn FinalizeFunc) (domain.Order, error)
}

// OrderRepository persists orders and provides the role-scoped queries.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListPaidSince returns paid orders with paidAt >= since, optionally limited to orders
	// containing at least one of the scoped products.
	ListPaidSince(ctx context.Context, since time.Time, scope ProductScope) ([]domain.Order, error)
}

// TaxonRepository stores a keyed list (categories or brands). Names are unique ignoring case.
type TaxonRepository interface {
	Create(ctx context.Context, taxon domain.Taxon) error
	Update(ctx context.Context, taxon domain.Taxon, previousName string) error
	Delete(ctx context.Context, taxonID string) error
	FindByID(ctx context.Context, taxonID string) (domain.Taxon, error)
	List(ctx context.Context) ([]domain.Taxon, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// ProductFilter holds the equality filters pushed down to the store. Empty fields do not filter.
type ProductFilter struct {
	Category      string
	Gender        string
	Brand         string
	Material      string
	CreatedBy     string
	PublishedOnly bool
}

// ProductScope restricts order queries to orders containing any of ProductIDs when Enabled.
type ProductScope struct {
	Enabled    bool
	ProductIDs []string
}

// OrderListFilter selects orders for listing, newest first.
type OrderListFilter struct {
	UserID     string
	Scope      ProductScope
	Pagination domain.Pagination
}
