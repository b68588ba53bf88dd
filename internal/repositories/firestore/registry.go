package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	users      *UserRepository
	products   *ProductRepository
	carts      *CartRepository
	checkouts  *CheckoutRepository
	orders     *OrderRepository
	categories *TaxonRepository
	brands     *TaxonRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository over provider. health may be nil when readiness
// checks are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	reg := &Registry{provider: provider, health: health}
	var err error
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("carts: %w", err)
	}
	if reg.checkouts, err = NewCheckoutRepository(provider); err != nil {
		return nil, fmt.Errorf("checkouts: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	if reg.categories, err = NewTaxonRepository(provider, categoryCollection); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	if reg.brands, err = NewTaxonRepository(provider, brandCollection); err != nil {
		return nil, fmt.Errorf("brands: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Users() repositories.UserRepository { return r.users }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Checkouts() repositories.CheckoutRepository { return r.checkouts }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Categories() repositories.TaxonRepository { return r.categories }
func (r *Registry) Brands() repositories.TaxonRepository { return r.brands }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
