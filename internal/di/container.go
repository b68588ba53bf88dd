package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Users      services.UserService
	Catalog    services.CatalogService
	Carts      services.CartService
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Categories services.TaxonomyService
	Brands     services.TaxonomyService
	Uploads    services.UploadService
	System     services.SystemService
}

// Infrastructure carries the external adapters built by the caller. Nil members disable
// the features that depend on them.
type Infrastructure struct {
	Tokens   services.TokenIssuer
	Payments payments.Provider
	Events   services.OrderEventPublisher
	Uploader *storage.ImageUploader
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// IdentityLoader refreshes bearer token identities from the user service.
func (c *Container) IdentityLoader() auth.IdentityLoader {
	if c == nil || c.Services.Users == nil {
		return nil
	}
	users := c.Services.Users
	return func(ctx context.Context, uid string) (*auth.Identity, error) {
		user, err := users.FindUser(ctx, uid)
		if err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return nil, auth.ErrIdentityGone
			}
			return nil, err
		}
		return &auth.Identity{UID: user.ID, Email: user.Email, Role: user.Role}, nil
	}
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	usersRepo := reg.Users()
	productsRepo := reg.Products()
	cartsRepo := reg.Carts()

	if usersRepo != nil && infra.Tokens != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:  usersRepo,
			Tokens: infra.Tokens,
			Clock:  clock,
			Logger: observability.ServiceLogger(logger, "users"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if productsRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Products: productsRepo,
			Clock:    clock,
			Logger:   observability.ServiceLogger(logger, "catalog"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if cartsRepo != nil && productsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:    cartsRepo,
			Products: productsRepo,
			Clock:    clock,
			Logger:   observability.ServiceLogger(logger, "cart"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Carts = cartSvc
	}

	if checkoutsRepo := reg.Checkouts(); checkoutsRepo != nil && cartsRepo != nil {
		deps := services.CheckoutServiceDeps{
			Checkouts:  checkoutsRepo,
			Carts:      cartsRepo,
			Payments:   infra.Payments,
			Events:     infra.Events,
			Currency:   cfg.PSP.Currency,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Clock:      clock,
			Logger:     observability.ServiceLogger(logger, "checkout"),
		}
		if productsRepo != nil {
			deps.Sales = productsRepo
		}
		if usersRepo != nil {
			deps.Users = usersRepo
		}
		checkoutSvc, err := services.NewCheckoutService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil && productsRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Products: productsRepo,
			Events:   infra.Events,
			Clock:    clock,
			Logger:   observability.ServiceLogger(logger, "orders"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	taxa := []struct {
		repo   repositories.TaxonRepository
		kind   string
		prefix string
		target *services.TaxonomyService
	}{
		{reg.Categories(), "category", domain.CategoryIDPrefix, &svc.Categories},
		{reg.Brands(), "brand", domain.BrandIDPrefix, &svc.Brands},
	}
	for _, t := range taxa {
		if t.repo == nil {
			continue
		}
		taxonSvc, err := services.NewTaxonomyService(services.TaxonomyServiceDeps{
			Taxa:     t.repo,
			Kind:     t.kind,
			IDPrefix: t.prefix,
			Clock:    clock,
			Logger:   observability.ServiceLogger(logger, t.kind),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build %s service: %w", t.kind, err)
		}
		*t.target = taxonSvc
	}

	if infra.Uploader != nil {
		uploadSvc, err := services.NewUploadService(services.UploadServiceDeps{
			Uploader: infra.Uploader,
			Logger:   observability.ServiceLogger(logger, "uploads"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build upload service: %w", err)
		}
		svc.Uploads = uploadSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
