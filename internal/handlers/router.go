package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	users      RouteRegistrar
	products   RouteRegistrar
	cart       RouteRegistrar
	checkout   RouteRegistrar
	orders     RouteRegistrar
	categories RouteRegistrar
	brands     RouteRegistrar
	admin      RouteRegistrar
	upload     RouteRegistrar
	webhooks   RouteRegistrar
	internal   RouteRegistrar

	webhookMiddlewares  []func(http.Handler) http.Handler
	internalMiddlewares []func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and expected route groups.
// Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	mountGroup(r, "/internal", cfg.internal, "internal", cfg.internalMiddlewares)

	r.Route(cfg.basePath, func(api chi.Router) {
		mountGroup(api, "/users", cfg.users, "users", nil)
		mountGroup(api, "/products", cfg.products, "products", nil)
		mountGroup(api, "/cart", cfg.cart, "cart", nil)
		mountGroup(api, "/checkout", cfg.checkout, "checkout", nil)
		mountGroup(api, "/orders", cfg.orders, "orders", nil)
		mountGroup(api, "/categories", cfg.categories, "categories", nil)
		mountGroup(api, "/brands", cfg.brands, "brands", nil)
		mountGroup(api, "/admin", cfg.admin, "admin", nil)
		mountGroup(api, "/upload", cfg.upload, "upload", nil)
		mountGroup(api, "/webhooks", cfg.webhooks, "webhooks", cfg.webhookMiddlewares)
	})

	return r
}

func mountGroup(parent chi.Router, path string, registrar RouteRegistrar, name string, groupMW []func(http.Handler) http.Handler) {
	parent.Route(path, func(group chi.Router) {
		for _, mw := range groupMW {
			if mw != nil {
				group.Use(mw)
			}
		}
		if registrar != nil {
			registrar(group)
			return
		}
		registerNotImplemented(group, name)
	})
}

// WithBasePath overrides the /api prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithUserRoutes configures the registrar responsible for account endpoints.
func WithUserRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.users = reg
	}
}

// WithProductRoutes configures the registrar responsible for catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.products = reg
	}
}

// WithCartRoutes configures the registrar responsible for cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.cart = reg
	}
}

// WithCheckoutRoutes configures the registrar responsible for checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = reg
	}
}

// WithCategoryRoutes configures the registrar responsible for category endpoints.
func WithCategoryRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.categories = reg
	}
}

// WithBrandRoutes configures the registrar responsible for brand endpoints.
func WithBrandRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.brands = reg
	}
}

// WithAdminRoutes configures the registrar responsible for admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin = reg
	}
}

// WithUploadRoutes configures the registrar responsible for image uploads.
func WithUploadRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.upload = reg
	}
}

// WithWebhookRoutes configures the registrar responsible for webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks = reg
	}
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhookMiddlewares = append(cfg.webhookMiddlewares, mw...)
	}
}

// WithInternalRoutes configures the registrar responsible for internal endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal = reg
	}
}

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internalMiddlewares = append(cfg.internalMiddlewares, mw...)
	}
}

// AdminRegistrar combines the admin sub-resources under one /admin registrar.
func AdminRegistrar(users, products, orders RouteRegistrar) RouteRegistrar {
	return func(r chi.Router) {
		for _, sub := range []struct {
			path string
			reg  RouteRegistrar
			name string
		}{
			{"/users", users, "admin users"},
			{"/products", products, "admin products"},
			{"/orders", orders, "admin orders"},
		} {
			mountGroup(r, sub.path, sub.reg, sub.name, nil)
		}
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
