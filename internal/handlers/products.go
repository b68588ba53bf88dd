package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxProductBodySize = 128 * 1024

// ProductHandlers serves catalog browsing and product management.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes wires the /products endpoints. Reads are public; writes require an admin.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/best-seller", h.bestSellers)
	r.Get("/new-arrivals", h.newArrivals)
	r.Get("/recommended", h.recommended)
	r.Get("/similar/{productId}", h.similar)

	r.Group(func(read chi.Router) {
		if h.authn != nil {
			read.Use(h.authn.OptionalAuth())
		}
		read.Get("/", h.listProducts)
		read.Get("/{productId}", h.getProduct)
	})
	r.Group(func(write chi.Router) {
		if h.authn != nil {
			write.Use(h.authn.RequireAuth(domain.RoleAdmin))
		}
		write.Post("/", h.createProduct)
		write.Put("/{productId}", h.updateProduct)
		write.Delete("/{productId}", h.deleteProduct)
	})
}

// AdminRoutes wires /admin/products: admins manage their own products, superAdmin all products.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleAdmin))
	}
	r.Get("/", h.listAdminProducts)
	r.Post("/", h.createProduct)
	r.Put("/{productId}", h.updateProduct)
	r.Delete("/{productId}", h.deleteProduct)
}

type productRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Price        int64    `json:"price"`
	Category     string   `json:"category"`
	Brand        string   `json:"brand"`
	Gender       string   `json:"gender"`
	Material     string   `json:"material"`
	Sizes        []string `json:"sizes"`
	Colors       []string `json:"colors"`
	Images       []string `json:"images"`
	CountInStock int      `json:"countInStock"`
	IsPublished  *bool    `json:"isPublished"`
}

type productPatchRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Price        *int64    `json:"price"`
	Category     *string   `json:"category"`
	Brand        *string   `json:"brand"`
	Gender       *string   `json:"gender"`
	Material     *string   `json:"material"`
	Sizes        *[]string `json:"sizes"`
	Colors       *[]string `json:"colors"`
	Images       *[]string `json:"images"`
	CountInStock *int      `json:"countInStock"`
	IsPublished  *bool     `json:"isPublished"`
}

type productPayload struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Price        int64    `json:"price"`
	Category     string   `json:"category"`
	Brand        string   `json:"brand"`
	Gender       string   `json:"gender"`
	Material     string   `json:"material"`
	Sizes        []string `json:"sizes"`
	Colors       []string `json:"colors"`
	Images       []string `json:"images"`
	CountInStock int      `json:"countInStock"`
	SalesCount   int64    `json:"salesCount"`
	CreatedBy    string   `json:"createdBy,omitempty"`
	IsPublished  bool     `json:"isPublished"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Products []productPayload `json:"products"`
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price,
		Category:     p.Category,
		Brand:        p.Brand,
		Gender:       p.Gender,
		Material:     p.Material,
		Sizes:        cloneStrings(p.Sizes),
		Colors:       cloneStrings(p.Colors),
		Images:       cloneStrings(p.Images),
		CountInStock: p.CountInStock,
		SalesCount:   p.SalesCount,
		CreatedBy:    p.CreatedBy,
		IsPublished:  p.IsPublished,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func buildProductList(products []services.Product) productListResponse {
	out := make([]productPayload, 0, len(products))
	for _, p := range products {
		out = append(out, buildProductPayload(p))
	}
	return productListResponse{Products: out}
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, services.CatalogService.ListProducts)
}

func (h *ProductHandlers) listAdminProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, services.CatalogService.ListAdminProducts)
}

type productLister func(services.CatalogService, context.Context, services.Principal, services.ProductListCommand) (domain.CursorPage[services.Product], error)

func (h *ProductHandlers) list(w http.ResponseWriter, r *http.Request, lister productLister) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	query, err := parseProductQuery(r.URL.Query())
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := lister(h.catalog, ctx, auth.PrincipalFromContext(ctx), services.ProductListCommand{Query: query, Pagination: pager})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page, buildProductPayload))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.GetProduct(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "productId"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	var req productRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}
	product, err := h.catalog.CreateProduct(ctx, auth.PrincipalFromContext(ctx), services.ProductInput{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Category:     req.Category,
		Brand:        req.Brand,
		Gender:       req.Gender,
		Material:     req.Material,
		Sizes:        req.Sizes,
		Colors:       req.Colors,
		Images:       req.Images,
		CountInStock: req.CountInStock,
		IsPublished:  req.IsPublished,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	var req productPatchRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}
	product, err := h.catalog.UpdateProduct(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "productId"), services.ProductPatch{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Category:     req.Category,
		Brand:        req.Brand,
		Gender:       req.Gender,
		Material:     req.Material,
		Sizes:        req.Sizes,
		Colors:       req.Colors,
		Images:       req.Images,
		CountInStock: req.CountInStock,
		IsPublished:  req.IsPublished,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	if err := h.catalog.DeleteProduct(ctx, auth.PrincipalFromContext(ctx), chi.URLParam(r, "productId")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "product removed"})
}

func (h *ProductHandlers) similar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	products, err := h.catalog.SimilarProducts(ctx, chi.URLParam(r, "productId"), limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductList(products))
}

func (h *ProductHandlers) bestSellers(w http.ResponseWriter, r *http.Request) {
	h.shelf(w, r, services.CatalogService.BestSellers)
}

func (h *ProductHandlers) newArrivals(w http.ResponseWriter, r *http.Request) {
	h.shelf(w, r, services.CatalogService.NewArrivals)
}

func (h *ProductHandlers) recommended(w http.ResponseWriter, r *http.Request) {
	h.shelf(w, r, services.CatalogService.RecommendedProducts)
}

func (h *ProductHandlers) shelf(w http.ResponseWriter, r *http.Request, fetch func(services.CatalogService, context.Context, services.FeaturedQuery) ([]services.Product, error)) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	values := r.URL.Query()
	limit, err := parseLimit(values)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	products, err := fetch(h.catalog, ctx, services.FeaturedQuery{
		Category: strings.TrimSpace(values.Get("category")),
		Gender:   strings.TrimSpace(values.Get("gender")),
		Limit:    limit,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductList(products))
}

func parseProductQuery(values url.Values) (domain.ProductQuery, error) {
	q := domain.ProductQuery{
		Category:      strings.TrimSpace(values.Get("category")),
		Gender:        strings.TrimSpace(values.Get("gender")),
		Brand:         strings.TrimSpace(values.Get("brand")),
		Material:      strings.TrimSpace(values.Get("material")),
		Size:          strings.TrimSpace(values.Get("size")),
		Color:         strings.TrimSpace(values.Get("color")),
		Search:        strings.TrimSpace(values.Get("search")),
		Sort:          domain.ParseProductSort(values.Get("sortBy")),
		IncludeDrafts: strings.EqualFold(strings.TrimSpace(values.Get("published")), "all"),
	}
	for _, bound := range []struct {
		name string
		dst  **int64
	}{{"minPrice", &q.MinPrice}, {"maxPrice", &q.MaxPrice}} {
		raw := strings.TrimSpace(values.Get(bound.name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value < 0 {
			return domain.ProductQuery{}, services.NewValidationError(services.ErrCatalogInvalidInput, bound.name, bound.name+" must be a non-negative integer")
		}
		*bound.dst = &value
	}
	return q, nil
}

func parseLimit(values url.Values) (int, error) {
	raw := strings.TrimSpace(values.Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, services.NewValidationError(services.ErrCatalogInvalidInput, "limit", "limit must be a positive integer")
	}
	return limit, nil
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if writeCommonError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		writeServiceUnavailable(ctx, w, "catalog")
	default:
		writeUnexpectedError(ctx, w, "catalog_error", err)
	}
}
