package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultShelfLimit = 8
	maxShelfLimit     = 50
	maxProductImages  = 10
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product does not exist or is not visible to the caller.
	ErrCatalogNotFound = errors.New("catalog service: product not found")
	// ErrCatalogUnavailable indicates a backend failure.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

var catalogRepoErrors = repoErrors{notFound: ErrCatalogNotFound, conflict: ErrCatalogInvalidInput, unavailable: ErrCatalogUnavailable}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type catalogService struct {
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	newID    func() string
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return domain.NewID(domain.ProductIDPrefix) }
	}
	return &catalogService{
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newID:    idGen,
	}, nil
}

// ListProducts serves the public listing. Drafts are listed only for admins that ask for them,
// and a non-super admin only sees its own drafts.
func (s *catalogService) ListProducts(ctx context.Context, caller Principal, cmd ProductListCommand) (domain.CursorPage[Product], error) {
	q := cmd.Query
	if q.IncludeDrafts {
		switch {
		case !domain.IsAdmin(caller.Role):
			q.IncludeDrafts = false
		case !domain.IsSuperAdmin(caller.Role):
			q.CreatedBy = caller.ID
		}
	}
	return s.list(ctx, q, cmd.Pagination)
}

func (s *catalogService) ListAdminProducts(ctx context.Context, caller Principal, cmd ProductListCommand) (domain.CursorPage[Product], error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin}); err != nil {
		return domain.CursorPage[Product]{}, err
	}
	q := cmd.Query
	q.IncludeDrafts = true
	if !domain.IsSuperAdmin(caller.Role) {
		q.CreatedBy = caller.ID
	}
	return s.list(ctx, q, cmd.Pagination)
}

func (s *catalogService) list(ctx context.Context, q domain.ProductQuery, pager Pagination) (domain.CursorPage[Product], error) {
	q.Search = textutil.PlainText(q.Search)
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return domain.CursorPage[Product]{}, invalidField(ErrCatalogInvalidInput, "minPrice", "minPrice must not exceed maxPrice")
	}
	candidates, err := s.products.Search(ctx, repositories.ProductFilter{
		Category:      q.Category,
		Gender:        q.Gender,
		Brand:         q.Brand,
		Material:      q.Material,
		CreatedBy:     q.CreatedBy,
		PublishedOnly: !q.IncludeDrafts,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, catalogRepoErrors.translate(err)
	}
	page, err := pagination.Slice(domain.FilterProducts(candidates, q), pager)
	if err != nil {
		return domain.CursorPage[Product]{}, invalidField(ErrCatalogInvalidInput, "pageToken", "page token is invalid")
	}
	return page, nil
}

// GetProduct returns a product. Unpublished products are visible to their owner and superAdmin only.
func (s *catalogService) GetProduct(ctx context.Context, caller Principal, productID string) (Product, error) {
	product, err := s.load(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if !product.IsPublished && !caller.Owns(product.CreatedBy) && !domain.IsSuperAdmin(caller.Role) {
		return Product{}, ErrCatalogNotFound
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, caller Principal, cmd ProductInput) (Product, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin}); err != nil {
		return Product{}, err
	}
	now := s.now()
	product := Product{
		ID:           s.newID(),
		Name:         textutil.PlainText(cmd.Name),
		Description:  textutil.RichText(cmd.Description),
		Price:        cmd.Price,
		Category:     textutil.PlainText(cmd.Category),
		Brand:        textutil.PlainText(cmd.Brand),
		Gender:       textutil.PlainText(cmd.Gender),
		Material:     textutil.PlainText(cmd.Material),
		Sizes:        textutil.NormalizeList(cmd.Sizes),
		Colors:       textutil.NormalizeList(cmd.Colors),
		Images:       normaliseImages(cmd.Images),
		CountInStock: cmd.CountInStock,
		CreatedBy:    caller.ID,
		IsPublished:  cmd.IsPublished == nil || *cmd.IsPublished,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, catalogRepoErrors.translate(err)
	}
	s.logger(ctx, "catalog.product_created", map[string]any{"productID": product.ID, "actorID": caller.ID})
	return product, nil
}

// UpdateProduct applies patch when the caller owns the product or is superAdmin.
func (s *catalogService) UpdateProduct(ctx context.Context, caller Principal, productID string, patch ProductPatch) (Product, error) {
	product, err := s.load(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin, OwnerID: domain.OwnedBy(product.CreatedBy)}); err != nil {
		return Product{}, err
	}
	applyProductPatch(&product, patch)
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, catalogRepoErrors.translate(err)
	}
	s.logger(ctx, "catalog.product_updated", map[string]any{"productID": product.ID, "actorID": caller.ID})
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, caller Principal, productID string) error {
	product, err := s.load(ctx, productID)
	if err != nil {
		return err
	}
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleAdmin, OwnerID: domain.OwnedBy(product.CreatedBy)}); err != nil {
		return err
	}
	if err := s.products.Delete(ctx, product.ID); err != nil {
		return catalogRepoErrors.translate(err)
	}
	s.logger(ctx, "catalog.product_deleted", map[string]any{"productID": product.ID, "actorID": caller.ID})
	return nil
}

// SimilarProducts walks the similarity tiers of the product and returns the first non-empty
// shelf, newest first, excluding the product itself unless it is the only published product.
func (s *catalogService) SimilarProducts(ctx context.Context, productID string, limit int) ([]Product, error) {
	product, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsPublished {
		return nil, ErrCatalogNotFound
	}
	return s.shelf(ctx, product.Category, product.Gender, product.ID, limit, rankNewest)
}

// RecommendedProducts favours in-stock items, newest first.
func (s *catalogService) RecommendedProducts(ctx context.Context, cmd FeaturedQuery) ([]Product, error) {
	return s.shelf(ctx, cmd.Category, cmd.Gender, "", cmd.Limit, rankRecommended)
}

// BestSellers ranks by sales count within the first non-empty tier.
func (s *catalogService) BestSellers(ctx context.Context, cmd FeaturedQuery) ([]Product, error) {
	return s.shelf(ctx, cmd.Category, cmd.Gender, "", cmd.Limit, rankPopularity)
}

func (s *catalogService) NewArrivals(ctx context.Context, cmd FeaturedQuery) ([]Product, error) {
	return s.shelf(ctx, cmd.Category, cmd.Gender, "", cmd.Limit, rankNewest)
}

type shelfRanking func([]Product)

func rankNewest(products []Product) { domain.SortProducts(products, domain.SortNewest) }

func rankPopularity(products []Product) { domain.SortProducts(products, domain.SortPopularity) }

func rankRecommended(products []Product) {
	domain.SortProducts(products, domain.SortNewest)
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].CountInStock > 0 && products[j].CountInStock <= 0
	})
}

func (s *catalogService) shelf(ctx context.Context, category, gender, excludeID string, limit int, rank shelfRanking) ([]Product, error) {
	limit = clampShelfLimit(limit)
	category, gender = textutil.PlainText(category), textutil.PlainText(gender)
	var candidates []Product
	for _, tier := range domain.SimilarityTiers(category, gender) {
		var err error
		candidates, err = s.products.Search(ctx, repositories.ProductFilter{
			Category:      tier.Category,
			Gender:        tier.Gender,
			PublishedOnly: true,
		})
		if err != nil {
			return nil, catalogRepoErrors.translate(err)
		}
		matches := make([]Product, 0, len(candidates))
		for _, p := range candidates {
			if p.ID != excludeID && tier.Matches(p) {
				matches = append(matches, p)
			}
		}
		if len(matches) == 0 {
			continue
		}
		rank(matches)
		return matches[:min(limit, len(matches))], nil
	}
	// The last tier is unconstrained; when the excluded product is all it holds, return it.
	if len(candidates) > 0 {
		rank(candidates)
		return candidates[:min(limit, len(candidates))], nil
	}
	return []Product{}, nil
}

func (s *catalogService) load(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if !domain.ValidID(domain.ProductIDPrefix, productID) {
		return Product{}, invalidField(ErrCatalogInvalidInput, "id", "invalid product id")
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, catalogRepoErrors.translate(err)
	}
	return product, nil
}

func applyProductPatch(p *Product, patch ProductPatch) {
	if patch.Name != nil {
		p.Name = textutil.PlainText(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = textutil.RichText(*patch.Description)
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Category != nil {
		p.Category = textutil.PlainText(*patch.Category)
	}
	if patch.Brand != nil {
		p.Brand = textutil.PlainText(*patch.Brand)
	}
	if patch.Gender != nil {
		p.Gender = textutil.PlainText(*patch.Gender)
	}
	if patch.Material != nil {
		p.Material = textutil.PlainText(*patch.Material)
	}
	if patch.Sizes != nil {
		p.Sizes = textutil.NormalizeList(*patch.Sizes)
	}
	if patch.Colors != nil {
		p.Colors = textutil.NormalizeList(*patch.Colors)
	}
	if patch.Images != nil {
		p.Images = normaliseImages(*patch.Images)
	}
	if patch.CountInStock != nil {
		p.CountInStock = *patch.CountInStock
	}
	if patch.IsPublished != nil {
		p.IsPublished = *patch.IsPublished
	}
}

func validateProduct(p Product) error {
	switch {
	case p.Name == "":
		return invalidField(ErrCatalogInvalidInput, "name", "name is required")
	case p.Price < 0:
		return invalidField(ErrCatalogInvalidInput, "price", "price must be zero or greater")
	case p.CountInStock < 0:
		return invalidField(ErrCatalogInvalidInput, "countInStock", "countInStock must be zero or greater")
	case len(p.Images) > maxProductImages:
		return invalidField(ErrCatalogInvalidInput, "images", fmt.Sprintf("at most %d images are allowed", maxProductImages))
	}
	for i, image := range p.Images {
		u, err := url.Parse(image)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return invalidField(ErrCatalogInvalidInput, fmt.Sprintf("images[%d]", i), "image must be an absolute http(s) URL")
		}
	}
	return nil
}

func normaliseImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, image := range images {
		if image = strings.TrimSpace(image); image != "" {
			out = append(out, image)
		}
	}
	return out
}

func clampShelfLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultShelfLimit
	case limit > maxShelfLimit:
		return maxShelfLimit
	default:
		return limit
	}
}
