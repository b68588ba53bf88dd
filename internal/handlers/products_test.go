package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func sampleProduct(id string) services.Product {
	return services.Product{
		ID:          id,
		Name:        "Linen Shirt",
		Price:       4999,
		Category:    "Top Wear",
		Sizes:       []string{"S", "M"},
		Colors:      []string{"White"},
		Images:      []string{"https://cdn.example.com/a.png"},
		CreatedBy:   testAdmin.ID,
		IsPublished: true,
		CreatedAt:   fixedTime,
	}
}

func TestProductHandlersListParsesFilters(t *testing.T) {
	ta := newTestAuth(t)
	var got services.ProductListCommand
	var caller services.Principal
	catalog := &stubCatalogService{
		listFn: func(_ context.Context, p services.Principal, cmd services.ProductListCommand) (domain.CursorPage[services.Product], error) {
			got, caller = cmd, p
			return domain.CursorPage[services.Product]{Items: []services.Product{sampleProduct("prd_1")}, NextPageToken: "next"}, nil
		},
	}
	h := NewProductHandlers(ta.authn, catalog)

	req := httptest.NewRequest(http.MethodGet, "/?category=Top+Wear&gender=Men&size=M&color=White&minPrice=1000&maxPrice=5000&search=linen&sortBy=priceAsc&published=all&pageSize=10", nil)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	q := got.Query
	if q.Category != "Top Wear" || q.Gender != "Men" || q.Size != "M" || q.Color != "White" || q.Search != "linen" {
		t.Fatalf("unexpected query %+v", q)
	}
	if q.MinPrice == nil || *q.MinPrice != 1000 || q.MaxPrice == nil || *q.MaxPrice != 5000 {
		t.Fatalf("unexpected price bounds %+v", q)
	}
	if q.Sort != domain.ParseProductSort("priceAsc") || !q.IncludeDrafts {
		t.Fatalf("expected sort and draft flag, got %+v", q)
	}
	if got.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", got.Pagination.PageSize)
	}
	if caller.ID != testAdmin.ID {
		t.Fatalf("expected optional auth to attach caller, got %+v", caller)
	}
	body := decodeBody[pageResponse[productPayload]](t, rr)
	if len(body.Items) != 1 || body.NextPageToken != "next" || body.Items[0].Price != 4999 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestProductHandlersListRejectsBadPrice(t *testing.T) {
	h := NewProductHandlers(nil, &stubCatalogService{})

	rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, "/?minPrice=cheap", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody[map[string]any](t, rr); body["field"] != "minPrice" {
		t.Fatalf("expected field minPrice, got %v", body["field"])
	}
}

func TestProductHandlersGetNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getFn: func(context.Context, services.Principal, string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogNotFound
		},
	}
	h := NewProductHandlers(newTestAuth(t).authn, catalog)

	rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, "/prd_missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "product_not_found" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestProductHandlersWritesRequireAdmin(t *testing.T) {
	ta := newTestAuth(t)
	var input services.ProductInput
	catalog := &stubCatalogService{
		createFn: func(_ context.Context, _ services.Principal, cmd services.ProductInput) (services.Product, error) {
			input = cmd
			return sampleProduct("prd_new"), nil
		},
		updateFn: func(_ context.Context, _ services.Principal, id string, patch services.ProductPatch) (services.Product, error) {
			p := sampleProduct(id)
			if patch.Price != nil {
				p.Price = *patch.Price
			}
			return p, nil
		},
	}
	h := NewProductHandlers(ta.authn, catalog)
	payload := map[string]any{"name": "Linen Shirt", "price": 4999, "sizes": []string{"S"}, "colors": []string{"White"}, "countInStock": 3}

	req := jsonRequest(t, http.MethodPost, "/", payload)
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	if rr := serve(h.Routes, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	req = jsonRequest(t, http.MethodPost, "/", payload)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if input.CountInStock != 3 || len(input.Sizes) != 1 || input.IsPublished != nil {
		t.Fatalf("unexpected input %+v", input)
	}

	req = jsonRequest(t, http.MethodPut, "/prd_1", map[string]any{"price": 3999})
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr = serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody[productPayload](t, rr); body.Price != 3999 || body.ID != "prd_1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestProductHandlersShelves(t *testing.T) {
	var shelves []string
	var last services.FeaturedQuery
	catalog := &stubCatalogService{
		featuredFn: func(_ context.Context, shelf string, cmd services.FeaturedQuery) ([]services.Product, error) {
			shelves = append(shelves, shelf)
			last = cmd
			return []services.Product{sampleProduct("prd_1")}, nil
		},
		similarFn: func(_ context.Context, id string, limit int) ([]services.Product, error) {
			if id != "prd_1" || limit != 4 {
				t.Fatalf("unexpected similar args %s %d", id, limit)
			}
			return nil, nil
		},
	}
	h := NewProductHandlers(nil, catalog)

	for _, path := range []string{"/best-seller", "/new-arrivals", "/recommended?gender=Women&limit=8"} {
		if rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
	if len(shelves) != 3 || shelves[2] != "recommended" || last.Gender != "Women" || last.Limit != 8 {
		t.Fatalf("unexpected shelf calls %v %+v", shelves, last)
	}

	rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, "/similar/prd_1?limit=4", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody[productListResponse](t, rr); body.Products == nil {
		t.Fatalf("expected empty non-nil product list")
	}

	if rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, "/best-seller?limit=0", nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", rr.Code)
	}
}

func TestProductHandlersUnavailableService(t *testing.T) {
	h := NewProductHandlers(nil, nil)
	rr := serve(h.Routes, httptest.NewRequest(http.MethodGet, "/best-seller", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
