package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func TestOrderHandlersRevenue(t *testing.T) {
	ta := newTestAuth(t)
	var super []bool
	orders := &stubOrderService{
		revenueFn: func(_ context.Context, _ services.Principal, superAdmin bool) ([]services.MonthlyRevenue, error) {
			super = append(super, superAdmin)
			return []services.MonthlyRevenue{
				{Year: 2025, Month: time.May, Total: 1500},
				{Year: 2025, Month: time.June, Total: 2500},
			}, nil
		},
	}
	h := NewOrderHandlers(ta.authn, orders)

	req := httptest.NewRequest(http.MethodGet, "/admin-revenue", nil)
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	if rr := serve(h.Routes, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin-revenue", nil)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody[revenueResponse](t, rr)
	if body.Total != 4000 || len(body.Months) != 2 || body.Months[0].Label != "May" || body.Months[1].Month != 6 {
		t.Fatalf("unexpected body %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/super-admin-revenue", nil)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	if rr := serve(h.Routes, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin on super report, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/super-admin-revenue", nil)
	req.Header.Set("Authorization", ta.bearer(t, testSuper))
	if rr := serve(h.Routes, req); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for superAdmin, got %d", rr.Code)
	}
	if len(super) != 2 || super[0] || !super[1] {
		t.Fatalf("unexpected report calls %v", super)
	}
}

func TestOrderHandlersListMine(t *testing.T) {
	ta := newTestAuth(t)
	var pager services.Pagination
	orders := &stubOrderService{
		listMineFn: func(_ context.Context, caller services.Principal, p services.Pagination) (domain.CursorPage[services.Order], error) {
			pager = p
			return domain.CursorPage[services.Order]{Items: []services.Order{{ID: "ord_1", UserID: caller.ID, Status: domain.OrderStatusProcessing}}}, nil
		},
	}
	h := NewOrderHandlers(ta.authn, orders)

	req := httptest.NewRequest(http.MethodGet, "/my-orders?limit=5", nil)
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	rr := serve(h.Routes, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if pager.PageSize != 5 {
		t.Fatalf("expected limit alias to set page size, got %d", pager.PageSize)
	}
	body := decodeBody[pageResponse[orderPayload]](t, rr)
	if len(body.Items) != 1 || body.Items[0].UserID != testShopper.ID || body.Items[0].Status != "Processing" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	ta := newTestAuth(t)
	var gotID, gotStatus string
	orders := &stubOrderService{
		updateStatusFn: func(_ context.Context, _ services.Principal, id, status string) (services.Order, error) {
			gotID, gotStatus = id, status
			if status == "Lost" {
				return services.Order{}, services.NewValidationError(services.ErrOrderInvalidInput, "status", "unknown status")
			}
			return services.Order{ID: id, Status: domain.OrderStatusShipped}, nil
		},
	}
	h := NewOrderHandlers(ta.authn, orders)
	token := ta.bearer(t, testAdmin)

	req := jsonRequest(t, http.MethodPut, "/ord_1/status", map[string]string{"status": "Shipped"})
	req.Header.Set("Authorization", token)
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotID != "ord_1" || gotStatus != "Shipped" {
		t.Fatalf("unexpected args %s %s", gotID, gotStatus)
	}

	req = jsonRequest(t, http.MethodPut, "/ord_1", map[string]string{"status": "Lost"})
	req.Header.Set("Authorization", token)
	rr = serve(h.AdminRoutes, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody[map[string]any](t, rr); body["field"] != "status" {
		t.Fatalf("expected field status, got %v", body["field"])
	}
}

func TestOrderHandlersErrors(t *testing.T) {
	ta := newTestAuth(t)
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: ord_x", services.ErrOrderNotFound), http.StatusNotFound, "order_not_found"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_service_unavailable"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandlers(ta.authn, &stubOrderService{
				getFn: func(context.Context, services.Principal, string) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})
			req := httptest.NewRequest(http.MethodGet, "/ord_x", nil)
			req.Header.Set("Authorization", ta.bearer(t, testShopper))
			rr := serve(h.Routes, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersDeleteAndDeliver(t *testing.T) {
	ta := newTestAuth(t)
	var deleted string
	orders := &stubOrderService{
		deleteFn: func(_ context.Context, _ services.Principal, id string) error {
			deleted = id
			return nil
		},
		markDeliveredFn: func(_ context.Context, _ services.Principal, id string) (services.Order, error) {
			at := fixedTime
			return services.Order{ID: id, IsDelivered: true, DeliveredAt: &at, Status: domain.OrderStatusDelivered}, nil
		},
	}
	h := NewOrderHandlers(ta.authn, orders)

	req := httptest.NewRequest(http.MethodDelete, "/ord_1", nil)
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	if rr := serve(h.Routes, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/ord_1", nil)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr := serve(h.AdminRoutes, req)
	if rr.Code != http.StatusOK || deleted != "ord_1" {
		t.Fatalf("expected delete of ord_1, got %d %q", rr.Code, deleted)
	}

	req = httptest.NewRequest(http.MethodPut, "/ord_1/deliver", nil)
	req.Header.Set("Authorization", ta.bearer(t, testAdmin))
	rr = serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody[orderPayload](t, rr)
	if !body.IsDelivered || body.DeliveredAt != "2025-06-15T12:00:00Z" || body.Status != "Delivered" {
		t.Fatalf("unexpected body %+v", body)
	}
}
