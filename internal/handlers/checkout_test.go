package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/services"
)

func checkoutBody() map[string]any {
	return map[string]any{
		"checkoutItems": []map[string]any{
			{"productId": "prd_1", "name": "Linen Shirt", "image": "https://cdn.example.com/a.png", "price": 4999, "quantity": 2, "size": "M", "color": "White"},
		},
		"shippingAddress": map[string]any{
			"address": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "US",
			"contact": map[string]string{"firstName": "Ada", "lastName": "Lovelace", "phone": "555-0100"},
		},
		"paymentMethod": "card",
		"totalPrice":    9998,
	}
}

func TestCheckoutHandlersCreateSession(t *testing.T) {
	ta := newTestAuth(t)
	var got services.CreateCheckoutCommand
	var caller services.Principal
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, p services.Principal, cmd services.CreateCheckoutCommand) (services.CheckoutSession, error) {
			got, caller = cmd, p
			return services.CheckoutSession{
				ID: "chk_1", UserID: p.ID, Items: cmd.Items, ShippingAddress: cmd.ShippingAddress,
				PaymentMethod: cmd.PaymentMethod, TotalPrice: cmd.TotalPrice, CreatedAt: fixedTime,
			}, nil
		},
	}
	h := NewCheckoutHandlers(ta.authn, checkout)

	if rr := serve(h.Routes, jsonRequest(t, http.MethodPost, "/", checkoutBody())); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := jsonRequest(t, http.MethodPost, "/", checkoutBody())
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	rr := serve(h.Routes, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if caller.ID != testShopper.ID {
		t.Fatalf("expected caller principal, got %+v", caller)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 || got.ShippingAddress.Contact.Phone != "555-0100" || got.TotalPrice != 9998 {
		t.Fatalf("unexpected command %+v", got)
	}
	body := decodeBody[checkoutPayload](t, rr)
	if body.ID != "chk_1" || body.IsPaid || body.ShippingAddress.City != "Springfield" || len(body.CheckoutItems) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCheckoutHandlersIdempotentCreate(t *testing.T) {
	ta := newTestAuth(t)
	calls := 0
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, p services.Principal, cmd services.CreateCheckoutCommand) (services.CheckoutSession, error) {
			calls++
			return services.CheckoutSession{ID: fmt.Sprintf("chk_%d", calls), UserID: p.ID}, nil
		},
	}
	h := NewCheckoutHandlers(ta.authn, checkout, WithCheckoutIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	token := ta.bearer(t, testShopper)

	var ids []string
	for i := 0; i < 2; i++ {
		req := jsonRequest(t, http.MethodPost, "/", checkoutBody())
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "checkout-1")
		rr := serve(h.Routes, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rr.Code)
		}
		ids = append(ids, decodeBody[checkoutPayload](t, rr).ID)
	}
	if calls != 1 {
		t.Fatalf("expected the replay to skip the service, got %d calls", calls)
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected replayed response, got %v", ids)
	}
}

func TestCheckoutHandlersLifecycleErrors(t *testing.T) {
	ta := newTestAuth(t)
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not paid", services.ErrCheckoutNotPaid, http.StatusBadRequest, "checkout_not_paid"},
		{"finalized", services.ErrCheckoutAlreadyFinalized, http.StatusBadRequest, "checkout_finalized"},
		{"not found", fmt.Errorf("%w: chk_x", services.ErrCheckoutNotFound), http.StatusNotFound, "checkout_not_found"},
		{"forbidden", fmt.Errorf("checkout: %w", domain.ErrForbidden), http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewCheckoutHandlers(ta.authn, &stubCheckoutService{
				finalizeFn: func(context.Context, services.Principal, string) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/chk_1/finalize", nil)
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

func TestCheckoutHandlersFinalizeReturnsOrder(t *testing.T) {
	ta := newTestAuth(t)
	h := NewCheckoutHandlers(ta.authn, &stubCheckoutService{
		finalizeFn: func(_ context.Context, p services.Principal, id string) (services.Order, error) {
			paid := fixedTime
			return services.Order{ID: "ord_1", UserID: p.ID, CheckoutID: id, IsPaid: true, PaidAt: &paid, Status: "Processing"}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/chk_1/finalize", nil)
	req.Header.Set("Authorization", ta.bearer(t, testShopper))
	rr := serve(h.Routes, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	body := decodeBody[orderPayload](t, rr)
	if body.CheckoutID != "chk_1" || !body.IsPaid || body.PaidAt == "" || body.Status != "Processing" {
		t.Fatalf("unexpected order %+v", body)
	}
}

func TestCheckoutHandlersMarkPaidAndPaymentSession(t *testing.T) {
	ta := newTestAuth(t)
	var paid services.MarkCheckoutPaidCommand
	h := NewCheckoutHandlers(ta.authn, &stubCheckoutService{
		markPaidFn: func(_ context.Context, _ services.Principal, cmd services.MarkCheckoutPaidCommand) (services.CheckoutSession, error) {
			paid = cmd
			return services.CheckoutSession{ID: cmd.CheckoutID, IsPaid: true, PaymentStatus: "paid"}, nil
		},
		paymentSessionFn: func(_ context.Context, _ services.Principal, id string) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{ID: "cs_test", Provider: "stripe", RedirectURL: "https://checkout.stripe.com/c/cs_test", ExpiresAt: fixedTime.Unix()}, nil
		},
	})
	token := ta.bearer(t, testShopper)

	req := jsonRequest(t, http.MethodPut, "/chk_1/pay", map[string]any{"paymentStatus": "PAID", "paymentDetails": map[string]any{"id": "pi_1"}})
	req.Header.Set("Authorization", token)
	if rr := serve(h.Routes, req); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if paid.CheckoutID != "chk_1" || paid.PaymentStatus != "PAID" || paid.PaymentDetails["id"] != "pi_1" {
		t.Fatalf("unexpected command %+v", paid)
	}

	req = httptest.NewRequest(http.MethodPost, "/chk_1/payment-session", nil)
	req.Header.Set("Authorization", token)
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody[paymentSessionResponse](t, rr)
	if body.URL != "https://checkout.stripe.com/c/cs_test" || body.ExpiresAt != "2025-06-15T12:00:00Z" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWebhookHandlersStripe(t *testing.T) {
	var gotSig, gotPayload string
	checkout := &stubCheckoutService{
		webhookFn: func(_ context.Context, payload []byte, signature string) error {
			gotSig, gotPayload = signature, string(payload)
			if signature != "t=1,v1=good" {
				return services.ErrCheckoutInvalidSignature
			}
			return nil
		},
	}
	h := NewWebhookHandlers(checkout)

	req := httptest.NewRequest(http.MethodPost, "/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := serve(h.Routes, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotSig != "t=1,v1=good" || !strings.Contains(gotPayload, "checkout.session.completed") {
		t.Fatalf("unexpected webhook args %q %q", gotSig, gotPayload)
	}

	req = httptest.NewRequest(http.MethodPost, "/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr = serve(h.Routes, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_signature" {
		t.Fatalf("unexpected code %s", code)
	}
}
