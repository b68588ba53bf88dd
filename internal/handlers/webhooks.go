package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment processor notifications. Authenticity comes from the
// signature header, not from bearer tokens.
type WebhookHandlers struct {
	checkout services.CheckoutService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(checkout services.CheckoutService) *WebhookHandlers {
	return &WebhookHandlers{checkout: checkout}
}

// Routes registers POST /stripe under the webhooks mount.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	err = h.checkout.HandlePaymentWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader))
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, services.ErrCheckoutInvalidSignature):
		requestctx.Logger(ctx).Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	default:
		writeCheckoutError(ctx, w, err)
	}
}
