package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeProviderName = "stripe"
	// MetadataCheckoutID carries the storefront checkout id through the Stripe session.
	MetadataCheckoutID = "checkout_id"
	metadataUserID     = "user_id"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	// WebhookTolerance bounds the accepted age of signed webhook payloads.
	WebhookTolerance time.Duration

	sessions stripeSessionAPI
}

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	sessions      stripeSessionAPI
	webhookSecret string
	tolerance     time.Duration
	clock         func() time.Time
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode. The storefront
// checkout id travels as metadata and client reference so webhooks can be correlated.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.CheckoutID) == "" {
		return CheckoutSession{}, errors.New("stripe: checkout id is required")
	}
	if len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: at least one line item is required")
	}

	metadata := map[string]string{MetadataCheckoutID: req.CheckoutID}
	if req.UserID != "" {
		metadata[metadataUserID] = req.UserID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.CheckoutID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	params.LineItems = make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if item.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		if item.SKU != "" {
			product.Metadata = map[string]string{"sku": item.SKU}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: product,
			},
		})
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":  session.ID,
		"checkoutId": req.CheckoutID,
	})

	expiresAt := p.clock().Add(30 * time.Minute).Unix()
	if session.ExpiresAt != 0 {
		expiresAt = session.ExpiresAt
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    stripeProviderName,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes checkout session events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if p == nil || p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
	default:
		return WebhookEvent{ID: event.ID, Type: string(event.Type)}, ErrUnhandledEvent
	}

	var session stripe.CheckoutSession
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return WebhookEvent{}, fmt.Errorf("stripe: event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}

	checkoutID := strings.TrimSpace(session.Metadata[MetadataCheckoutID])
	if checkoutID == "" {
		checkoutID = strings.TrimSpace(session.ClientReferenceID)
	}

	status := StatusPending
	switch {
	case event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = StatusFailed
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusPaid
	}

	details := map[string]any{
		"provider":      stripeProviderName,
		"sessionId":     session.ID,
		"eventId":       event.ID,
		"amountTotal":   session.AmountTotal,
		"currency":      string(session.Currency),
		"paymentStatus": string(session.PaymentStatus),
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		details["paymentIntent"] = session.PaymentIntent.ID
	}

	return WebhookEvent{
		ID:            event.ID,
		Type:          string(event.Type),
		CheckoutID:    checkoutID,
		Status:        status,
		PaymentStatus: string(session.PaymentStatus),
		Details:       details,
	}, nil
}
