package payments

import (
	"context"
	"errors"
)

// Status enumerates the normalised payment states reported by the processor.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or processor confirmation.
	StatusPending Status = "pending"
	// StatusPaid indicates the processor reports the payment as collected.
	StatusPaid Status = "paid"
	// StatusFailed indicates the processor reports a failure.
	StatusFailed Status = "failed"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUnhandledEvent is returned for webhook events the API does not act upon.
	ErrUnhandledEvent = errors.New("payments: unhandled webhook event")
)

// CheckoutLineItem describes a single line item to include in a processor checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	ImageURL    string
	SKU         string
	Quantity    int64
	Amount      int64
}

// CheckoutSessionRequest captures the payload required to create a processor checkout session.
type CheckoutSessionRequest struct {
	CheckoutID     string
	UserID         string
	CustomerEmail  string
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is the processor session returned to the client for redirection.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   int64
}

// WebhookEvent is a verified processor notification about a checkout.
type WebhookEvent struct {
	ID         string
	Type       string
	CheckoutID string
	Status     Status
	// PaymentStatus is the processor's raw status string.
	PaymentStatus string
	Details       map[string]any
}

// Provider defines the contract for payment processor adapters.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// ParseWebhook verifies signature over payload and decodes the checkout notification.
	// Events without checkout semantics yield ErrUnhandledEvent.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
