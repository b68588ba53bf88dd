package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const paidStatus = "paid"

var (
	// ErrCheckoutInvalidInput indicates the submitted session or status is malformed.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutNotFound indicates the session does not exist.
	ErrCheckoutNotFound = errors.New("checkout service: checkout session not found")
	// ErrCheckoutNotPaid rejects finalizing a session that has not been paid.
	ErrCheckoutNotPaid = errors.New("checkout session is not paid")
	// ErrCheckoutAlreadyFinalized rejects a second finalization.
	ErrCheckoutAlreadyFinalized = errors.New("checkout session already finalized")
	// ErrCheckoutAlreadyPaid rejects opening a payment session for a paid checkout.
	ErrCheckoutAlreadyPaid = errors.New("checkout session already paid")
	// ErrCheckoutInvalidSignature indicates a webhook failed signature verification.
	ErrCheckoutInvalidSignature = errors.New("checkout service: invalid webhook signature")
	// ErrCheckoutUnavailable indicates the store or payment processor could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")
)

var checkoutRepoErrors = repoErrors{notFound: ErrCheckoutNotFound, conflict: ErrCheckoutUnavailable, unavailable: ErrCheckoutUnavailable}

type salesRecorder interface {
	IncrementSales(ctx context.Context, productID string, quantity int64) error
}

type userFinder interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// CheckoutServiceDeps wires the collaborators of the checkout service. Sales, Payments, Events
// and Users are optional.
type CheckoutServiceDeps struct {
	Checkouts repositories.CheckoutRepository
	Carts     repositories.CartRepository
	Sales     salesRecorder
	Payments  payments.Provider
	Events    OrderEventPublisher
	Users     userFinder

	Currency   string
	SuccessURL string
	CancelURL  string

	Clock               func() time.Time
	Logger              func(context.Context, string, map[string]any)
	CheckoutIDGenerator func() string
	OrderIDGenerator    func() string
}

type checkoutService struct {
	checkouts repositories.CheckoutRepository
	carts     repositories.CartRepository
	sales     salesRecorder
	payments  payments.Provider
	events    OrderEventPublisher
	users     userFinder

	currency   string
	successURL string
	cancelURL  string

	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
	newCheckoutID func() string
	newOrderID    func() string
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Checkouts == nil {
		return nil, errors.New("checkout service: checkout repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	checkoutIDs := deps.CheckoutIDGenerator
	if checkoutIDs == nil {
		checkoutIDs = func() string { return domain.NewID(domain.CheckoutIDPrefix) }
	}
	orderIDs := deps.OrderIDGenerator
	if orderIDs == nil {
		orderIDs = func() string { return domain.NewID(domain.OrderIDPrefix) }
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &checkoutService{
		checkouts:     deps.Checkouts,
		carts:         deps.Carts,
		sales:         deps.Sales,
		payments:      deps.Payments,
		events:        deps.Events,
		users:         deps.Users,
		currency:      currency,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
		newCheckoutID: checkoutIDs,
		newOrderID:    orderIDs,
	}, nil
}

// CreateSession validates and snapshots the purchase attempt. Nothing is stored when any field is invalid.
func (s *checkoutService) CreateSession(ctx context.Context, caller Principal, cmd CreateCheckoutCommand) (CheckoutSession, error) {
	if caller.Anonymous() {
		return CheckoutSession{}, domain.ErrForbidden
	}
	items, err := validateLineItems(ErrCheckoutInvalidInput, cmd.Items)
	if err != nil {
		return CheckoutSession{}, err
	}
	address, err := validateShippingAddress(ErrCheckoutInvalidInput, cmd.ShippingAddress)
	if err != nil {
		return CheckoutSession{}, err
	}
	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		return CheckoutSession{}, invalidField(ErrCheckoutInvalidInput, "paymentMethod", "paymentMethod is required")
	}
	if cmd.TotalPrice < 0 {
		return CheckoutSession{}, invalidField(ErrCheckoutInvalidInput, "totalPrice", "totalPrice must be zero or greater")
	}

	now := s.now()
	session := CheckoutSession{
		ID:              s.newCheckoutID(),
		UserID:          caller.ID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   method,
		TotalPrice:      cmd.TotalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.checkouts.Insert(ctx, session); err != nil {
		return CheckoutSession{}, checkoutRepoErrors.translate(err)
	}
	s.logger(ctx, "checkout.created", map[string]any{"checkoutID": session.ID, "userID": caller.ID, "items": len(items)})
	return session, nil
}

func (s *checkoutService) GetSession(ctx context.Context, caller Principal, checkoutID string) (CheckoutSession, error) {
	return s.loadOwned(ctx, caller, checkoutID)
}

// MarkPaid records the payment confirmation. Only the status "paid" (any case) is accepted.
func (s *checkoutService) MarkPaid(ctx context.Context, caller Principal, cmd MarkCheckoutPaidCommand) (CheckoutSession, error) {
	status := textutil.Fold(cmd.PaymentStatus)
	if status != paidStatus {
		return CheckoutSession{}, invalidField(ErrCheckoutInvalidInput, "paymentStatus", `paymentStatus must be "paid"`)
	}
	session, err := s.loadOwned(ctx, caller, cmd.CheckoutID)
	if err != nil {
		return CheckoutSession{}, err
	}
	return s.markPaid(ctx, session, status, cmd.PaymentDetails)
}

func (s *checkoutService) markPaid(ctx context.Context, session CheckoutSession, status string, details map[string]any) (CheckoutSession, error) {
	if session.IsFinalized {
		return CheckoutSession{}, ErrCheckoutAlreadyFinalized
	}
	now := s.now()
	if !session.IsPaid || session.PaidAt == nil {
		session.PaidAt = &now
	}
	session.IsPaid = true
	session.PaymentStatus = status
	session.PaymentDetails = domain.PaymentDetails(details).Clone()
	session.UpdatedAt = now
	if err := s.checkouts.Update(ctx, session); err != nil {
		return CheckoutSession{}, checkoutRepoErrors.translate(err)
	}
	s.logger(ctx, "checkout.paid", map[string]any{"checkoutID": session.ID, "userID": session.UserID})
	return session, nil
}

// Finalize converts a paid session into an order exactly once, then clears the owner's cart.
func (s *checkoutService) Finalize(ctx context.Context, caller Principal, checkoutID string) (Order, error) {
	checkoutID, err := normaliseCheckoutID(checkoutID)
	if err != nil {
		return Order{}, err
	}
	order, err := s.checkouts.Finalize(ctx, checkoutID, func(session CheckoutSession) (CheckoutSession, Order, error) {
		if err := domain.Authorize(caller, domain.Requirement{OwnerID: domain.OwnedBy(session.UserID)}); err != nil {
			return CheckoutSession{}, Order{}, err
		}
		if !session.IsPaid {
			return CheckoutSession{}, Order{}, ErrCheckoutNotPaid
		}
		if session.IsFinalized {
			return CheckoutSession{}, Order{}, ErrCheckoutAlreadyFinalized
		}
		now := s.now()
		order := Order{
			ID:              s.newOrderID(),
			UserID:          session.UserID,
			CheckoutID:      session.ID,
			Items:           append([]LineItem(nil), session.Items...),
			ShippingAddress: session.ShippingAddress,
			PaymentMethod:   session.PaymentMethod,
			TotalPrice:      session.TotalPrice,
			IsPaid:          true,
			PaidAt:          session.PaidAt,
			Status:          domain.OrderStatusProcessing,
			PaymentResult:   session.PaymentDetails.Clone(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		session.IsFinalized = true
		session.FinalizedAt = &now
		session.OrderID = order.ID
		session.UpdatedAt = now
		return session, order, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden), errors.Is(err, ErrCheckoutNotPaid), errors.Is(err, ErrCheckoutAlreadyFinalized):
			return Order{}, err
		}
		return Order{}, checkoutRepoErrors.translate(err)
	}
	s.logger(ctx, "checkout.finalized", map[string]any{"checkoutID": checkoutID, "orderID": order.ID, "userID": order.UserID})

	if cartID := domain.CartID(order.UserID, ""); cartID != "" {
		if err := s.carts.Delete(ctx, cartID); err != nil && !isRepoNotFound(err) {
			s.logger(ctx, "checkout.cart_delete_failed", map[string]any{"cartID": cartID, "error": err.Error()})
		}
	}
	s.recordSales(ctx, order)
	publishOrderEvent(ctx, s.events, s.logger, NewOrderEvent(OrderEventCreated, order, s.now()))
	return order, nil
}

// CreatePaymentSession opens a processor checkout for the unpaid session and returns the redirect.
func (s *checkoutService) CreatePaymentSession(ctx context.Context, caller Principal, checkoutID string) (payments.CheckoutSession, error) {
	if s.payments == nil {
		return payments.CheckoutSession{}, fmt.Errorf("%w: payment processor not configured", ErrCheckoutUnavailable)
	}
	session, err := s.loadOwned(ctx, caller, checkoutID)
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	if session.IsFinalized {
		return payments.CheckoutSession{}, ErrCheckoutAlreadyFinalized
	}
	if session.IsPaid {
		return payments.CheckoutSession{}, ErrCheckoutAlreadyPaid
	}

	req := payments.CheckoutSessionRequest{
		CheckoutID:     session.ID,
		UserID:         session.UserID,
		Currency:       s.currency,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: "checkout-" + session.ID,
		Items:          make([]payments.CheckoutLineItem, 0, len(session.Items)),
	}
	if s.users != nil {
		if user, err := s.users.FindByID(ctx, session.UserID); err == nil {
			req.CustomerEmail = user.Email
		}
	}
	for _, item := range session.Items {
		req.Items = append(req.Items, payments.CheckoutLineItem{
			Name:        item.Name,
			Description: variantLabel(item),
			ImageURL:    item.Image,
			SKU:         item.ProductID,
			Quantity:    int64(item.Quantity),
			Amount:      item.Price,
		})
	}
	result, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	s.logger(ctx, "checkout.payment_session_created", map[string]any{"checkoutID": session.ID, "provider": result.Provider, "sessionID": result.ID})
	return result, nil
}

// HandlePaymentWebhook applies a verified processor notification. Events that cannot advance
// a session are acknowledged without effect.
func (s *checkoutService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.payments == nil {
		return fmt.Errorf("%w: payment processor not configured", ErrCheckoutUnavailable)
	}
	event, err := s.payments.ParseWebhook(payload, signature)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrUnhandledEvent):
		return nil
	case errors.Is(err, payments.ErrInvalidSignature):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	fields := map[string]any{"eventID": event.ID, "type": event.Type, "checkoutID": event.CheckoutID, "status": string(event.Status)}
	if event.Status != payments.StatusPaid {
		s.logger(ctx, "checkout.webhook_ignored", fields)
		return nil
	}
	checkoutID, err := normaliseCheckoutID(event.CheckoutID)
	if err != nil {
		s.logger(ctx, "checkout.webhook_ignored", fields)
		return nil
	}
	session, err := s.checkouts.FindByID(ctx, checkoutID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "checkout.webhook_unknown_session", fields)
			return nil
		}
		return checkoutRepoErrors.translate(err)
	}
	if session.IsPaid || session.IsFinalized {
		return nil
	}
	if _, err := s.markPaid(ctx, session, paidStatus, event.Details); err != nil {
		return err
	}
	s.logger(ctx, "checkout.webhook_applied", fields)
	return nil
}

func (s *checkoutService) loadOwned(ctx context.Context, caller Principal, checkoutID string) (CheckoutSession, error) {
	checkoutID, err := normaliseCheckoutID(checkoutID)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := s.checkouts.FindByID(ctx, checkoutID)
	if err != nil {
		return CheckoutSession{}, checkoutRepoErrors.translate(err)
	}
	if err := domain.Authorize(caller, domain.Requirement{OwnerID: domain.OwnedBy(session.UserID)}); err != nil {
		return CheckoutSession{}, err
	}
	return session, nil
}

func (s *checkoutService) recordSales(ctx context.Context, order Order) {
	if s.sales == nil {
		return
	}
	for _, item := range order.Items {
		if err := s.sales.IncrementSales(ctx, item.ProductID, int64(item.Quantity)); err != nil {
			s.logger(ctx, "checkout.sales_increment_failed", map[string]any{"productID": item.ProductID, "error": err.Error()})
		}
	}
}

func normaliseCheckoutID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !domain.ValidID(domain.CheckoutIDPrefix, id) {
		return "", invalidField(ErrCheckoutInvalidInput, "id", "invalid checkout id")
	}
	return id, nil
}

func variantLabel(item LineItem) string {
	parts := make([]string, 0, 2)
	if item.Size != "" {
		parts = append(parts, "Size "+item.Size)
	}
	if item.Color != "" {
		parts = append(parts, "Color "+item.Color)
	}
	return strings.Join(parts, ", ")
}

// validateLineItems checks every line and names the first offending field, e.g. items[1].size.
func validateLineItems(kind error, items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, invalidField(kind, "items", "at least one item is required")
	}
	out := make([]LineItem, len(items))
	for i, item := range items {
		field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		item.Image = strings.TrimSpace(item.Image)
		item.Size = strings.TrimSpace(item.Size)
		item.Color = strings.TrimSpace(item.Color)
		switch {
		case !domain.ValidID(domain.ProductIDPrefix, item.ProductID):
			return nil, invalidField(kind, field("productId"), "invalid product id")
		case item.Name == "":
			return nil, invalidField(kind, field("name"), "name is required")
		case item.Price < 0:
			return nil, invalidField(kind, field("price"), "price must be zero or greater")
		case item.Quantity < 1:
			return nil, invalidField(kind, field("quantity"), "quantity must be at least 1")
		case item.Size == "":
			return nil, invalidField(kind, field("size"), "size is required")
		case item.Color == "":
			return nil, invalidField(kind, field("color"), "color is required")
		}
		out[i] = item
	}
	return out, nil
}

func validateShippingAddress(kind error, address ShippingAddress) (ShippingAddress, error) {
	address.Address = strings.TrimSpace(address.Address)
	address.City = strings.TrimSpace(address.City)
	address.PostalCode = strings.TrimSpace(address.PostalCode)
	address.Country = strings.TrimSpace(address.Country)
	address.Contact.FirstName = strings.TrimSpace(address.Contact.FirstName)
	address.Contact.LastName = strings.TrimSpace(address.Contact.LastName)
	address.Contact.Phone = strings.TrimSpace(address.Contact.Phone)
	required := []struct {
		field string
		value string
	}{
		{"shippingAddress.address", address.Address},
		{"shippingAddress.city", address.City},
		{"shippingAddress.postalCode", address.PostalCode},
		{"shippingAddress.country", address.Country},
		{"shippingAddress.contact.firstName", address.Contact.FirstName},
		{"shippingAddress.contact.lastName", address.Contact.LastName},
		{"shippingAddress.contact.phone", address.Contact.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return ShippingAddress{}, invalidField(kind, r.field, "field is required")
		}
	}
	return address, nil
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if _, err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event_publish_failed", map[string]any{"orderID": event.OrderID, "type": event.Type, "error": err.Error()})
	}
}
