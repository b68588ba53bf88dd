package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const checkoutCollection = "checkoutSessions"

// CheckoutRepository persists checkout sessions and finalizes them into orders.
type CheckoutRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[checkoutDocument]
	orders   *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.CheckoutRepository = (*CheckoutRepository)(nil)

// NewCheckoutRepository constructs a Firestore-backed checkout repository.
func NewCheckoutRepository(provider *pfirestore.Provider) (*CheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout repository requires firestore provider")
	}
	return &CheckoutRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[checkoutDocument](provider, checkoutCollection, nil, nil),
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

func (r *CheckoutRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	return r.base.Create(ctx, session.ID, fromDomainCheckout(session))
}

func (r *CheckoutRepository) Update(ctx context.Context, session domain.CheckoutSession) error {
	return r.base.Set(ctx, session.ID, fromDomainCheckout(session))
}

func (r *CheckoutRepository) FindByID(ctx context.Context, checkoutID string) (domain.CheckoutSession, error) {
	doc, err := r.base.Get(ctx, checkoutID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return toDomainCheckout(doc), nil
}

// Finalize reads the session, lets fn derive the order, then creates the order and stores the
// finalized session in one transaction. A concurrent finalize retries against the committed
// session and is rejected by fn.
func (r *CheckoutRepository) Finalize(ctx context.Context, checkoutID string, fn repositories.FinalizeFunc) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("checkout repository: finalize func is required")
	}
	var created domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, checkoutID)
		if err != nil {
			return err
		}
		session, order, err := fn(toDomainCheckout(doc))
		if err != nil {
			return err
		}
		if err := r.orders.TxCreate(ctx, tx, order.ID, fromDomainOrder(order)); err != nil {
			return err
		}
		if err := r.base.TxSet(ctx, tx, session.ID, fromDomainCheckout(session)); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

type checkoutDocument struct {
	UserID          string             `firestore:"userId"`
	Items           []lineItemDocument `firestore:"items"`
	ShippingAddress addressDocument    `firestore:"shippingAddress"`
	PaymentMethod   string             `firestore:"paymentMethod"`
	TotalPrice      int64              `firestore:"totalPrice"`
	IsPaid          bool               `firestore:"isPaid"`
	PaidAt          *time.Time         `firestore:"paidAt"`
	PaymentStatus   string             `firestore:"paymentStatus,omitempty"`
	PaymentDetails  map[string]any     `firestore:"paymentDetails,omitempty"`
	IsFinalized     bool               `firestore:"isFinalized"`
	FinalizedAt     *time.Time         `firestore:"finalizedAt"`
	OrderID         string             `firestore:"orderId,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

func fromDomainCheckout(s domain.CheckoutSession) checkoutDocument {
	return checkoutDocument{
		UserID:          s.UserID,
		Items:           fromDomainLines(s.Items),
		ShippingAddress: fromDomainAddress(s.ShippingAddress),
		PaymentMethod:   s.PaymentMethod,
		TotalPrice:      s.TotalPrice,
		IsPaid:          s.IsPaid,
		PaidAt:          utcPtr(s.PaidAt),
		PaymentStatus:   s.PaymentStatus,
		PaymentDetails:  s.PaymentDetails.Clone(),
		IsFinalized:     s.IsFinalized,
		FinalizedAt:     utcPtr(s.FinalizedAt),
		OrderID:         s.OrderID,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
}

func toDomainCheckout(doc pfirestore.Document[checkoutDocument]) domain.CheckoutSession {
	d := doc.Data
	return domain.CheckoutSession{
		ID:              doc.ID,
		UserID:          d.UserID,
		Items:           toDomainLines(d.Items),
		ShippingAddress: toDomainAddress(d.ShippingAddress),
		PaymentMethod:   d.PaymentMethod,
		TotalPrice:      d.TotalPrice,
		IsPaid:          d.IsPaid,
		PaidAt:          utcPtr(d.PaidAt),
		PaymentStatus:   d.PaymentStatus,
		PaymentDetails:  domain.PaymentDetails(d.PaymentDetails),
		IsFinalized:     d.IsFinalized,
		FinalizedAt:     utcPtr(d.FinalizedAt),
		OrderID:         d.OrderID,
		CreatedAt:       orCreateTime(d.CreatedAt, doc.CreateTime),
		UpdatedAt:       orCreateTime(d.UpdatedAt, doc.UpdateTime),
	}
}
