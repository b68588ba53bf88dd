package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// User is a registered storefront account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the identity used when the user acts on resources.
func (u User) Principal() Principal {
	return Principal{ID: u.ID, Role: u.Role}
}

// Product is a catalog entry owned by the admin that created it.
type Product struct {
	ID           string
	Name         string
	Description  string
	Price        int64
	Category     string
	Brand        string
	Gender       string
	Material     string
	Sizes        []string
	Colors       []string
	Images       []string
	CountInStock int
	SalesCount   int64
	CreatedBy    string
	IsPublished  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasSize reports whether the product is offered in the given size.
func (p Product) HasSize(size string) bool {
	return containsFold(p.Sizes, size)
}

// HasColor reports whether the product is offered in the given color.
func (p Product) HasColor(color string) bool {
	return containsFold(p.Colors, color)
}

// PrimaryImage returns the first image URL or an empty string.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Cart holds pre-purchase intent for exactly one registered user or one guest.
type Cart struct {
	ID         string
	UserID     string
	GuestID    string
	Items      []CartItem
	TotalPrice int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem is a single (product, size, color) line within a cart.
type CartItem struct {
	ProductID string
	Name      string
	Image     string
	Price     int64
	Size      string
	Color     string
	Quantity  int
}

// LineItem is the immutable snapshot stored on checkout sessions and orders.
type LineItem struct {
	ProductID string
	Name      string
	Image     string
	Price     int64
	Quantity  int
	Size      string
	Color     string
}

// Subtotal returns price multiplied by quantity.
func (l LineItem) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// Contact is the recipient sub-record of a shipping address.
type Contact struct {
	FirstName string
	LastName  string
	Phone     string
}

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	Address    string
	City       string
	PostalCode string
	Country    string
	Contact    Contact
}

// PaymentDetails is processor-owned metadata stored without interpretation.
type PaymentDetails map[string]any

// Clone returns a shallow copy of the details.
func (d PaymentDetails) Clone() PaymentDetails {
	if len(d) == 0 {
		return nil
	}
	out := make(PaymentDetails, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// CheckoutSession snapshots a purchase attempt. It moves Created -> Paid -> Finalized only.
type CheckoutSession struct {
	ID              string
	UserID          string
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      int64
	IsPaid          bool
	PaidAt          *time.Time
	PaymentStatus   string
	PaymentDetails  PaymentDetails
	IsFinalized     bool
	FinalizedAt     *time.Time
	OrderID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatus enumerates the fulfilment states an order may take.
type OrderStatus string

const (
	// OrderStatusProcessing is the initial status of every order.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled indicates the order will not be fulfilled.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// ParseOrderStatus resolves the canonical status for the supplied value.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	for _, status := range []OrderStatus{OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled} {
		if equalFold(string(status), value) {
			return status, true
		}
	}
	return "", false
}

// Order is the durable purchase record. Items never change after creation.
type Order struct {
	ID              string
	UserID          string
	CheckoutID      string
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      int64
	IsPaid          bool
	PaidAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	Status          OrderStatus
	PaymentResult   PaymentDetails
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductIDs returns the distinct product identifiers referenced by the order lines.
func (o Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ContainsAnyProduct reports whether at least one line references a product in owned.
func (o Order) ContainsAnyProduct(owned map[string]struct{}) bool {
	for _, item := range o.Items {
		if _, ok := owned[item.ProductID]; ok {
			return true
		}
	}
	return false
}

// Taxon is a keyed-list entry used for categories and brands.
type Taxon struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MonthlyRevenue is one calendar-month bucket of paid order revenue.
type MonthlyRevenue struct {
	Year  int
	Month time.Month
	Total int64
}
