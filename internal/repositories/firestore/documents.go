package firestore

import (
	"time"

	"github.com/storefront/api/internal/domain"
)

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Size      string `firestore:"size"`
	Color     string `firestore:"color"`
}

type contactDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Phone     string `firestore:"phone"`
}

type addressDocument struct {
	Address    string          `firestore:"address"`
	City       string          `firestore:"city"`
	PostalCode string          `firestore:"postalCode"`
	Country    string          `firestore:"country"`
	Contact    contactDocument `firestore:"contact"`
}

func fromDomainLines(items []domain.LineItem) []lineItemDocument {
	out := make([]lineItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return out
}

func toDomainLines(docs []lineItemDocument) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.LineItem{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			Image:     doc.Image,
			Price:     doc.Price,
			Quantity:  doc.Quantity,
			Size:      doc.Size,
			Color:     doc.Color,
		})
	}
	return out
}

func fromDomainAddress(addr domain.ShippingAddress) addressDocument {
	return addressDocument{
		Address:    addr.Address,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Contact: contactDocument{
			FirstName: addr.Contact.FirstName,
			LastName:  addr.Contact.LastName,
			Phone:     addr.Contact.Phone,
		},
	}
}

func toDomainAddress(doc addressDocument) domain.ShippingAddress {
	return domain.ShippingAddress{
		Address:    doc.Address,
		City:       doc.City,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Contact: domain.Contact{
			FirstName: doc.Contact.FirstName,
			LastName:  doc.Contact.LastName,
			Phone:     doc.Contact.Phone,
		},
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func orCreateTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
