package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog entries. Equality filters are pushed down to Firestore;
// range, membership and text matching happen in the service layer.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.base.Create(ctx, product.ID, fromDomainProduct(product))
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if _, err := r.base.Get(ctx, product.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, product.ID, fromDomainProduct(product))
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	return r.base.Delete(ctx, productID)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc), nil
}

func (r *ProductRepository) Search(ctx context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if v := strings.TrimSpace(filter.Category); v != "" {
			q = q.Where("categoryKey", "==", strings.ToLower(v))
		}
		if v := strings.TrimSpace(filter.Gender); v != "" {
			q = q.Where("genderKey", "==", strings.ToLower(v))
		}
		if v := strings.TrimSpace(filter.Brand); v != "" {
			q = q.Where("brandKey", "==", strings.ToLower(v))
		}
		if v := strings.TrimSpace(filter.Material); v != "" {
			q = q.Where("materialKey", "==", strings.ToLower(v))
		}
		if v := strings.TrimSpace(filter.CreatedBy); v != "" {
			q = q.Where("createdBy", "==", v)
		}
		if filter.PublishedOnly {
			q = q.Where("isPublished", "==", true)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, toDomainProduct(doc))
	}
	return products, nil
}

func (r *ProductRepository) OwnedIDs(ctx context.Context, ownerID string) ([]string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, nil
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdBy", "==", ownerID).Select()
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func (r *ProductRepository) IncrementSales(ctx context.Context, productID string, quantity int64) error {
	if quantity <= 0 {
		return nil
	}
	return r.base.Update(ctx, productID, []firestore.Update{
		{Path: "salesCount", Value: firestore.Increment(quantity)},
	})
}

type productDocument struct {
	Name         string    `firestore:"name"`
	Description  string    `firestore:"description"`
	Price        int64     `firestore:"price"`
	Category     string    `firestore:"category"`
	CategoryKey  string    `firestore:"categoryKey"`
	Brand        string    `firestore:"brand"`
	BrandKey     string    `firestore:"brandKey"`
	Gender       string    `firestore:"gender"`
	GenderKey    string    `firestore:"genderKey"`
	Material     string    `firestore:"material"`
	MaterialKey  string    `firestore:"materialKey"`
	Sizes        []string  `firestore:"sizes"`
	Colors       []string  `firestore:"colors"`
	Images       []string  `firestore:"images"`
	CountInStock int       `firestore:"countInStock"`
	SalesCount   int64     `firestore:"salesCount"`
	CreatedBy    string    `firestore:"createdBy"`
	IsPublished  bool      `firestore:"isPublished"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(p domain.Product) productDocument {
	key := func(v string) string { return strings.ToLower(strings.TrimSpace(v)) }
	return productDocument{
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price,
		Category:     p.Category,
		CategoryKey:  key(p.Category),
		Brand:        p.Brand,
		BrandKey:     key(p.Brand),
		Gender:       p.Gender,
		GenderKey:    key(p.Gender),
		Material:     p.Material,
		MaterialKey:  key(p.Material),
		Sizes:        p.Sizes,
		Colors:       p.Colors,
		Images:       p.Images,
		CountInStock: p.CountInStock,
		SalesCount:   p.SalesCount,
		CreatedBy:    p.CreatedBy,
		IsPublished:  p.IsPublished,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
}

func toDomainProduct(doc pfirestore.Document[productDocument]) domain.Product {
	d := doc.Data
	return domain.Product{
		ID:           doc.ID,
		Name:         d.Name,
		Description:  d.Description,
		Price:        d.Price,
		Category:     d.Category,
		Brand:        d.Brand,
		Gender:       d.Gender,
		Material:     d.Material,
		Sizes:        d.Sizes,
		Colors:       d.Colors,
		Images:       d.Images,
		CountInStock: d.CountInStock,
		SalesCount:   d.SalesCount,
		CreatedBy:    d.CreatedBy,
		IsPublished:  d.IsPublished,
		CreatedAt:    orCreateTime(d.CreatedAt, doc.CreateTime),
		UpdatedAt:    orCreateTime(d.UpdatedAt, doc.UpdateTime),
	}
}
