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

const (
	categoryCollection = "categories"
	brandCollection    = "brands"
)

// TaxonRepository stores a keyed list such as categories or brands. A sibling collection
// "<collection>Names" keyed by the lower-cased name keeps names unique.
type TaxonRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[taxonDocument]
	names    *pfirestore.BaseRepository[nameIndexDocument]
}

var _ repositories.TaxonRepository = (*TaxonRepository)(nil)

// NewTaxonRepository constructs a repository over collection.
func NewTaxonRepository(provider *pfirestore.Provider, collection string) (*TaxonRepository, error) {
	if provider == nil {
		return nil, errors.New("taxon repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("taxon repository requires collection name")
	}
	return &TaxonRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[taxonDocument](provider, collection, nil, nil),
		names:    pfirestore.NewBaseRepository[nameIndexDocument](provider, collection+"Names", nil, nil),
	}, nil
}

func (r *TaxonRepository) Create(ctx context.Context, taxon domain.Taxon) error {
	key := nameKey(taxon.Name)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.ensureNameFree(ctx, tx, key, taxon.ID); err != nil {
			return err
		}
		if err := r.names.TxCreate(ctx, tx, key, nameIndexDocument{TaxonID: taxon.ID}); err != nil {
			return err
		}
		return r.base.TxCreate(ctx, tx, taxon.ID, fromDomainTaxon(taxon))
	})
}

func (r *TaxonRepository) Update(ctx context.Context, taxon domain.Taxon, previousName string) error {
	key, previous := nameKey(taxon.Name), nameKey(previousName)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := r.base.TxGet(ctx, tx, taxon.ID); err != nil {
			return err
		}
		if key != previous {
			if err := r.ensureNameFree(ctx, tx, key, taxon.ID); err != nil {
				return err
			}
			if previous != "" {
				ref, err := r.names.DocumentRef(ctx, previous)
				if err != nil {
					return err
				}
				if err := tx.Delete(ref); err != nil {
					return pfirestore.WrapError(r.names.Collection()+".tx_delete", err)
				}
			}
			if err := r.names.TxSet(ctx, tx, key, nameIndexDocument{TaxonID: taxon.ID}); err != nil {
				return err
			}
		}
		return r.base.TxSet(ctx, tx, taxon.ID, fromDomainTaxon(taxon))
	})
}

func (r *TaxonRepository) Delete(ctx context.Context, taxonID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, taxonID)
		if err != nil {
			return err
		}
		if key := nameKey(doc.Data.Name); key != "" {
			ref, err := r.names.DocumentRef(ctx, key)
			if err != nil {
				return err
			}
			if err := tx.Delete(ref); err != nil {
				return pfirestore.WrapError(r.names.Collection()+".tx_delete", err)
			}
		}
		ref, err := r.base.DocumentRef(ctx, taxonID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError(r.base.Collection()+".tx_delete", tx.Delete(ref))
	})
}

func (r *TaxonRepository) FindByID(ctx context.Context, taxonID string) (domain.Taxon, error) {
	doc, err := r.base.Get(ctx, taxonID)
	if err != nil {
		return domain.Taxon{}, err
	}
	return toDomainTaxon(doc), nil
}

func (r *TaxonRepository) List(ctx context.Context) ([]domain.Taxon, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	taxa := make([]domain.Taxon, 0, len(docs))
	for _, doc := range docs {
		taxa = append(taxa, toDomainTaxon(doc))
	}
	return taxa, nil
}

func (r *TaxonRepository) ensureNameFree(ctx context.Context, tx *firestore.Transaction, key, taxonID string) error {
	if key == "" {
		return pfirestore.WrapError(r.names.Collection()+".check", errors.New("name is required"))
	}
	existing, err := r.names.TxGet(ctx, tx, key)
	switch {
	case err == nil:
		if existing.Data.TaxonID != taxonID {
			return pfirestore.Conflict(r.base.Collection()+".name", "name")
		}
		return nil
	case isNotFound(err):
		return nil
	default:
		return err
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type nameIndexDocument struct {
	TaxonID string `firestore:"taxonId"`
}

type taxonDocument struct {
	Name      string    `firestore:"name"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func fromDomainTaxon(t domain.Taxon) taxonDocument {
	return taxonDocument{Name: strings.TrimSpace(t.Name), CreatedAt: t.CreatedAt.UTC(), UpdatedAt: t.UpdatedAt.UTC()}
}

func toDomainTaxon(doc pfirestore.Document[taxonDocument]) domain.Taxon {
	return domain.Taxon{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		CreatedAt: orCreateTime(doc.Data.CreatedAt, doc.CreateTime),
		UpdatedAt: orCreateTime(doc.Data.UpdatedAt, doc.UpdateTime),
	}
}
