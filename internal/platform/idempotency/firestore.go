package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore persists records in a Firestore collection keyed by the hashed idempotency key.
type FirestoreStore struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[recordDocument]
}

// NewFirestoreStore constructs a FirestoreStore. An empty collection uses the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{
		provider: provider,
		base:     pfirestore.NewBaseRepository[recordDocument](provider, collection, nil, nil),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = ttlOrDefault(ttl)
	id := documentID(key)

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *Record
		doc, err := s.base.TxGet(ctx, tx, id)
		switch {
		case err == nil:
			record := doc.Data.toRecord()
			existing = &record
		case !isNotFound(err):
			return err
		}

		res, write, err := reserve(existing, key, fingerprint, now, ttl)
		if err != nil {
			return err
		}
		result = res
		if write == nil {
			return nil
		}
		return s.base.TxSet(ctx, tx, id, fromRecord(*write))
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = ttlOrDefault(ttl)
	id := documentID(key)

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint}
		doc, err := s.base.TxGet(ctx, tx, id)
		switch {
		case err == nil:
			record = doc.Data.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !isNotFound(err):
			return err
		}
		return s.base.TxSet(ctx, tx, id, fromRecord(completeRecord(record, resp, now, ttl)))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.base.Delete(ctx, documentID(key))
}

// PurgeExpired deletes up to limit expired records in one batch.
func (s *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		ref, err := s.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		job, err := writer.Delete(ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

func isNotFound(err error) bool {
	var repoErr interface{ IsNotFound() bool }
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type recordDocument struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Status         string              `firestore:"status"`
	ResponseStatus int                 `firestore:"responseStatus"`
	ResponseHeader map[string][]string `firestore:"responseHeader,omitempty"`
	ResponseBody   []byte              `firestore:"responseBody,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ExpiresAt      time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) recordDocument {
	return recordDocument{
		Key:            r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         string(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseHeader: r.ResponseHeader,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (d recordDocument) toRecord() Record {
	return Record{
		Key:            d.Key,
		Fingerprint:    d.Fingerprint,
		Status:         Status(d.Status),
		ResponseStatus: d.ResponseStatus,
		ResponseHeader: d.ResponseHeader,
		ResponseBody:   d.ResponseBody,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ExpiresAt:      d.ExpiresAt,
	}
}
