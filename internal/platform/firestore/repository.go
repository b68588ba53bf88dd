package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers over one collection. Every error it returns is
// either a context error or a *Error.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = func(value T) (any, error) { return value, nil }
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Collection returns the collection name.
func (r *BaseRepository[T]) Collection() string { return r.collection }

// Set upserts value under id.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, payload); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Create writes value under id, failing with a conflict when the document exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, payload); err != nil {
		return WrapError(r.op("create"), err)
	}
	return nil
}

// Update applies field updates; a missing document yields a not-found error.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Update(ctx, updates); err != nil {
		return WrapError(r.op("update"), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Get fetches the document by ID.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(snapshot)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.decodeDocument(snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
}

// First returns the first document matched by build, or a not-found error.
func (r *BaseRepository[T]) First(ctx context.Context, what string, build QueryBuilder) (Document[T], error) {
	docs, err := r.Query(ctx, func(q firestore.Query) firestore.Query {
		if build != nil {
			q = build(q)
		}
		return q.Limit(1)
	})
	if err != nil {
		return Document[T]{}, err
	}
	if len(docs) == 0 {
		return Document[T]{}, NotFound(r.op("first"), what)
	}
	return docs[0], nil
}

// TxGet reads the document inside tx.
func (r *BaseRepository[T]) TxGet(ctx context.Context, tx *firestore.Transaction, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := tx.Get(doc)
	if err != nil {
		return Document[T]{}, WrapError(r.op("tx_get"), err)
	}
	return r.decodeDocument(snapshot)
}

// TxSet stages an upsert of value inside tx.
func (r *BaseRepository[T]) TxSet(ctx context.Context, tx *firestore.Transaction, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	return WrapError(r.op("tx_set"), tx.Set(doc, payload))
}

// TxCreate stages a create of value inside tx; the commit fails if the document exists.
func (r *BaseRepository[T]) TxCreate(ctx context.Context, tx *firestore.Transaction, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	return WrapError(r.op("tx_create"), tx.Create(doc, payload))
}

// DocumentRef exposes the underlying document reference.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) prepare(ctx context.Context, id string, value T) (*firestore.DocumentRef, any, error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := r.encode(value)
	if err != nil {
		return nil, nil, WrapError(r.op("encode"), fmt.Errorf("document %s: %w", id, err))
	}
	return doc, payload, nil
}

func (r *BaseRepository[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(snapshot)
	if err != nil {
		return Document[T]{}, WrapError(r.op("decode"), fmt.Errorf("document %s: %w", snapshot.Ref.ID, err))
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil || r.collection == "" {
		return nil, WrapError("firestore.collection", errors.New("repository is not configured"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{op: r.op("client"), err: err, unavailable: true}
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return r.collection + "." + action
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
