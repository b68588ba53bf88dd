package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	userCollection       = "users"
	userEmailsCollection = "userEmails"
)

// UserRepository persists accounts. Email uniqueness is enforced through an index collection
// keyed by a digest of the lower-cased address and maintained in the same transaction as the user.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[userDocument]
	emails   *pfirestore.BaseRepository[emailIndexDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
		emails:   pfirestore.NewBaseRepository[emailIndexDocument](provider, userEmailsCollection, nil, nil),
	}, nil
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	email := emailKey(user.Email)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.ensureEmailFree(ctx, tx, email, user.ID); err != nil {
			return err
		}
		if err := r.emails.TxCreate(ctx, tx, email, emailIndexDocument{UserID: user.ID}); err != nil {
			return err
		}
		return r.base.TxCreate(ctx, tx, user.ID, fromDomainUser(user))
	})
}

func (r *UserRepository) Update(ctx context.Context, user domain.User, previousEmail string) error {
	email, previous := emailKey(user.Email), emailKey(previousEmail)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := r.base.TxGet(ctx, tx, user.ID); err != nil {
			return err
		}
		if email != previous {
			if err := r.ensureEmailFree(ctx, tx, email, user.ID); err != nil {
				return err
			}
			if previous != "" {
				ref, err := r.emails.DocumentRef(ctx, previous)
				if err != nil {
					return err
				}
				if err := tx.Delete(ref); err != nil {
					return pfirestore.WrapError("userEmails.tx_delete", err)
				}
			}
			if err := r.emails.TxSet(ctx, tx, email, emailIndexDocument{UserID: user.ID}); err != nil {
				return err
			}
		}
		return r.base.TxSet(ctx, tx, user.ID, fromDomainUser(user))
	})
}

func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, userID)
		if err != nil {
			return err
		}
		userRef, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		if key := emailKey(doc.Data.Email); key != "" {
			emailRef, err := r.emails.DocumentRef(ctx, key)
			if err != nil {
				return err
			}
			if err := tx.Delete(emailRef); err != nil {
				return pfirestore.WrapError("userEmails.tx_delete", err)
			}
		}
		return pfirestore.WrapError("users.tx_delete", tx.Delete(userRef))
	})
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	key := emailKey(email)
	if key == "" {
		return domain.User{}, pfirestore.NotFound("users.find_by_email", "user")
	}
	index, err := r.emails.Get(ctx, key)
	if err != nil {
		return domain.User{}, err
	}
	return r.FindByID(ctx, index.Data.UserID)
}

func (r *UserRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	offset, size, err := pagination.Window(pager)
	if err != nil {
		return domain.CursorPage[domain.User]{}, err
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.User]{}, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, toDomainUser(doc))
	}
	return pagination.Trim(users, offset, size), nil
}

func (r *UserRepository) ensureEmailFree(ctx context.Context, tx *firestore.Transaction, email, userID string) error {
	if email == "" {
		return pfirestore.WrapError("userEmails.check", errors.New("email is required"))
	}
	existing, err := r.emails.TxGet(ctx, tx, email)
	switch {
	case err == nil:
		if existing.Data.UserID != userID {
			return pfirestore.Conflict("users.email", "email")
		}
		return nil
	case isNotFound(err):
		return nil
	default:
		return err
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailKey derives the userEmails document id. Valid addresses may contain '/' or look like
// reserved __name__ ids, so the raw address is never used as an id.
func emailKey(email string) string {
	email = normaliseEmail(email)
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

type emailIndexDocument struct {
	UserID string `firestore:"userId"`
}

type userDocument struct {
	Name         string    `firestore:"name"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	Role         string    `firestore:"role"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func fromDomainUser(user domain.User) userDocument {
	return userDocument{
		Name:         user.Name,
		Email:        normaliseEmail(user.Email),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.UpdatedAt.UTC(),
	}
}

func toDomainUser(doc pfirestore.Document[userDocument]) domain.User {
	role, ok := domain.ParseRole(doc.Data.Role)
	if !ok {
		role = domain.RoleUser
	}
	user := domain.User{
		ID:           doc.ID,
		Name:         doc.Data.Name,
		Email:        doc.Data.Email,
		PasswordHash: doc.Data.PasswordHash,
		Role:         role,
		CreatedAt:    doc.Data.CreatedAt,
		UpdatedAt:    doc.Data.UpdatedAt,
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
