package auth

import (
	"context"

	"github.com/storefront/api/internal/domain"
)

// Identity captures the authenticated caller extracted from a bearer token.
type Identity struct {
	UID   string
	Email string
	Role  domain.Role
}

// Principal converts the identity into the explicit principal passed to services.
func (i *Identity) Principal() domain.Principal {
	if i == nil {
		return domain.Principal{}
	}
	return domain.Principal{ID: i.UID, Role: i.Role}
}

type contextKey string

const identityContextKey contextKey = "storefront/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// PrincipalFromContext returns the caller principal, or the anonymous principal.
func PrincipalFromContext(ctx context.Context) domain.Principal {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.Principal{}
	}
	return identity.Principal()
}
