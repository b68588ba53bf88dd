package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

// ErrIdentityGone is returned by an IdentityLoader when the token subject no longer exists.
var ErrIdentityGone = errors.New("auth: identity no longer exists")

// IdentityLoader refreshes the identity from the user store so role changes and deletions
// take effect before the token expires.
type IdentityLoader func(ctx context.Context, uid string) (*Identity, error)

// Authenticator wires bearer token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	loader   IdentityLoader
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIdentityLoader re-reads the caller from the store on each authenticated request.
func WithIdentityLoader(loader IdentityLoader) Option {
	return func(a *Authenticator) {
		a.loader = loader
	}
}

// WithVerificationTimeout bounds verification and identity loading.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid bearer token (401) and callers below
// minRole (403). An empty minRole admits any authenticated caller.
func (a *Authenticator) RequireAuth(minRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, status, code, message := a.authenticate(r.Context(), tokenStr)
			if identity == nil {
				respondAuthError(r.Context(), w, status, code, message)
				return
			}
			if minRole != "" && !identity.Role.AtLeast(minRole) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, a.attach(r, identity))
		})
	}
}

// OptionalAuth attaches the identity when a valid bearer token is present and otherwise
// lets the request through anonymously. A malformed or expired token is still rejected.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			tokenStr, ok := extractBearerToken(header)
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}
			identity, status, code, message := a.authenticate(r.Context(), tokenStr)
			if identity == nil {
				respondAuthError(r.Context(), w, status, code, message)
				return
			}
			next.ServeHTTP(w, a.attach(r, identity))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Identity, int, string, string) {
	if a == nil || a.verifier == nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable"
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, http.StatusUnauthorized, "token_expired", "token expired"
		}
		return nil, http.StatusUnauthorized, "invalid_token", "token invalid"
	}
	if a.loader == nil {
		return identity, 0, "", ""
	}
	fresh, err := a.loader(ctx, identity.UID)
	switch {
	case errors.Is(err, ErrIdentityGone):
		return nil, http.StatusUnauthorized, "invalid_token", "user no longer exists"
	case err != nil:
		requestctx.Logger(ctx).Sugar().Warnw("identity reload failed", "error", err)
		return nil, http.StatusServiceUnavailable, "verification_unavailable", "unable to load identity"
	case fresh == nil:
		return nil, http.StatusUnauthorized, "invalid_token", "user no longer exists"
	}
	return fresh, 0, "", ""
}

func (a *Authenticator) attach(r *http.Request, identity *Identity) *http.Request {
	subject := requestctx.Subject{ID: identity.UID, Role: string(identity.Role)}
	observability.MarkSubject(r, subject)
	ctx := WithIdentity(r.Context(), identity)
	ctx = requestctx.WithSubject(ctx, subject)
	return r.WithContext(ctx)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
