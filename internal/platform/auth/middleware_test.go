package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

func newTestManager(t *testing.T, now time.Time) *TokenManager {
	t.Helper()
	manager, err := NewTokenManager("test-secret", WithTokenIssuer("storefront-test"), WithTokenClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return manager
}

func TestTokenManagerRoundTrip(t *testing.T) {
	now := time.Now()
	manager := newTestManager(t, now)

	issued, err := manager.Issue(domain.User{ID: "usr_1", Email: "a@example.com", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !issued.ExpiresAt.Equal(now.UTC().Add(40 * time.Hour)) {
		t.Fatalf("expected 40h expiry, got %s", issued.ExpiresAt)
	}

	identity, err := manager.Verify(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UID != "usr_1" || identity.Role != domain.RoleAdmin || identity.Email != "a@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestTokenManagerRejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Now().Add(-48 * time.Hour)
	old := newTestManager(t, issuedAt)
	issued, err := old.Issue(domain.User{ID: "usr_1", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current := newTestManager(t, time.Now())
	if _, err := current.Verify(context.Background(), issued.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	other, _ := NewTokenManager("another-secret", WithTokenIssuer("storefront-test"))
	fresh, _ := other.Issue(domain.User{ID: "usr_1", Role: domain.RoleUser})
	if _, err := current.Verify(context.Background(), fresh.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}

	if _, err := NewTokenManager(" "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestRequireAuthAllowsValidToken(t *testing.T) {
	manager := newTestManager(t, time.Now())
	issued, _ := manager.Issue(domain.User{ID: "usr_admin", Role: domain.RoleAdmin})
	authn := NewAuthenticator(manager)

	called := false
	handler := authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		principal := PrincipalFromContext(r.Context())
		if principal.ID != "usr_admin" || principal.Role != domain.RoleAdmin {
			t.Fatalf("unexpected principal %+v", principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/products", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got status %d", rr.Code)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	manager := newTestManager(t, time.Now())
	userToken, _ := manager.Issue(domain.User{ID: "usr_1", Role: domain.RoleUser})

	cases := []struct {
		name   string
		header string
		want   int
		code   string
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "garbage token", header: "Bearer nope", want: http.StatusUnauthorized, code: "invalid_token"},
		{name: "insufficient role", header: "Bearer " + userToken.Token, want: http.StatusForbidden, code: "insufficient_role"},
	}

	authn := NewAuthenticator(manager)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("expected code %s in body %s", tc.code, rr.Body.String())
			}
		})
	}
}

func TestRequireAuthReloadsIdentity(t *testing.T) {
	manager := newTestManager(t, time.Now())
	issued, _ := manager.Issue(domain.User{ID: "usr_1", Role: domain.RoleAdmin})

	demoted := NewAuthenticator(manager, WithIdentityLoader(func(_ context.Context, uid string) (*Identity, error) {
		return &Identity{UID: uid, Role: domain.RoleUser}, nil
	}))
	gone := NewAuthenticator(manager, WithIdentityLoader(func(context.Context, string) (*Identity, error) {
		return nil, ErrIdentityGone
	}))

	for name, tc := range map[string]struct {
		authn *Authenticator
		want  int
	}{
		"demoted": {authn: demoted, want: http.StatusForbidden},
		"deleted": {authn: gone, want: http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/products", nil)
			req.Header.Set("Authorization", "Bearer "+issued.Token)
			rr := httptest.NewRecorder()
			tc.authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			})).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	manager := newTestManager(t, time.Now())
	issued, _ := manager.Issue(domain.User{ID: "usr_1", Role: domain.RoleUser})
	authn := NewAuthenticator(manager)

	var seen domain.Principal
	handler := authn.OptionalAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/cart", nil))
	if rr.Code != http.StatusOK || !seen.Anonymous() {
		t.Fatalf("expected anonymous pass-through, got %d %+v", rr.Code, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen.ID != "usr_1" {
		t.Fatalf("expected authenticated principal, got %+v", seen)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	bad.Header.Set("Authorization", "Bearer broken")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, bad)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for broken token, got %d", rr.Code)
	}
}
