package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/storefront/api/internal/domain"
)

const defaultTokenTTL = 40 * time.Hour

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// IssuedToken is a signed bearer token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

type userClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTokenIssuer sets the iss claim written and required by the manager.
func WithTokenIssuer(issuer string) TokenOption {
	return func(m *TokenManager) {
		m.issuer = strings.TrimSpace(issuer)
	}
}

// WithTokenClock injects the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager constructs a manager signing with secret.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	m := &TokenManager{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Issue signs a token carrying the user id as subject and the role claim.
func (m *TokenManager) Issue(user domain.User) (IssuedToken, error) {
	if strings.TrimSpace(user.ID) == "" {
		return IssuedToken{}, errors.New("auth: user id is required")
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := userClaims{
		Role:  string(user.Role),
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: expires}, nil
}

// Verify validates signature, expiry and issuer and returns the embedded identity.
func (m *TokenManager) Verify(_ context.Context, token string) (*Identity, error) {
	claims := &userClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	now := m.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyIssuedAt(now.Add(time.Minute), false) {
		return nil, fmt.Errorf("%w: issued in the future", ErrTokenInvalid)
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return &Identity{UID: claims.Subject, Email: claims.Email, Role: role}, nil
}
