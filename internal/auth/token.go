package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tablestack.io/internal/scope"
)

const defaultTokenTTL = 8 * time.Hour

// Claims is the signed token payload: identity, tenant, role, and the scope
// set resolved at issuance time. The middleware trusts the scope claim for
// the token's lifetime; scope changes take effect on next issuance.
type Claims struct {
	TenantID   string   `json:"tenant_id"`
	Role       string   `json:"role"`
	Scopes     []string `json:"scopes"`
	AuthMethod string   `json:"auth_method"`
	jwt.RegisteredClaims
}

// Issuer turns verified identities into signed session tokens and validates
// presented ones.
type Issuer struct {
	secret   []byte
	registry scope.Registry
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithTokenTTL overrides the session lifetime. Tokens stay short-lived:
// expiry is the revocation mechanism.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the time source for tests.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. The signing secret has no default.
func NewIssuer(secret []byte, registry scope.Registry, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is not configured")
	}
	if registry == nil {
		return nil, errors.New("auth: scope registry is required")
	}
	iss := &Issuer{
		secret:   secret,
		registry: registry,
		issuer:   "tablestack",
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue resolves the role's scopes through the registry and signs a token
// embedding them. The registry is the single source of truth; nothing else
// may decide what a role can do.
func (i *Issuer) Issue(ctx context.Context, identity Identity, method Method) (string, Session, error) {
	if identity.PrincipalID == "" || identity.TenantID == "" {
		return "", Session{}, ErrRejected
	}
	scopes, err := i.registry.ScopesForRole(ctx, identity.Role)
	if err != nil {
		return "", Session{}, err
	}

	now := i.now().UTC()
	expires := now.Add(i.ttl)
	claims := Claims{
		TenantID:   identity.TenantID,
		Role:       string(identity.Role),
		Scopes:     scopes.Sorted(),
		AuthMethod: string(method),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", Session{}, err
	}

	return signed, Session{
		PrincipalID: identity.PrincipalID,
		TenantID:    identity.TenantID,
		Role:        identity.Role,
		Scopes:      scopes,
		AuthMethod:  method,
		IssuedAt:    now,
		ExpiresAt:   expires,
	}, nil
}

// Verify validates signature and timestamps and reconstructs the session.
// Validation fails closed: a token without a parseable expiry is expired.
func (i *Issuer) Verify(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnauthenticated
		}
		return i.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return Session{}, ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Session{}, ErrUnauthenticated
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Session{}, ErrUnauthenticated
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Session{}, ErrUnauthenticated
	}

	return Session{
		PrincipalID: claims.Subject,
		TenantID:    claims.TenantID,
		Role:        scope.ParseRole(claims.Role),
		Scopes:      scope.ParseSet(claims.Scopes),
		AuthMethod:  Method(claims.AuthMethod),
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
