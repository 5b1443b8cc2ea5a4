package tenant

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoContext means a store operation ran without an active tenant
	// context. That is a wiring defect, not a runtime condition to absorb.
	ErrNoContext = errors.New("tenant: no tenant context bound")

	// ErrMismatch means the request asserted one tenant while its token
	// claimed another. Neither side wins; the request is refused.
	ErrMismatch = errors.New("tenant: conflicting tenant assertions")

	ErrNotFound = errors.New("tenant: not found")
)

// Tenant is one restaurant sharing the platform. The id never changes after
// creation; the slug is the human-routable alias.
type Tenant struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	TaxRateBps int64     `json:"tax_rate_bps"` // basis points, 800 = 8%
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store loads tenant configuration. Provisioning is administrative and out
// of the request hot path.
type Store interface {
	GetTenant(ctx context.Context, id string) (Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (Tenant, error)
}

type ctxKey struct{}

// WithTenant binds a tenant id to the context. Every store call made under
// the returned context is scoped to exactly that tenant.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the bound tenant id, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ctxKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Required returns the bound tenant id or ErrNoContext. Store code paths call
// this before touching tenant-owned rows so an unscoped access fails fast
// instead of assuming a default tenant.
func Required(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoContext
	}
	return id, nil
}

// Resolve reconciles the tenant claimed by a token with the tenant asserted
// by the request's own addressing. Both present and different is a refusal;
// silently preferring either side would hide cross-tenant requests.
func Resolve(tokenTenant, requestTenant string) (string, error) {
	tokenTenant = strings.TrimSpace(tokenTenant)
	requestTenant = strings.TrimSpace(requestTenant)
	switch {
	case tokenTenant == "" && requestTenant == "":
		return "", ErrNoContext
	case tokenTenant == "":
		return requestTenant, nil
	case requestTenant == "":
		return tokenTenant, nil
	case tokenTenant != requestTenant:
		return "", ErrMismatch
	default:
		return tokenTenant, nil
	}
}
