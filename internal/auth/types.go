package auth

import (
	"context"
	"time"

	"tablestack.io/internal/scope"
)

// Method identifies how a session was authenticated.
type Method string

const (
	MethodPassword  Method = "password"
	MethodPIN       Method = "pin"
	MethodDevice    Method = "device"
	MethodDemo      Method = "demo"
	MethodAnonymous Method = "anonymous"
)

// Identity is the canonical result of credential verification: who, for
// which tenant, acting in which role.
type Identity struct {
	PrincipalID string
	TenantID    string
	Role        scope.Role
}

// Session is a live authorization context. It is never persisted server-side;
// the signed token is the only representation, and revocation is handled by
// short expiry plus the device deny-list.
type Session struct {
	PrincipalID string
	TenantID    string
	Role        scope.Role
	Scopes      scope.Set
	AuthMethod  Method
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Anonymous reports whether this is the explicit anonymous session produced
// on optional-auth endpoints.
func (s Session) Anonymous() bool { return s.AuthMethod == MethodAnonymous }

// AnonymousSession builds the explicit anonymous identity for a tenant with
// the hardcoded minimal scope set. This is a distinct code path from token
// verification, never a downgrade of a failed mandatory check.
func AnonymousSession(tenantID string, now time.Time) Session {
	return Session{
		PrincipalID: "anonymous",
		TenantID:    tenantID,
		Role:        scope.RoleAnonymous,
		Scopes:      scope.AnonymousScopes(),
		AuthMethod:  MethodAnonymous,
		IssuedAt:    now,
		ExpiresAt:   now,
	}
}

// PasswordBinding is a stored password credential.
type PasswordBinding struct {
	PrincipalID  string
	Role         scope.Role
	PasswordHash string
}

// PINBinding is a stored PIN credential: per-principal salt, hash computed
// with the server pepper folded in.
type PINBinding struct {
	PrincipalID string
	Role        scope.Role
	Salt        []byte
	Hash        []byte
}

// DeviceBinding is a long-lived station credential tied to a terminal
// fingerprint.
type DeviceBinding struct {
	ID              string
	PrincipalID     string
	Role            scope.Role
	TokenHash       string
	FingerprintHash string
	Revoked         bool
	ExpiresAt       time.Time
}

// DemoBinding is a clearly-labeled non-production identity.
type DemoBinding struct {
	PrincipalID string
	Role        scope.Role
}

// CredentialStore loads stored credential bindings for verification. Lookups
// are tenant-scoped; a binding from another tenant is indistinguishable from
// no binding at all.
type CredentialStore interface {
	FindPasswordBinding(ctx context.Context, tenantID, login string) (PasswordBinding, error)
	FindPINBinding(ctx context.Context, tenantID, login string) (PINBinding, error)
	FindDeviceBinding(ctx context.Context, tenantID, deviceID string) (DeviceBinding, error)
	FindDemoBinding(ctx context.Context, tenantID, alias string) (DemoBinding, error)
}

// RevocationList answers whether a device binding has been revoked since the
// last store read. Backed by a short-TTL store consulted only for device
// logins; revocation events are rare.
type RevocationList interface {
	IsRevoked(ctx context.Context, bindingID string) (bool, error)
	Revoke(ctx context.Context, bindingID string, ttl time.Duration) error
}
