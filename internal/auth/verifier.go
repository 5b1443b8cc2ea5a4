package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Credential is one of the four presented credential shapes. Verification is
// polymorphic over this single surface so the token issuer never branches on
// the variant.
type Credential interface {
	method() Method
}

// PasswordCredential is a principal-supplied secret.
type PasswordCredential struct {
	TenantID string
	Login    string
	Password string
}

// PINCredential is a short numeric code.
type PINCredential struct {
	TenantID string
	Login    string
	PIN      string
}

// DeviceCredential is a long-lived station token plus the terminal's
// fingerprint.
type DeviceCredential struct {
	TenantID    string
	DeviceID    string
	Token       string
	Fingerprint string
}

// DemoCredential is a fixed non-production alias, usable only when demo
// logins are explicitly enabled.
type DemoCredential struct {
	TenantID string
	Alias    string
}

func (PasswordCredential) method() Method { return MethodPassword }
func (PINCredential) method() Method      { return MethodPIN }
func (DeviceCredential) method() Method   { return MethodDevice }
func (DemoCredential) method() Method     { return MethodDemo }

// dummyBcryptHash is compared against when no binding exists so the
// unknown-principal path costs the same as the wrong-secret path.
var dummyBcryptHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Verifier validates presented credentials against stored bindings.
type Verifier struct {
	store       CredentialStore
	pepper      []byte
	demoEnabled bool
	revocations RevocationList
	now         func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithDemoLogins enables the demo alias path. Off unless explicitly enabled;
// production configuration must never set this.
func WithDemoLogins(enabled bool) VerifierOption {
	return func(v *Verifier) { v.demoEnabled = enabled }
}

// WithRevocationList wires the device-token deny-list.
func WithRevocationList(rl RevocationList) VerifierOption {
	return func(v *Verifier) { v.revocations = rl }
}

// WithVerifierClock overrides the time source for tests.
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier. The PIN pepper is mandatory and has no
// fallback: a defaulted pepper would make offline PIN brute-forcing feasible,
// so a missing one refuses to start rather than silently substituting.
func NewVerifier(store CredentialStore, pepper []byte, opts ...VerifierOption) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if len(pepper) == 0 {
		return nil, errors.New("auth: pin pepper is not configured")
	}
	v := &Verifier{
		store:  store,
		pepper: pepper,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks one credential and returns the canonical identity. Every
// failure collapses to ErrRejected.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (Identity, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return v.verifyPassword(ctx, c)
	case PINCredential:
		return v.verifyPIN(ctx, c)
	case DeviceCredential:
		return v.verifyDevice(ctx, c)
	case DemoCredential:
		return v.verifyDemo(ctx, c)
	default:
		return Identity{}, ErrRejected
	}
}

func (v *Verifier) verifyPassword(ctx context.Context, c PasswordCredential) (Identity, error) {
	tenantID := strings.TrimSpace(c.TenantID)
	login := strings.TrimSpace(strings.ToLower(c.Login))
	if tenantID == "" || login == "" || c.Password == "" {
		return Identity{}, ErrRejected
	}
	binding, err := v.store.FindPasswordBinding(ctx, tenantID, login)
	if err != nil {
		// Burn a comparison so the miss costs the same as a mismatch.
		_ = bcrypt.CompareHashAndPassword(dummyBcryptHash, []byte(c.Password))
		return Identity{}, ErrRejected
	}
	if bcrypt.CompareHashAndPassword([]byte(binding.PasswordHash), []byte(c.Password)) != nil {
		return Identity{}, ErrRejected
	}
	return Identity{PrincipalID: binding.PrincipalID, TenantID: tenantID, Role: binding.Role}, nil
}

func (v *Verifier) verifyPIN(ctx context.Context, c PINCredential) (Identity, error) {
	tenantID := strings.TrimSpace(c.TenantID)
	login := strings.TrimSpace(strings.ToLower(c.Login))
	if tenantID == "" || login == "" || c.PIN == "" {
		return Identity{}, ErrRejected
	}
	binding, err := v.store.FindPINBinding(ctx, tenantID, login)
	if err != nil {
		_ = v.HashPIN(c.PIN, make([]byte, 16))
		return Identity{}, ErrRejected
	}
	computed := v.HashPIN(c.PIN, binding.Salt)
	if subtle.ConstantTimeCompare(computed, binding.Hash) != 1 {
		return Identity{}, ErrRejected
	}
	return Identity{PrincipalID: binding.PrincipalID, TenantID: tenantID, Role: binding.Role}, nil
}

func (v *Verifier) verifyDevice(ctx context.Context, c DeviceCredential) (Identity, error) {
	tenantID := strings.TrimSpace(c.TenantID)
	deviceID := strings.TrimSpace(c.DeviceID)
	if tenantID == "" || deviceID == "" || c.Token == "" || c.Fingerprint == "" {
		return Identity{}, ErrRejected
	}
	binding, err := v.store.FindDeviceBinding(ctx, tenantID, deviceID)
	if err != nil {
		return Identity{}, ErrRejected
	}
	if binding.Revoked {
		return Identity{}, ErrRejected
	}
	if !binding.ExpiresAt.IsZero() && v.now().After(binding.ExpiresAt) {
		return Identity{}, ErrRejected
	}
	tokenOK := secureCompareHex(binding.TokenHash, sha256Hex(c.Token))
	fpOK := secureCompareHex(binding.FingerprintHash, sha256Hex(c.Fingerprint))
	if !tokenOK || !fpOK {
		return Identity{}, ErrRejected
	}
	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, binding.ID)
		if err != nil || revoked {
			return Identity{}, ErrRejected
		}
	}
	return Identity{PrincipalID: binding.PrincipalID, TenantID: tenantID, Role: binding.Role}, nil
}

func (v *Verifier) verifyDemo(ctx context.Context, c DemoCredential) (Identity, error) {
	if !v.demoEnabled {
		return Identity{}, ErrRejected
	}
	tenantID := strings.TrimSpace(c.TenantID)
	alias := strings.TrimSpace(strings.ToLower(c.Alias))
	if tenantID == "" || alias == "" {
		return Identity{}, ErrRejected
	}
	binding, err := v.store.FindDemoBinding(ctx, tenantID, alias)
	if err != nil {
		return Identity{}, ErrRejected
	}
	return Identity{PrincipalID: binding.PrincipalID, TenantID: tenantID, Role: binding.Role}, nil
}

// HashPIN derives the stored PIN hash from the code, the per-principal salt,
// and the server pepper. Exposed for provisioning.
func (v *Verifier) HashPIN(pin string, salt []byte) []byte {
	const (
		iterations  = 2
		memory      = 64 * 1024
		parallelism = 1
		keyLength   = 32
	)
	keyed := make([]byte, 0, len(salt)+len(v.pepper))
	keyed = append(keyed, salt...)
	keyed = append(keyed, v.pepper...)
	return argon2.IDKey([]byte(pin), keyed, iterations, memory, parallelism, keyLength)
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func secureCompareHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
