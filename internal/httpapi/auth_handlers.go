package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tablestack.io/internal/audit"
	"tablestack.io/internal/auth"
	"tablestack.io/internal/obs"
	"tablestack.io/internal/tenant"
)

type loginRequest struct {
	Method   string `json:"method"`
	TenantID string `json:"tenant_id"`

	// password / pin
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
	PIN      string `json:"pin,omitempty"`

	// device
	DeviceID    string `json:"device_id,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// demo
	Alias string `json:"alias,omitempty"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	Role        string    `json:"role"`
	Scopes      []string  `json:"scopes"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	method := strings.TrimSpace(strings.ToLower(req.Method))

	// Clients may identify the tenant by id or slug; credentials are always
	// verified against the canonical id. An unknown tenant gets the same
	// refusal as a bad secret.
	tenantID, err := a.resolveTenant(r.Context(), req.TenantID)
	if err != nil {
		obs.ObserveAuthFailure(method)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var cred auth.Credential
	switch auth.Method(method) {
	case auth.MethodPassword:
		cred = auth.PasswordCredential{TenantID: tenantID, Login: req.Login, Password: req.Password}
	case auth.MethodPIN:
		cred = auth.PINCredential{TenantID: tenantID, Login: req.Login, PIN: req.PIN}
	case auth.MethodDevice:
		cred = auth.DeviceCredential{TenantID: tenantID, DeviceID: req.DeviceID, Token: req.DeviceToken, Fingerprint: req.Fingerprint}
	case auth.MethodDemo:
		cred = auth.DemoCredential{TenantID: tenantID, Alias: req.Alias}
	default:
		writeError(w, r, http.StatusBadRequest, "unknown authentication method")
		return
	}

	identity, err := a.verifier.Verify(r.Context(), cred)
	if err != nil {
		// One uniform refusal for every failure cause.
		obs.ObserveAuthFailure(method)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, session, err := a.issuer.Issue(r.Context(), identity, auth.Method(method))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"tenant_id":    session.TenantID,
		"principal_id": session.PrincipalID,
		"method":       method,
		"role":         string(session.Role),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		PrincipalID: session.PrincipalID,
		TenantID:    session.TenantID,
		Role:        string(session.Role),
		Scopes:      session.Scopes.Sorted(),
	})
}

func (a *API) resolveTenant(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", tenant.ErrNotFound
	}
	if t, err := a.tenants.GetTenant(ctx, ref); err == nil {
		return t.ID, nil
	}
	t, err := a.tenants.GetTenantBySlug(ctx, ref)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}
