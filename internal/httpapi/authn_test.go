package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tablestack.io/internal/scope"
)

func TestProtectedRouteRequiresToken(t *testing.T) {
	h := newTestAPI(t)
	rr := h.do(t, http.MethodGet, "/v1/orders", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}

func TestProtectedRouteRejectsGarbageToken(t *testing.T) {
	h := newTestAPI(t)
	rr := h.do(t, http.MethodGet, "/v1/orders", "not.a.token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}

func TestTenantMismatchIsRefused(t *testing.T) {
	h := newTestAPI(t)
	token := h.token(t, scope.RoleServer) // bound to rest_1

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", "rest_2")
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tenant mismatch") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestMatchingTenantHeaderIsAccepted(t *testing.T) {
	h := newTestAPI(t)
	token := h.token(t, scope.RoleServer)

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", "rest_1")
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200: %s", rr.Code, rr.Body.String())
	}
}

func TestMissingScopeIsForbidden(t *testing.T) {
	h := newTestAPI(t)
	// Kitchen staff cannot capture payments.
	token := h.token(t, scope.RoleKitchen)

	rr := h.do(t, http.MethodPost, "/v1/orders/ord_1/payments", token, paymentRequest{Amount: 100})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "payments:capture") {
		t.Fatalf("body should name the missing scope: %s", rr.Body.String())
	}
}

func TestAnonymousOrderCreation(t *testing.T) {
	h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(
		`{"items":[{"item_id":"burger","quantity":1}],"channel":"kiosk"}`))
	req.Header.Set("X-Tenant-ID", "rest_1")
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rr.Code, rr.Body.String())
	}
}

func TestAnonymousWithoutTenantIsRefused(t *testing.T) {
	h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(
		`{"items":[{"item_id":"burger","quantity":1}],"channel":"kiosk"}`))
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}

func TestInvalidTokenIsNeverDowngradedToAnonymous(t *testing.T) {
	h := newTestAPI(t)

	// The create route allows anonymous access, but a presented-and-broken
	// token must still be refused outright.
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(
		`{"items":[{"item_id":"burger","quantity":1}],"channel":"kiosk"}`))
	req.Header.Set("X-Tenant-ID", "rest_1")
	req.Header.Set("Authorization", "Bearer bogus")
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}

func TestAnonymousCannotReadOrders(t *testing.T) {
	h := newTestAPI(t)

	// orders:read is not in the anonymous scope set, and the list route is
	// mandatory-auth anyway.
	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("X-Tenant-ID", "rest_1")
	rr := httptest.NewRecorder()
	RequestID(h.api.Handler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}

func TestLoginIssuesWorkingToken(t *testing.T) {
	h := newTestAPI(t)

	rr := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method:   "password",
		TenantID: "rest_1",
		Login:    "alice",
		Password: "correct horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" || resp.Role != "server" || resp.TenantID != "rest_1" {
		t.Fatalf("resp = %+v", resp)
	}

	list := h.do(t, http.MethodGet, "/v1/orders", resp.Token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list with issued token = %d", list.Code)
	}
}

func TestLoginAcceptsTenantSlug(t *testing.T) {
	h := newTestAPI(t)

	rr := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method:   "password",
		TenantID: "downtown", // slug for rest_1
		Login:    "alice",
		Password: "correct horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login by slug = %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.TenantID != "rest_1" {
		t.Fatalf("session tenant = %q, want canonical rest_1", resp.TenantID)
	}
}

func TestLoginUnknownTenantIsUniformRefusal(t *testing.T) {
	h := newTestAPI(t)

	rr := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method: "password", TenantID: "no-such-place", Login: "alice", Password: "correct horse",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid credentials") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	h := newTestAPI(t)

	wrongPassword := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method: "password", TenantID: "rest_1", Login: "alice", Password: "nope",
	})
	unknownUser := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method: "password", TenantID: "rest_1", Login: "mallory", Password: "nope",
	})
	wrongTenant := h.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Method: "password", TenantID: "rest_2", Login: "alice", Password: "correct horse",
	})

	for name, rr := range map[string]*httptest.ResponseRecorder{
		"wrong password": wrongPassword,
		"unknown user":   unknownUser,
		"wrong tenant":   wrongTenant,
	} {
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: code = %d, want 401", name, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "invalid credentials") {
			t.Fatalf("%s: body = %s", name, rr.Body.String())
		}
	}
}
