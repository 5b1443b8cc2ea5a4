package scope

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestUnknownRoleGetsEmptySet(t *testing.T) {
	reg := NewStaticRegistry(nil)
	set, err := reg.ScopesForRole(context.Background(), Role("sommelier"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set for unknown role, got %v", set.Sorted())
	}
}

func TestScopesAreResourceActionForm(t *testing.T) {
	for role, scopes := range SeedBindings() {
		for _, s := range scopes {
			parts := strings.Split(string(s), ":")
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				t.Fatalf("role %s has malformed scope %q", role, s)
			}
		}
	}
}

func TestServerRoleHasNoRefundScope(t *testing.T) {
	reg := NewStaticRegistry(nil)
	set, err := reg.ScopesForRole(context.Background(), RoleServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Has(PaymentsRefund) {
		t.Fatal("server role must not carry payments:refund")
	}
	if !set.Has(PaymentsCapture) {
		t.Fatal("server role should carry payments:capture")
	}
}

func TestSetEqualIgnoresOrder(t *testing.T) {
	a := NewSet(OrdersCreate, OrdersRead)
	b := ParseSet([]string{"orders:read", "orders:create"})
	if !a.Equal(b) {
		t.Fatalf("sets should be equal: %v vs %v", a.Sorted(), b.Sorted())
	}
	b[PaymentsRefund] = struct{}{}
	if a.Equal(b) {
		t.Fatal("sets should differ after adding a member")
	}
}

type fakeBindingStore struct {
	calls  int
	scopes map[Role][]Scope
	err    error
}

func (f *fakeBindingStore) ScopesForRole(_ context.Context, role Role) ([]Scope, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scopes[role], nil
}

func TestCachedRegistryMatchesStore(t *testing.T) {
	store := &fakeBindingStore{scopes: map[Role][]Scope{
		RoleKitchen: {OrdersRead, OrdersUpdateStatus, MenuRead},
	}}
	reg := NewCachedRegistry(store, time.Minute)

	fromRegistry, err := reg.ScopesForRole(context.Background(), RoleKitchen)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	direct, err := store.ScopesForRole(context.Background(), RoleKitchen)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !fromRegistry.Equal(NewSet(direct...)) {
		t.Fatalf("registry and store diverged: %v vs %v", fromRegistry.Sorted(), direct)
	}
}

func TestCachedRegistryHonorsTTL(t *testing.T) {
	store := &fakeBindingStore{scopes: map[Role][]Scope{RoleCashier: {PaymentsCapture}}}
	reg := NewCachedRegistry(store, time.Minute)
	current := time.Unix(1000, 0)
	reg.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if _, err := reg.ScopesForRole(context.Background(), RoleCashier); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if store.calls != 1 {
		t.Fatalf("expected a single store read within the TTL, got %d", store.calls)
	}

	current = current.Add(2 * time.Minute)
	if _, err := reg.ScopesForRole(context.Background(), RoleCashier); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected refresh after TTL, got %d store reads", store.calls)
	}
}

func TestCachedRegistryInvalidate(t *testing.T) {
	store := &fakeBindingStore{scopes: map[Role][]Scope{RoleManager: {OrdersRead}}}
	reg := NewCachedRegistry(store, time.Hour)

	if _, err := reg.ScopesForRole(context.Background(), RoleManager); err != nil {
		t.Fatalf("warm: %v", err)
	}
	reg.Invalidate(RoleManager)
	if _, err := reg.ScopesForRole(context.Background(), RoleManager); err != nil {
		t.Fatalf("after invalidate: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected store re-read after invalidate, got %d", store.calls)
	}
}

func TestCachedRegistryPropagatesStoreError(t *testing.T) {
	boom := errors.New("store down")
	reg := NewCachedRegistry(&fakeBindingStore{err: boom}, 0)
	if _, err := reg.ScopesForRole(context.Background(), RoleOwner); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
