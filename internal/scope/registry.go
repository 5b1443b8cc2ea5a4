package scope

import (
	"context"
	"sync"
	"time"
)

// BindingStore reads the role -> scope binding rows. Implemented by the
// Postgres store; tests supply fakes.
type BindingStore interface {
	ScopesForRole(ctx context.Context, role Role) ([]Scope, error)
}

// Registry resolves the scope set for a role. Both the token issuer and any
// offline compliance check must consult the same registry so the two views
// can never drift.
type Registry interface {
	ScopesForRole(ctx context.Context, role Role) (Set, error)
}

// StaticRegistry answers from an in-memory binding table. Used in tests and
// demo mode where no store is configured.
type StaticRegistry struct {
	bindings map[Role][]Scope
}

// NewStaticRegistry builds a registry over a fixed binding table. A nil table
// means the provisioning seed.
func NewStaticRegistry(bindings map[Role][]Scope) *StaticRegistry {
	if bindings == nil {
		bindings = SeedBindings()
	}
	return &StaticRegistry{bindings: bindings}
}

// ScopesForRole returns the bound scopes. Unknown roles get the empty set,
// never an error: deny by default.
func (r *StaticRegistry) ScopesForRole(_ context.Context, role Role) (Set, error) {
	return NewSet(r.bindings[role]...), nil
}

// CachedRegistry reads bindings from the store with a short per-process TTL.
// The binding table is read-mostly; a stale entry only delays a role change
// until the next refresh, it can never grant a scope the store does not hold.
type CachedRegistry struct {
	store BindingStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[Role]cacheEntry
}

type cacheEntry struct {
	set     Set
	expires time.Time
}

// NewCachedRegistry wraps the store. A non-positive ttl disables caching.
func NewCachedRegistry(store BindingStore, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Role]cacheEntry),
	}
}

func (r *CachedRegistry) ScopesForRole(ctx context.Context, role Role) (Set, error) {
	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.entries[role]
		r.mu.RUnlock()
		if ok && r.now().Before(entry.expires) {
			return entry.set, nil
		}
	}

	scopes, err := r.store.ScopesForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	set := NewSet(scopes...)

	if r.ttl > 0 {
		r.mu.Lock()
		r.entries[role] = cacheEntry{set: set, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return set, nil
}

// Invalidate drops the cached entry for a role. Called after administrative
// binding updates so the next issuance sees fresh scopes.
func (r *CachedRegistry) Invalidate(role Role) {
	r.mu.Lock()
	delete(r.entries, role)
	r.mu.Unlock()
}
