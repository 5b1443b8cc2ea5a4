package scope

import (
	"sort"
	"strings"
)

// Scope is an atomic permission identifier in resource:action form.
type Scope string

// Role is a named staff category. Roles are a fixed enumeration shared by
// every tenant; what varies per deployment is the role -> scope binding.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleManager   Role = "manager"
	RoleServer    Role = "server"
	RoleKitchen   Role = "kitchen"
	RoleCashier   Role = "cashier"
	RoleAnonymous Role = "anonymous"
)

const (
	OrdersCreate       Scope = "orders:create"
	OrdersRead         Scope = "orders:read"
	OrdersUpdateStatus Scope = "orders:update_status"
	OrdersCancel       Scope = "orders:cancel"
	PaymentsCapture    Scope = "payments:capture"
	PaymentsRefund     Scope = "payments:refund"
	TablesUpdate       Scope = "tables:update"
	MenuRead           Scope = "menu:read"
	ReportsRead        Scope = "reports:read"
	StaffManage        Scope = "staff:manage"
	TenantsManage      Scope = "tenants:manage"
)

// Set is an unordered collection of scopes. Order is never significant.
type Set map[Scope]struct{}

// NewSet builds a set from the given scopes, ignoring empty entries.
func NewSet(scopes ...Scope) Set {
	set := make(Set, len(scopes))
	for _, s := range scopes {
		if strings.TrimSpace(string(s)) == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

// ParseSet converts raw scope strings (e.g. token claims) into a Set.
func ParseSet(raw []string) Set {
	set := make(Set, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[Scope(s)] = struct{}{}
	}
	return set
}

// Has reports whether the scope is a member of the set.
func (s Set) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Equal reports set equality regardless of how either set was produced.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members as a sorted string slice, suitable for
// embedding into token claims deterministically.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// ParseRole normalizes a raw role name. Unknown names are returned as-is;
// the registry answers them with an empty scope set rather than an error.
func ParseRole(raw string) Role {
	return Role(strings.TrimSpace(strings.ToLower(raw)))
}

// defaultBindings is the provisioning seed for the role_scopes table. It is
// written to the store once at migration time; at runtime the store rows are
// the single source of truth and this map is never consulted directly.
//
// The server role deliberately does not carry payments:refund: refunds are a
// manager action. An earlier revision granted it to servers by mistake.
var defaultBindings = map[Role][]Scope{
	RoleOwner: {
		OrdersCreate, OrdersRead, OrdersUpdateStatus, OrdersCancel,
		PaymentsCapture, PaymentsRefund, TablesUpdate, MenuRead,
		ReportsRead, StaffManage, TenantsManage,
	},
	RoleManager: {
		OrdersCreate, OrdersRead, OrdersUpdateStatus, OrdersCancel,
		PaymentsCapture, PaymentsRefund, TablesUpdate, MenuRead,
		ReportsRead, StaffManage,
	},
	RoleServer: {
		OrdersCreate, OrdersRead, OrdersUpdateStatus, OrdersCancel,
		PaymentsCapture, TablesUpdate, MenuRead,
	},
	RoleKitchen: {
		OrdersRead, OrdersUpdateStatus, MenuRead,
	},
	RoleCashier: {
		OrdersRead, PaymentsCapture, PaymentsRefund, MenuRead,
	},
	RoleAnonymous: {
		OrdersCreate, MenuRead,
	},
}

// SeedBindings returns a copy of the provisioning bindings keyed by role.
func SeedBindings() map[Role][]Scope {
	out := make(map[Role][]Scope, len(defaultBindings))
	for role, scopes := range defaultBindings {
		cp := make([]Scope, len(scopes))
		copy(cp, scopes)
		out[role] = cp
	}
	return out
}

// AnonymousScopes is the hardcoded minimal scope set attached to the explicit
// anonymous identity on optional-auth endpoints. It is not read from the
// store: anonymous access must not depend on provisioning state.
func AnonymousScopes() Set {
	return NewSet(OrdersCreate, MenuRead)
}
