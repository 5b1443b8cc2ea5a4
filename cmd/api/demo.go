package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"tablestack.io/internal/auth"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/scope"
	"tablestack.io/internal/tenant"
)

// demoPassword is the shared login password in DSN-less development runs.
const demoPassword = "tablestack-demo"

// demoWorld backs DSN-less development runs: one demo restaurant, one staff
// login per role, and a small menu. It is never constructed when a Postgres
// DSN is configured.
type demoWorld struct {
	tenants   map[string]tenant.Tenant
	passwords map[string]auth.PasswordBinding // tenantID/login
	aliases   map[string]auth.DemoBinding     // tenantID/alias
	menu      pricing.Source
}

func newDemoWorld() *demoWorld {
	now := time.Now().UTC()
	w := &demoWorld{
		tenants: map[string]tenant.Tenant{
			"demo_cafe": {
				ID:         "demo_cafe",
				Slug:       "demo-cafe",
				Name:       "Demo Cafe",
				TaxRateBps: 800,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		},
		passwords: make(map[string]auth.PasswordBinding),
		aliases:   make(map[string]auth.DemoBinding),
		menu: pricing.NewStaticMenu(map[string]map[string]pricing.Quote{
			"demo_cafe": {
				"espresso": {Name: "Espresso", UnitPrice: 350},
				"burger":   {Name: "Burger", UnitPrice: 1200},
				"fries":    {Name: "Fries", UnitPrice: 450},
				"salad":    {Name: "Salad", UnitPrice: 900},
				"soda":     {Name: "Soda", UnitPrice: 300},
			},
		}),
	}

	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		log.Fatalf("hash demo password: %v", err)
	}
	for i, role := range []scope.Role{
		scope.RoleOwner, scope.RoleManager, scope.RoleServer,
		scope.RoleKitchen, scope.RoleCashier,
	} {
		login := string(role)
		principalID := fmt.Sprintf("demo_p%d", i+1)
		w.passwords["demo_cafe/"+login] = auth.PasswordBinding{
			PrincipalID:  principalID,
			Role:         role,
			PasswordHash: hash,
		}
		w.aliases["demo_cafe/demo-"+login] = auth.DemoBinding{
			PrincipalID: principalID,
			Role:        role,
		}
	}
	return w
}

var (
	_ auth.CredentialStore = (*demoWorld)(nil)
	_ tenant.Store         = (*demoWorld)(nil)
)

func (w *demoWorld) FindPasswordBinding(_ context.Context, tenantID, login string) (auth.PasswordBinding, error) {
	b, ok := w.passwords[tenantID+"/"+login]
	if !ok {
		return auth.PasswordBinding{}, auth.ErrRejected
	}
	return b, nil
}

func (w *demoWorld) FindPINBinding(context.Context, string, string) (auth.PINBinding, error) {
	return auth.PINBinding{}, auth.ErrRejected
}

func (w *demoWorld) FindDeviceBinding(context.Context, string, string) (auth.DeviceBinding, error) {
	return auth.DeviceBinding{}, auth.ErrRejected
}

func (w *demoWorld) FindDemoBinding(_ context.Context, tenantID, alias string) (auth.DemoBinding, error) {
	b, ok := w.aliases[tenantID+"/"+alias]
	if !ok {
		return auth.DemoBinding{}, auth.ErrRejected
	}
	return b, nil
}

func (w *demoWorld) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	t, ok := w.tenants[id]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return t, nil
}

func (w *demoWorld) GetTenantBySlug(_ context.Context, slug string) (tenant.Tenant, error) {
	for _, t := range w.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}
