package pg

import (
	"context"
	"database/sql"
	"errors"

	"tablestack.io/internal/auth"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/scope"
	"tablestack.io/internal/tenant"
)

// Credential lookups. A missing binding surfaces as ErrRejected so the
// verifier's unknown-principal path stays indistinguishable from a bad secret.

var _ auth.CredentialStore = (*Store)(nil)

func (s *Store) FindPasswordBinding(ctx context.Context, tenantID, login string) (auth.PasswordBinding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var b auth.PasswordBinding
	err := s.db.QueryRowContext(ctx, `
		select p.id, p.role, c.password_hash
		from principals p
		join password_credentials c on c.principal_id = p.id
		where p.tenant_id = $1 and p.login = $2 and p.active
	`, tenantID, login).Scan(&b.PrincipalID, &b.Role, &b.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.PasswordBinding{}, auth.ErrRejected
	}
	if err != nil {
		return auth.PasswordBinding{}, mapStoreErr(err)
	}
	return b, nil
}

func (s *Store) FindPINBinding(ctx context.Context, tenantID, login string) (auth.PINBinding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var b auth.PINBinding
	err := s.db.QueryRowContext(ctx, `
		select p.id, p.role, c.salt, c.hash
		from principals p
		join pin_credentials c on c.principal_id = p.id
		where p.tenant_id = $1 and p.login = $2 and p.active
	`, tenantID, login).Scan(&b.PrincipalID, &b.Role, &b.Salt, &b.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.PINBinding{}, auth.ErrRejected
	}
	if err != nil {
		return auth.PINBinding{}, mapStoreErr(err)
	}
	return b, nil
}

func (s *Store) FindDeviceBinding(ctx context.Context, tenantID, deviceID string) (auth.DeviceBinding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var b auth.DeviceBinding
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select d.id, d.principal_id, p.role, d.token_hash, d.fingerprint_hash, d.revoked, d.expires_at
		from device_credentials d
		join principals p on p.id = d.principal_id
		where d.tenant_id = $1 and d.id = $2 and p.active
	`, tenantID, deviceID).Scan(&b.ID, &b.PrincipalID, &b.Role, &b.TokenHash, &b.FingerprintHash, &b.Revoked, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.DeviceBinding{}, auth.ErrRejected
	}
	if err != nil {
		return auth.DeviceBinding{}, mapStoreErr(err)
	}
	if expires.Valid {
		b.ExpiresAt = expires.Time
	}
	return b, nil
}

func (s *Store) FindDemoBinding(ctx context.Context, tenantID, alias string) (auth.DemoBinding, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var b auth.DemoBinding
	err := s.db.QueryRowContext(ctx, `
		select p.id, p.role
		from principals p
		join demo_aliases a on a.principal_id = p.id
		where p.tenant_id = $1 and a.alias = $2 and p.active
	`, tenantID, alias).Scan(&b.PrincipalID, &b.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.DemoBinding{}, auth.ErrRejected
	}
	if err != nil {
		return auth.DemoBinding{}, mapStoreErr(err)
	}
	return b, nil
}

// Tenant configuration.

var _ tenant.Store = (*Store)(nil)

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, slug, name, tax_rate_bps, created_at, updated_at
		from tenants where id = $1
	`, id).Scan(&t.ID, &t.Slug, &t.Name, &t.TaxRateBps, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, mapStoreErr(err)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, slug, name, tax_rate_bps, created_at, updated_at
		from tenants where slug = $1
	`, slug).Scan(&t.ID, &t.Slug, &t.Name, &t.TaxRateBps, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, mapStoreErr(err)
	}
	return t, nil
}

// Menu pricing. Unavailable items price the same as unknown ones.

var _ pricing.Source = (*Store)(nil)

func (s *Store) PriceFor(ctx context.Context, tenantID, itemID string) (pricing.Quote, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var q pricing.Quote
	err := s.db.QueryRowContext(ctx, `
		select name, unit_price from menu_items
		where tenant_id = $1 and id = $2 and available
	`, tenantID, itemID).Scan(&q.Name, &q.UnitPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Quote{}, pricing.ErrUnknownItem
	}
	if err != nil {
		return pricing.Quote{}, mapStoreErr(err)
	}
	return q, nil
}

// Role -> scope bindings. Unknown roles return an empty list, never an error:
// deny-by-default belongs to the registry, not the store.

var _ scope.BindingStore = (*Store)(nil)

func (s *Store) ScopesForRole(ctx context.Context, role scope.Role) ([]scope.Scope, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		select scope from role_scopes where role = $1 order by scope
	`, role)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var scopes []scope.Scope
	for rows.Next() {
		var sc scope.Scope
		if err := rows.Scan(&sc); err != nil {
			return nil, mapStoreErr(err)
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return scopes, nil
}
