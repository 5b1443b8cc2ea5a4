package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tablestack.io/internal/audit"
	"tablestack.io/internal/auth"
	"tablestack.io/internal/ids"
	"tablestack.io/internal/order"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/tenant"
)

// OrderStore implements the order engine on Postgres. Every mutation commits
// in the same transaction as its audit entry; an audit insert failure rolls
// the mutation back.
type OrderStore struct {
	*Store
	pricing pricing.Source
	tenants tenant.Store
	now     func() time.Time
}

var _ order.Engine = (*OrderStore)(nil)

// NewOrderStore wires the engine's collaborators onto the shared store.
func NewOrderStore(s *Store, prices pricing.Source, tenants tenant.Store) *OrderStore {
	return &OrderStore{Store: s, pricing: prices, tenants: tenants, now: time.Now}
}

func (s *OrderStore) Create(ctx context.Context, params order.CreateParams) (order.Order, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if len(params.Items) == 0 {
		return order.Order{}, order.ErrEmptyOrder
	}
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return order.Order{}, err
	}
	ten, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return order.Order{}, fmt.Errorf("load tenant config: %w", mapStoreErr(err))
	}

	items := make([]order.Item, 0, len(params.Items))
	for _, req := range params.Items {
		if req.Quantity <= 0 {
			return order.Order{}, fmt.Errorf("%w: quantity must be > 0", order.ErrInvalidInput)
		}
		quote, err := s.pricing.PriceFor(ctx, tenantID, req.ItemID)
		if err != nil {
			return order.Order{}, fmt.Errorf("%w: %v", order.ErrInvalidInput, err)
		}
		items = append(items, order.Item{
			ItemID:    req.ItemID,
			Name:      quote.Name,
			Quantity:  req.Quantity,
			UnitPrice: quote.UnitPrice,
			Modifiers: req.Modifiers,
		})
	}
	subtotal, tax, total := order.ComputeTotals(items, ten.TaxRateBps)

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return order.Order{}, fmt.Errorf("encode items: %w", err)
	}

	now := s.now().UTC()
	o := order.Order{
		ID:           ids.New(),
		TenantID:     tenantID,
		Items:        items,
		Status:       order.StatusPending,
		Version:      0,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
		PaymentState: order.PaymentUnpaid,
		Channel:      params.Channel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, _, err := s.tenantTx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into orders (id, tenant_id, items, status, version, subtotal, tax, total, payment_state, channel, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, o.ID, o.TenantID, itemsJSON, o.Status, o.Version, o.Subtotal, o.Tax, o.Total, o.PaymentState, o.Channel, o.CreatedAt, o.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return order.Order{}, tenant.ErrNotFound
		}
		return order.Order{}, mapStoreErr(err)
	}

	if err := s.insertAudit(ctx, tx, auditRow{
		tenantID: tenantID, orderID: o.ID,
		action: audit.ActionOrderCreated,
		to:     string(order.StatusPending),
	}); err != nil {
		return order.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	return o, nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (order.Order, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// Reads run under tenantTx too: row-level security is forced on the
	// tenant-owned tables, and without the app.tenant_id setting the policy
	// hides every row.
	tx, tenantID, err := s.tenantTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return order.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select id, tenant_id, items, status, version, subtotal, tax, total, payment_state, channel, coalesce(table_label,''), created_at, updated_at
		from orders
		where id = $1 and tenant_id = $2
	`, orderID, tenantID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	return o, nil
}

func (s *OrderStore) List(ctx context.Context, limit int, afterID string) ([]order.Order, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx, tenantID, err := s.tenantTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id, tenant_id, items, status, version, subtotal, tax, total, payment_state, channel, coalesce(table_label,''), created_at, updated_at
		from orders
		where tenant_id = $1 and id > $2
		order by id asc
		limit $3
	`, tenantID, afterID, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var res []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapStoreErr(err)
	}
	return res, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, params order.UpdateStatusParams) (order.Order, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, tenantID, err := s.tenantTx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current order.Status
	var currentVersion int64
	err = tx.QueryRowContext(ctx, `
		select status, version from orders where id = $1 and tenant_id = $2
	`, params.OrderID, tenantID).Scan(&current, &currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	if !order.CanTransition(current, params.NewStatus) {
		return order.Order{}, fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, current, params.NewStatus)
	}

	// The version predicate makes this a single conditional write: a stale
	// caller affects zero rows and loses.
	res, err := tx.ExecContext(ctx, `
		update orders
		set status = $1, version = version + 1, updated_at = now()
		where id = $2 and tenant_id = $3 and version = $4
	`, params.NewStatus, params.OrderID, tenantID, params.ExpectedVersion)
	if err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return order.Order{}, mapStoreErr(err)
	}
	if affected == 0 {
		return order.Order{}, &order.ConflictError{CurrentVersion: currentVersion}
	}

	if err := s.insertAudit(ctx, tx, auditRow{
		tenantID: tenantID, orderID: params.OrderID,
		action: audit.ActionStatusChanged,
		from:   string(current), to: string(params.NewStatus),
		reason: params.Reason,
	}); err != nil {
		return order.Order{}, err
	}

	row := tx.QueryRowContext(ctx, `
		select id, tenant_id, items, status, version, subtotal, tax, total, payment_state, channel, coalesce(table_label,''), created_at, updated_at
		from orders
		where id = $1 and tenant_id = $2
	`, params.OrderID, tenantID)
	updated, err := scanOrder(row)
	if err != nil {
		return order.Order{}, mapStoreErr(err)
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, mapStoreErr(err)
	}

	s.notify.OrderStatusChanged(updated, current, params.Reason)
	return updated, nil
}

func (s *OrderStore) AssignTables(ctx context.Context, assignments []order.TableAssignment) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if len(assignments) == 0 {
		return 0, nil
	}
	tx, tenantID, err := s.tenantTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	pairs, err := json.Marshal(assignments)
	if err != nil {
		return 0, fmt.Errorf("encode assignments: %w", err)
	}

	// One statement for the whole batch; per-row round-trips do not scale to
	// floor-wide reassignments.
	res, err := tx.ExecContext(ctx, `
		update orders o
		set table_label = a.tbl, version = o.version + 1, updated_at = now()
		from (
			select (j->>'order_id') as id, (j->>'table') as tbl
			from jsonb_array_elements($1::jsonb) j
		) a
		where o.id = a.id and o.tenant_id = $2
	`, pairs, tenantID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, mapStoreErr(err)
	}
	return affected, nil
}

func (s *OrderStore) RecordPayment(ctx context.Context, params order.PaymentParams) (order.Payment, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if params.Amount <= 0 {
		return order.Payment{}, fmt.Errorf("%w: amount must be > 0", order.ErrInvalidInput)
	}

	tx, tenantID, err := s.tenantTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return order.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return the existing record if the key was already applied.
	if params.IdempotencyKey != "" {
		var p order.Payment
		err := tx.QueryRowContext(ctx, `
			select id, order_id, tenant_id, kind, amount, coalesce(reference,''), idempotency_key, created_at
			from payments where tenant_id = $1 and idempotency_key = $2
		`, tenantID, params.IdempotencyKey).Scan(&p.ID, &p.OrderID, &p.TenantID, &p.Kind, &p.Amount, &p.Reference, &p.IdempotencyKey, &p.CreatedAt)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return order.Payment{}, mapStoreErr(err)
		}
	}

	var state order.PaymentState
	err = tx.QueryRowContext(ctx, `
		select payment_state from orders where id = $1 and tenant_id = $2 for update
	`, params.OrderID, tenantID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Payment{}, order.ErrNotFound
	}
	if err != nil {
		return order.Payment{}, mapStoreErr(err)
	}

	var action audit.Action
	var next order.PaymentState
	switch params.Kind {
	case order.PaymentCapture:
		action, next = audit.ActionPaymentCaptured, order.PaymentCaptured
	case order.PaymentRefund:
		if state != order.PaymentCaptured {
			return order.Payment{}, fmt.Errorf("%w: refund requires a captured payment", order.ErrInvalidInput)
		}
		action, next = audit.ActionPaymentRefunded, order.PaymentRefunded
	default:
		return order.Payment{}, fmt.Errorf("%w: unknown payment kind %q", order.ErrInvalidInput, params.Kind)
	}

	p := order.Payment{
		ID:             ids.New(),
		OrderID:        params.OrderID,
		TenantID:       tenantID,
		Kind:           params.Kind,
		Amount:         params.Amount,
		Reference:      params.Reference,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	if _, err := tx.ExecContext(ctx, `
		insert into payments (id, order_id, tenant_id, kind, amount, reference, idempotency_key, created_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),$8)
	`, p.ID, p.OrderID, p.TenantID, p.Kind, p.Amount, p.Reference, p.IdempotencyKey, p.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return order.Payment{}, fmt.Errorf("%w: idempotency key already used", order.ErrInvalidInput)
		}
		return order.Payment{}, mapStoreErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
		update orders set payment_state = $1, version = version + 1, updated_at = now()
		where id = $2 and tenant_id = $3
	`, next, params.OrderID, tenantID); err != nil {
		return order.Payment{}, mapStoreErr(err)
	}

	if err := s.insertAudit(ctx, tx, auditRow{
		tenantID: tenantID, orderID: params.OrderID,
		action: action,
		from:   string(state), to: string(next),
		amount: params.Amount,
	}); err != nil {
		return order.Payment{}, err
	}

	if err := tx.Commit(); err != nil {
		return order.Payment{}, mapStoreErr(err)
	}
	return p, nil
}

// AuditTrail lists audit entries for one order, oldest first.
func (s *OrderStore) AuditTrail(ctx context.Context, orderID string) ([]audit.Entry, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, tenantID, err := s.tenantTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id, tenant_id, order_id, principal_id, action, coalesce(from_status,''), coalesce(to_status,''), coalesce(reason,''), amount, coalesce(request_id,''), occurred_at
		from order_audit
		where tenant_id = $1 and order_id = $2
		order by id asc
	`, tenantID, orderID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OrderID, &e.PrincipalID, &e.Action, &e.FromStatus, &e.ToStatus, &e.Reason, &e.Amount, &e.RequestID, &e.OccurredAt); err != nil {
			return nil, mapStoreErr(err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapStoreErr(err)
	}
	return res, nil
}

type auditRow struct {
	tenantID string
	orderID  string
	action   audit.Action
	from     string
	to       string
	reason   string
	amount   int64
}

// insertAudit writes the audit entry inside the caller's transaction. Any
// failure here must abort the whole transaction; the mutation may not outlive
// a lost trail.
func (s *OrderStore) insertAudit(ctx context.Context, tx *sql.Tx, row auditRow) error {
	principal := "system"
	if sess, ok := auth.SessionFromContext(ctx); ok {
		principal = sess.PrincipalID
	}
	_, err := tx.ExecContext(ctx, `
		insert into order_audit (id, tenant_id, order_id, principal_id, action, from_status, to_status, reason, amount, request_id, occurred_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),nullif($8,''),$9,nullif($10,''),$11)
	`, ids.New(), row.tenantID, row.orderID, principal, row.action, row.from, row.to, row.reason, row.amount, audit.RequestIDFromContext(ctx), s.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrAuditWrite, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Order, error) {
	var o order.Order
	var itemsJSON []byte
	if err := row.Scan(&o.ID, &o.TenantID, &itemsJSON, &o.Status, &o.Version, &o.Subtotal, &o.Tax, &o.Total, &o.PaymentState, &o.Channel, &o.Table, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return order.Order{}, fmt.Errorf("decode items: %w", err)
		}
	}
	return o, nil
}
