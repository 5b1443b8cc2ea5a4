package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tablestack.io/internal/order"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/tenant"
)

type staticTenants struct{}

func (staticTenants) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	return tenant.Tenant{ID: id, Slug: "downtown", Name: "Downtown", TaxRateBps: 800}, nil
}

func (staticTenants) GetTenantBySlug(_ context.Context, _ string) (tenant.Tenant, error) {
	return tenant.Tenant{}, tenant.ErrNotFound
}

func newMockOrderStore(t *testing.T) (*OrderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	menu := pricing.NewStaticMenu(map[string]map[string]pricing.Quote{
		"rest_1": {"burger": {Name: "Burger", UnitPrice: 500}},
	})
	return NewOrderStore(NewStore(db), menu, staticTenants{}), mock
}

func expectTenantTx(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`select set_config('app.tenant_id', $1, true)`)).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestCreateCommitsOrderWithAudit(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectExec("insert into orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into order_audit").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := s.Create(ctx, order.CreateParams{
		Items:   []order.ItemRequest{{ItemID: "burger", Quantity: 2}},
		Channel: order.ChannelTouch,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Subtotal != 1000 || o.Tax != 80 || o.Total != 1080 {
		t.Fatalf("totals = %d/%d/%d", o.Subtotal, o.Tax, o.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRollsBackOnAuditFailure(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectExec("insert into orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into order_audit").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.Create(ctx, order.CreateParams{
		Items: []order.ItemRequest{{ItemID: "burger", Quantity: 1}},
	})
	if !errors.Is(err, order.ErrAuditWrite) {
		t.Fatalf("err = %v, want ErrAuditWrite", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRequiresTenantContext(t *testing.T) {
	s, mock := newMockOrderStore(t)

	_, err := s.Create(context.Background(), order.CreateParams{
		Items: []order.ItemRequest{{ItemID: "burger", Quantity: 1}},
	})
	if !errors.Is(err, tenant.ErrNoContext) {
		t.Fatalf("err = %v, want ErrNoContext", err)
	}
	// No database traffic without a tenant context.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusIsConditionalOnVersion(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")
	now := time.Now().UTC()

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery("select status, version from orders").
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("pending", int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("where id = $2 and tenant_id = $3 and version = $4")).
		WithArgs("confirmed", "ord_1", "rest_1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into order_audit").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select id, tenant_id, items").
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "items", "status", "version", "subtotal", "tax", "total", "payment_state", "channel", "table_label", "created_at", "updated_at",
		}).AddRow("ord_1", "rest_1", []byte(`[]`), "confirmed", int64(1), int64(1000), int64(80), int64(1080), "unpaid", "touch", "", now, now))
	mock.ExpectCommit()

	updated, err := s.UpdateStatus(ctx, order.UpdateStatusParams{
		OrderID:         "ord_1",
		ExpectedVersion: 0,
		NewStatus:       order.StatusConfirmed,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Version != 1 || updated.Status != order.StatusConfirmed {
		t.Fatalf("updated = version %d status %s", updated.Version, updated.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusStaleVersionConflicts(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery("select status, version from orders").
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("confirmed", int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("version = $4")).
		WithArgs("preparing", "ord_1", "rest_1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.UpdateStatus(ctx, order.UpdateStatusParams{
		OrderID:         "ord_1",
		ExpectedVersion: 1,
		NewStatus:       order.StatusPreparing,
	})
	var ce *order.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if ce.CurrentVersion != 2 {
		t.Fatalf("current version = %d, want 2", ce.CurrentVersion)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusRejectsInvalidTransitionBeforeWrite(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery("select status, version from orders").
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "version"}).AddRow("completed", int64(4)))
	mock.ExpectRollback()

	_, err := s.UpdateStatus(ctx, order.UpdateStatusParams{
		OrderID:         "ord_1",
		ExpectedVersion: 4,
		NewStatus:       order.StatusPreparing,
	})
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetScopedByTenant(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")
	now := time.Now().UTC()

	// Reads must set app.tenant_id before querying, or row-level security
	// filters the tenant's own rows away.
	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery(regexp.QuoteMeta("where id = $1 and tenant_id = $2")).
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "items", "status", "version", "subtotal", "tax", "total", "payment_state", "channel", "table_label", "created_at", "updated_at",
		}).AddRow("ord_1", "rest_1", []byte(`[{"item_id":"burger","name":"Burger","quantity":2,"unit_price":500}]`), "pending", int64(0), int64(1000), int64(80), int64(1080), "unpaid", "touch", "T4", now, now))
	mock.ExpectCommit()

	o, err := s.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].UnitPrice != 500 {
		t.Fatalf("items = %+v", o.Items)
	}
	if o.Table != "T4" {
		t.Fatalf("table = %q", o.Table)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRunsInTenantTransaction(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")
	now := time.Now().UTC()

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery(regexp.QuoteMeta("where tenant_id = $1 and id > $2")).
		WithArgs("rest_1", "", 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "items", "status", "version", "subtotal", "tax", "total", "payment_state", "channel", "table_label", "created_at", "updated_at",
		}).
			AddRow("ord_1", "rest_1", []byte(`[]`), "pending", int64(0), int64(500), int64(40), int64(540), "unpaid", "touch", "", now, now).
			AddRow("ord_2", "rest_1", []byte(`[]`), "confirmed", int64(1), int64(1000), int64(80), int64(1080), "unpaid", "qr", "T2", now, now))
	mock.ExpectCommit()

	res, err := s.List(ctx, 2, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res) != 2 || res[0].ID != "ord_1" || res[1].ID != "ord_2" {
		t.Fatalf("orders = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignTablesSingleStatement(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectExec("update orders o").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := s.AssignTables(ctx, []order.TableAssignment{
		{OrderID: "ord_1", Table: "T1"},
		{OrderID: "ord_2", Table: "T2"},
	})
	if err != nil {
		t.Fatalf("AssignTables: %v", err)
	}
	if n != 2 {
		t.Fatalf("affected = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPaymentRollsBackOnAuditFailure(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery("select payment_state from orders").
		WithArgs("ord_1", "rest_1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_state"}).AddRow("unpaid"))
	mock.ExpectExec("insert into payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update orders set payment_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into order_audit").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.RecordPayment(ctx, order.PaymentParams{
		OrderID: "ord_1",
		Kind:    order.PaymentCapture,
		Amount:  1080,
	})
	if !errors.Is(err, order.ErrAuditWrite) {
		t.Fatalf("err = %v, want ErrAuditWrite", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPaymentIdempotentReplay(t *testing.T) {
	s, mock := newMockOrderStore(t)
	ctx := tenant.WithTenant(context.Background(), "rest_1")
	now := time.Now().UTC()

	expectTenantTx(mock, "rest_1")
	mock.ExpectQuery("from payments where tenant_id").
		WithArgs("rest_1", "idem-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "tenant_id", "kind", "amount", "reference", "idempotency_key", "created_at",
		}).AddRow("pay_1", "ord_1", "rest_1", "capture", int64(1080), "ref", "idem-1", now))
	mock.ExpectRollback()

	p, err := s.RecordPayment(ctx, order.PaymentParams{
		OrderID:        "ord_1",
		Kind:           order.PaymentCapture,
		Amount:         1080,
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if p.ID != "pay_1" {
		t.Fatalf("replay returned new payment %q", p.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
