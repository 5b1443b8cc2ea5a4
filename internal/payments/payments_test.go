package payments

import (
	"context"
	"errors"
	"testing"

	"tablestack.io/internal/audit"
	"tablestack.io/internal/order"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/tenant"
)

type fakeGateway struct {
	approve    bool
	err        error
	captures   int
	refunds    int
	lastAmount int64
	lastKey    string
}

func (g *fakeGateway) Capture(_ context.Context, amount int64, key string) (Result, error) {
	g.captures++
	g.lastAmount, g.lastKey = amount, key
	if g.err != nil {
		return Result{}, g.err
	}
	return Result{Approved: g.approve, Reference: "ref-cap"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, amount int64, key string) (Result, error) {
	g.refunds++
	g.lastAmount, g.lastKey = amount, key
	if g.err != nil {
		return Result{}, g.err
	}
	return Result{Approved: g.approve, Reference: "ref-ref"}, nil
}

type staticTenants struct{}

func (staticTenants) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	return tenant.Tenant{ID: id, TaxRateBps: 800}, nil
}

func (staticTenants) GetTenantBySlug(_ context.Context, _ string) (tenant.Tenant, error) {
	return tenant.Tenant{}, tenant.ErrNotFound
}

func setup(t *testing.T, gw *fakeGateway, engineOpts ...order.InMemoryOption) (*Service, *order.InMemory, context.Context, order.Order) {
	t.Helper()
	menu := pricing.NewStaticMenu(map[string]map[string]pricing.Quote{
		"rest_1": {"burger": {Name: "Burger", UnitPrice: 500}},
	})
	engine := order.NewInMemory(menu, staticTenants{}, engineOpts...)
	svc, err := NewService(gw, engine)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := tenant.WithTenant(context.Background(), "rest_1")
	o, err := engine.Create(ctx, order.CreateParams{
		Items:   []order.ItemRequest{{ItemID: "burger", Quantity: 2}},
		Channel: order.ChannelTouch,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return svc, engine, ctx, o
}

func TestCaptureApproved(t *testing.T) {
	gw := &fakeGateway{approve: true}
	svc, engine, ctx, o := setup(t, gw)

	p, err := svc.Capture(ctx, o.ID, o.Total, "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if p.Reference != "ref-cap" {
		t.Fatalf("reference = %q", p.Reference)
	}
	if p.IdempotencyKey == "" {
		t.Fatal("capture issued without idempotency key")
	}
	if gw.lastAmount != o.Total || gw.lastKey != p.IdempotencyKey {
		t.Fatalf("gateway saw amount=%d key=%q", gw.lastAmount, gw.lastKey)
	}
	got, _ := engine.Get(ctx, o.ID)
	if got.PaymentState != order.PaymentCaptured {
		t.Fatalf("payment state = %q, want captured", got.PaymentState)
	}
}

func TestDeclineLeavesOrderUnpaid(t *testing.T) {
	gw := &fakeGateway{approve: false}
	svc, engine, ctx, o := setup(t, gw)

	_, err := svc.Capture(ctx, o.ID, o.Total, "")
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v, want ErrDeclined", err)
	}
	got, _ := engine.Get(ctx, o.ID)
	if got.PaymentState != order.PaymentUnpaid {
		t.Fatalf("declined capture changed payment state to %q", got.PaymentState)
	}
	if len(engine.Trail()) != 1 {
		t.Fatalf("declined capture wrote an audit entry")
	}
}

func TestGatewayErrorPropagates(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway unreachable")}
	svc, engine, ctx, o := setup(t, gw)

	if _, err := svc.Capture(ctx, o.ID, o.Total, ""); err == nil {
		t.Fatal("expected error from unreachable gateway")
	}
	got, _ := engine.Get(ctx, o.ID)
	if got.PaymentState != order.PaymentUnpaid {
		t.Fatalf("gateway error changed payment state to %q", got.PaymentState)
	}
}

func TestAuditFailureRefusesToMarkPaid(t *testing.T) {
	gw := &fakeGateway{approve: true}
	var fail bool
	svc, engine, ctx, o := setup(t, gw, order.WithAuditSink(func(audit.Entry) error {
		if fail {
			return errors.New("audit store down")
		}
		return nil
	}))

	fail = true
	_, err := svc.Capture(ctx, o.ID, o.Total, "")
	if !errors.Is(err, order.ErrAuditWrite) {
		t.Fatalf("err = %v, want ErrAuditWrite", err)
	}
	got, _ := engine.Get(ctx, o.ID)
	if got.PaymentState != order.PaymentUnpaid {
		t.Fatalf("payment marked despite failed audit write: %q", got.PaymentState)
	}
}

func TestRefundAfterCapture(t *testing.T) {
	gw := &fakeGateway{approve: true}
	svc, engine, ctx, o := setup(t, gw)

	if _, err := svc.Capture(ctx, o.ID, o.Total, ""); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := svc.Refund(ctx, o.ID, o.Total, ""); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	got, _ := engine.Get(ctx, o.ID)
	if got.PaymentState != order.PaymentRefunded {
		t.Fatalf("payment state = %q, want refunded", got.PaymentState)
	}
	if gw.captures != 1 || gw.refunds != 1 {
		t.Fatalf("gateway calls = %d captures / %d refunds", gw.captures, gw.refunds)
	}
}

func TestCaptureRetryWithSameKeyReplays(t *testing.T) {
	gw := &fakeGateway{approve: true}
	svc, engine, ctx, o := setup(t, gw)

	first, err := svc.Capture(ctx, o.ID, o.Total, "client-key-1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if first.IdempotencyKey != "client-key-1" || gw.lastKey != "client-key-1" {
		t.Fatalf("caller key not threaded: payment=%q gateway=%q", first.IdempotencyKey, gw.lastKey)
	}
	after, _ := engine.Get(ctx, o.ID)

	// A client retry after a timeout resubmits the same key. The gateway sees
	// the same key (it dedups on its side) and the engine replays the stored
	// payment instead of recording a second one.
	second, err := svc.Capture(ctx, o.ID, o.Total, "client-key-1")
	if err != nil {
		t.Fatalf("retry Capture: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry produced a new payment: %s vs %s", second.ID, first.ID)
	}
	if gw.lastKey != "client-key-1" {
		t.Fatalf("retry reached gateway with key %q", gw.lastKey)
	}
	final, _ := engine.Get(ctx, o.ID)
	if final.Version != after.Version {
		t.Fatalf("retry bumped version: %d -> %d", after.Version, final.Version)
	}
}

func TestEachAttemptWithoutKeyGetsFreshKey(t *testing.T) {
	gw := &fakeGateway{approve: true}
	svc, _, ctx, o := setup(t, gw)

	first, err := svc.Capture(ctx, o.ID, o.Total, "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := svc.Refund(ctx, o.ID, o.Total, ""); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if gw.lastKey == "" || gw.lastKey == first.IdempotencyKey {
		t.Fatalf("generated keys must differ per attempt: %q vs %q", first.IdempotencyKey, gw.lastKey)
	}
}

func TestInvalidAmountNeverReachesGateway(t *testing.T) {
	gw := &fakeGateway{approve: true}
	svc, _, ctx, o := setup(t, gw)

	if _, err := svc.Capture(ctx, o.ID, 0, ""); !errors.Is(err, order.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if gw.captures != 0 {
		t.Fatal("gateway charged for a non-positive amount")
	}
}
