package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tablestack.io/internal/audit"
	"tablestack.io/internal/auth"
	"tablestack.io/internal/ids"
	"tablestack.io/internal/pricing"
	"tablestack.io/internal/tenant"
)

// InMemory implements Engine with in-process concurrency safety. It mirrors
// the Postgres engine's semantics (version checks, audit pairing) so tests
// and demo mode exercise the same contract.
type InMemory struct {
	pricing  pricing.Source
	tenants  tenant.Store
	notifier Notifier
	now      func() time.Time

	// auditWrite is the injectable audit sink. When it fails, the paired
	// mutation must not be visible afterwards.
	auditWrite func(audit.Entry) error

	mu       sync.RWMutex
	orders   map[string]*Order // tenantID/orderID
	trail    []audit.Entry
	payments map[string][]Payment // tenantID/orderID
	idem     map[string]Payment   // tenantID/idempotencyKey
}

// InMemoryOption configures the in-memory engine.
type InMemoryOption func(*InMemory)

// WithNotifier wires the fire-and-forget status notifier.
func WithNotifier(n Notifier) InMemoryOption {
	return func(e *InMemory) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithAuditSink overrides the audit sink. Tests inject failures here to
// assert mutation/audit atomicity.
func WithAuditSink(fn func(audit.Entry) error) InMemoryOption {
	return func(e *InMemory) {
		if fn != nil {
			e.auditWrite = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) InMemoryOption {
	return func(e *InMemory) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewInMemory creates a fresh engine.
func NewInMemory(prices pricing.Source, tenants tenant.Store, opts ...InMemoryOption) *InMemory {
	e := &InMemory{
		pricing:  prices,
		tenants:  tenants,
		notifier: NopNotifier{},
		now:      time.Now,
		orders:   make(map[string]*Order),
		payments: make(map[string][]Payment),
		idem:     make(map[string]Payment),
	}
	e.auditWrite = func(entry audit.Entry) error {
		e.trail = append(e.trail, entry)
		return nil
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Engine = (*InMemory)(nil)

func (e *InMemory) Create(ctx context.Context, params CreateParams) (Order, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return Order{}, err
	}
	if len(params.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}

	ten, err := e.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return Order{}, fmt.Errorf("load tenant config: %w", err)
	}

	items := make([]Item, 0, len(params.Items))
	for _, req := range params.Items {
		if req.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity must be > 0", ErrInvalidInput)
		}
		quote, err := e.pricing.PriceFor(ctx, tenantID, req.ItemID)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		items = append(items, Item{
			ItemID:    req.ItemID,
			Name:      quote.Name,
			Quantity:  req.Quantity,
			UnitPrice: quote.UnitPrice,
			Modifiers: req.Modifiers,
		})
	}
	subtotal, tax, total := ComputeTotals(items, ten.TaxRateBps)

	now := e.now().UTC()
	o := Order{
		ID:           ids.New(),
		TenantID:     tenantID,
		Items:        items,
		Status:       StatusPending,
		Version:      0,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
		PaymentState: PaymentUnpaid,
		Channel:      params.Channel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Audit first: if the audit record cannot be written, the order must not
	// exist. Rejecting the order beats accepting one with no trail.
	if err := e.auditWrite(e.entry(ctx, o, audit.ActionOrderCreated, "", string(StatusPending), "", 0)); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	e.orders[key(tenantID, o.ID)] = &o
	return o, nil
}

func (e *InMemory) Get(ctx context.Context, orderID string) (Order, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return Order{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[key(tenantID, orderID)]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (e *InMemory) List(ctx context.Context, limit int, afterID string) ([]Order, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var res []Order
	for k, o := range e.orders {
		if !strings.HasPrefix(k, tenantID+"/") {
			continue
		}
		if afterID != "" && o.ID <= afterID {
			continue
		}
		res = append(res, cloneOrder(o))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (e *InMemory) UpdateStatus(ctx context.Context, params UpdateStatusParams) (Order, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return Order{}, err
	}

	e.mu.Lock()
	o, ok := e.orders[key(tenantID, params.OrderID)]
	if !ok {
		e.mu.Unlock()
		return Order{}, ErrNotFound
	}
	if o.Version != params.ExpectedVersion {
		current := o.Version
		e.mu.Unlock()
		return Order{}, &ConflictError{CurrentVersion: current}
	}
	if !CanTransition(o.Status, params.NewStatus) {
		e.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, params.NewStatus)
	}

	from := o.Status
	updated := cloneOrder(o)
	updated.Status = params.NewStatus
	updated.Version = o.Version + 1
	updated.UpdatedAt = e.now().UTC()

	if err := e.auditWrite(e.entry(ctx, updated, audit.ActionStatusChanged, string(from), string(params.NewStatus), params.Reason, 0)); err != nil {
		e.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	*o = updated
	e.mu.Unlock()

	e.notifier.OrderStatusChanged(updated, from, params.Reason)
	return updated, nil
}

func (e *InMemory) AssignTables(ctx context.Context, assignments []TableAssignment) (int64, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return 0, err
	}
	if len(assignments) == 0 {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var affected int64
	now := e.now().UTC()
	for _, a := range assignments {
		o, ok := e.orders[key(tenantID, a.OrderID)]
		if !ok {
			continue
		}
		o.Table = a.Table
		o.Version++
		o.UpdatedAt = now
		affected++
	}
	return affected, nil
}

func (e *InMemory) RecordPayment(ctx context.Context, params PaymentParams) (Payment, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return Payment{}, err
	}
	if params.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Replay lookup is tenant-qualified, matching the (tenant_id,
	// idempotency_key) unique constraint in Postgres. The same key reused by
	// another tenant must never surface a foreign payment.
	if params.IdempotencyKey != "" {
		if p, ok := e.idem[key(tenantID, params.IdempotencyKey)]; ok {
			return p, nil
		}
	}

	o, ok := e.orders[key(tenantID, params.OrderID)]
	if !ok {
		return Payment{}, ErrNotFound
	}

	var action audit.Action
	var state PaymentState
	switch params.Kind {
	case PaymentCapture:
		action, state = audit.ActionPaymentCaptured, PaymentCaptured
	case PaymentRefund:
		if o.PaymentState != PaymentCaptured {
			return Payment{}, fmt.Errorf("%w: refund requires a captured payment", ErrInvalidInput)
		}
		action, state = audit.ActionPaymentRefunded, PaymentRefunded
	default:
		return Payment{}, fmt.Errorf("%w: unknown payment kind %q", ErrInvalidInput, params.Kind)
	}

	p := Payment{
		ID:             ids.New(),
		OrderID:        o.ID,
		TenantID:       tenantID,
		Kind:           params.Kind,
		Amount:         params.Amount,
		Reference:      params.Reference,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      e.now().UTC(),
	}

	// Same fail-fast pairing as Create: no audit record, no payment state.
	preview := cloneOrder(o)
	preview.PaymentState = state
	preview.Version = o.Version + 1
	if err := e.auditWrite(e.entry(ctx, preview, action, string(o.PaymentState), string(state), "", params.Amount)); err != nil {
		return Payment{}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	o.PaymentState = state
	o.Version++
	o.UpdatedAt = p.CreatedAt
	e.payments[key(tenantID, o.ID)] = append(e.payments[key(tenantID, o.ID)], p)
	if params.IdempotencyKey != "" {
		e.idem[key(tenantID, params.IdempotencyKey)] = p
	}
	return p, nil
}

// AuditTrail returns the tenant's audit entries for one order, oldest first.
func (e *InMemory) AuditTrail(ctx context.Context, orderID string) ([]audit.Entry, error) {
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var res []audit.Entry
	for _, entry := range e.trail {
		if entry.TenantID == tenantID && entry.OrderID == orderID {
			res = append(res, entry)
		}
	}
	return res, nil
}

// Trail returns a copy of the audit entries. Test/demo support.
func (e *InMemory) Trail() []audit.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]audit.Entry, len(e.trail))
	copy(out, e.trail)
	return out
}

func (e *InMemory) entry(ctx context.Context, o Order, action audit.Action, from, to, reason string, amount int64) audit.Entry {
	principal := "system"
	if s, ok := auth.SessionFromContext(ctx); ok {
		principal = s.PrincipalID
	}
	return audit.Entry{
		ID:          ids.New(),
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		PrincipalID: principal,
		Action:      action,
		FromStatus:  from,
		ToStatus:    to,
		Reason:      reason,
		Amount:      amount,
		RequestID:   audit.RequestIDFromContext(ctx),
		OccurredAt:  e.now().UTC(),
	}
}

func key(tenantID, orderID string) string { return tenantID + "/" + orderID }

func cloneOrder(o *Order) Order {
	out := *o
	out.Items = make([]Item, len(o.Items))
	copy(out.Items, o.Items)
	return out
}
