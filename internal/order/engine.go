package order

import (
	"context"

	"tablestack.io/internal/audit"
)

// CreateParams describes a new order. Prices are never caller-supplied; the
// engine resolves them through the pricing collaborator.
type CreateParams struct {
	Items   []ItemRequest
	Channel Channel
}

// ItemRequest is one requested line before pricing.
type ItemRequest struct {
	ItemID    string
	Quantity  int64
	Modifiers []string
}

// UpdateStatusParams is an optimistic status change: the caller supplies the
// version it last observed.
type UpdateStatusParams struct {
	OrderID         string
	ExpectedVersion int64
	NewStatus       Status
	Reason          string
}

// PaymentParams records a gateway-approved capture or refund.
type PaymentParams struct {
	OrderID        string
	Kind           PaymentKind
	Amount         int64
	Reference      string
	IdempotencyKey string
}

// Engine owns the order lifecycle. Every method requires an active tenant
// context; running one without is a wiring defect and fails fast. Mutations
// commit together with their audit entry or not at all.
type Engine interface {
	Create(ctx context.Context, params CreateParams) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, limit int, afterID string) ([]Order, error)
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (Order, error)
	AssignTables(ctx context.Context, assignments []TableAssignment) (int64, error)
	RecordPayment(ctx context.Context, params PaymentParams) (Payment, error)
	AuditTrail(ctx context.Context, orderID string) ([]audit.Entry, error)
}

// Notifier receives fire-and-forget status notifications after a successful
// commit. Delivery failures are the notifier's problem, never the
// transaction's.
type Notifier interface {
	OrderStatusChanged(o Order, from Status, reason string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) OrderStatusChanged(Order, Status, string) {}
