package audit

import (
	"context"
	"strings"
	"time"
)

// Action names the audit-significant events. Every committed order mutation
// of one of these kinds has exactly one Entry, written in the same atomic
// unit as the mutation itself.
type Action string

const (
	ActionOrderCreated    Action = "order.created"
	ActionStatusChanged   Action = "order.status_changed"
	ActionPaymentCaptured Action = "payment.captured"
	ActionPaymentRefunded Action = "payment.refunded"
)

// Entry is an immutable compliance record: who, when, what changed.
type Entry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	OrderID     string    `json:"order_id"`
	PrincipalID string    `json:"principal_id"`
	Action      Action    `json:"action"`
	FromStatus  string    `json:"from_status,omitempty"`
	ToStatus    string    `json:"to_status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier so audit entries can be
// correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
