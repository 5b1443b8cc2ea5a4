package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the complete state graph. completed and cancelled are
// terminal; cancelled is reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// ParseStatus normalizes a raw status name.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentState tracks the order's payment lifecycle. It only moves inside
// the same atomic unit as its audit record.
type PaymentState string

const (
	PaymentUnpaid   PaymentState = "unpaid"
	PaymentCaptured PaymentState = "captured"
	PaymentRefunded PaymentState = "refunded"
)

// Channel is the originating order channel.
type Channel string

const (
	ChannelVoice  Channel = "voice"
	ChannelTouch  Channel = "touch"
	ChannelKiosk  Channel = "kiosk"
	ChannelOnline Channel = "online"
)

// ParseChannel normalizes a raw channel name.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(strings.TrimSpace(strings.ToLower(raw)))
	switch c {
	case ChannelVoice, ChannelTouch, ChannelKiosk, ChannelOnline:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, raw)
	}
}

// Item is one ordered line. Amounts are minor units (cents); no floats.
type Item struct {
	ItemID    string   `json:"item_id"`
	Name      string   `json:"name"`
	Quantity  int64    `json:"quantity"`
	UnitPrice int64    `json:"unit_price"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// Order is the transactional aggregate. The tenant id is immutable after
// creation and the version increases by exactly one per accepted mutation.
type Order struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Items        []Item       `json:"items"`
	Status       Status       `json:"status"`
	Version      int64        `json:"version"`
	Subtotal     int64        `json:"subtotal"`
	Tax          int64        `json:"tax"`
	Total        int64        `json:"total"`
	PaymentState PaymentState `json:"payment_state"`
	Channel      Channel      `json:"channel"`
	Table        string       `json:"table,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PaymentKind distinguishes captures from refunds.
type PaymentKind string

const (
	PaymentCapture PaymentKind = "capture"
	PaymentRefund  PaymentKind = "refund"
)

// Payment is one recorded capture or refund against an order.
type Payment struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	TenantID       string      `json:"tenant_id"`
	Kind           PaymentKind `json:"kind"`
	Amount         int64       `json:"amount"`
	Reference      string      `json:"reference,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TableAssignment is one row of a bulk table-to-order update.
type TableAssignment struct {
	OrderID string `json:"order_id"`
	Table   string `json:"table"`
}

var (
	ErrNotFound     = errors.New("order: not found")
	ErrInvalidInput = errors.New("order: invalid input")
	ErrEmptyOrder   = errors.New("order: at least one item is required")

	// ErrInvalidTransition means the requested status change is not an edge
	// of the state graph. No write is performed.
	ErrInvalidTransition = errors.New("order: invalid status transition")

	// ErrConcurrencyConflict means the caller's expected version is stale.
	// The caller re-reads and retries; nothing was written.
	ErrConcurrencyConflict = errors.New("order: concurrent modification")

	// ErrTimeout means a store round-trip exceeded its bound. The caller
	// must re-read before retrying: the write may or may not have landed.
	ErrTimeout = errors.New("order: store operation timed out")

	// ErrAuditWrite is fatal for the enclosing transaction. An order
	// mutation without its audit record must never commit.
	ErrAuditWrite = errors.New("order: audit write failed")
)

// ConflictError carries the current version so the caller can retry without
// re-fetching unrelated state.
type ConflictError struct {
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order: concurrent modification (current version %d)", e.CurrentVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// ComputeTotals derives subtotal, tax, and total from items and the tenant's
// tax rate in basis points. Tax rounds half up on the subtotal.
func ComputeTotals(items []Item, taxRateBps int64) (subtotal, tax, total int64) {
	for _, it := range items {
		subtotal += it.UnitPrice * it.Quantity
	}
	tax = (subtotal*taxRateBps + 5000) / 10000
	total = subtotal + tax
	return subtotal, tax, total
}
