// Package payments orchestrates the payment gateway collaborator and the
// order engine's audited payment records. Gateway wire details are out of
// scope; any non-success result means "do not mark paid".
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tablestack.io/internal/order"
)

// ErrDeclined means the gateway did not approve the charge. The order's
// payment state is untouched.
var ErrDeclined = errors.New("payments: gateway declined")

// Result is the gateway's answer to a capture or refund attempt.
type Result struct {
	Approved  bool
	Reference string
}

// Gateway is the external payment processor capability.
type Gateway interface {
	Capture(ctx context.Context, amount int64, idempotencyKey string) (Result, error)
	Refund(ctx context.Context, amount int64, idempotencyKey string) (Result, error)
}

// Service runs the capture/refund flow: gateway first, then the atomically
// audited state change. A gateway decline never touches the order; an audit
// failure refuses to mark the payment rather than losing the record.
type Service struct {
	gateway Gateway
	engine  order.Engine
}

// NewService wires the gateway to the engine.
func NewService(gateway Gateway, engine order.Engine) (*Service, error) {
	if gateway == nil {
		return nil, errors.New("payments: gateway is required")
	}
	if engine == nil {
		return nil, errors.New("payments: order engine is required")
	}
	return &Service{gateway: gateway, engine: engine}, nil
}

// Capture charges the gateway and records the capture against the order.
// idempotencyKey is the caller's retry token: resubmitting with the same key
// replays the stored payment instead of charging again. Empty means the
// caller cannot retry safely, so a fresh key is minted per attempt.
func (s *Service) Capture(ctx context.Context, orderID string, amount int64, idempotencyKey string) (order.Payment, error) {
	return s.run(ctx, orderID, amount, idempotencyKey, order.PaymentCapture)
}

// Refund reverses a prior capture through the gateway and records it.
func (s *Service) Refund(ctx context.Context, orderID string, amount int64, idempotencyKey string) (order.Payment, error) {
	return s.run(ctx, orderID, amount, idempotencyKey, order.PaymentRefund)
}

func (s *Service) run(ctx context.Context, orderID string, amount int64, idemKey string, kind order.PaymentKind) (order.Payment, error) {
	if amount <= 0 {
		return order.Payment{}, fmt.Errorf("%w: amount must be > 0", order.ErrInvalidInput)
	}
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	var (
		res Result
		err error
	)
	switch kind {
	case order.PaymentCapture:
		res, err = s.gateway.Capture(ctx, amount, idemKey)
	case order.PaymentRefund:
		res, err = s.gateway.Refund(ctx, amount, idemKey)
	default:
		return order.Payment{}, fmt.Errorf("%w: unknown payment kind %q", order.ErrInvalidInput, kind)
	}
	if err != nil {
		return order.Payment{}, fmt.Errorf("payments: gateway call: %w", err)
	}
	if !res.Approved {
		return order.Payment{}, ErrDeclined
	}

	return s.engine.RecordPayment(ctx, order.PaymentParams{
		OrderID:        orderID,
		Kind:           kind,
		Amount:         amount,
		Reference:      res.Reference,
		IdempotencyKey: idemKey,
	})
}
