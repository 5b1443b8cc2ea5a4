package payments

import "context"

// SandboxGateway approves every capture and refund without contacting a
// processor. Development and demo deployments run against it; production
// wires the processor client in its place.
type SandboxGateway struct{}

func (SandboxGateway) Capture(_ context.Context, _ int64, idempotencyKey string) (Result, error) {
	return Result{Approved: true, Reference: "sandbox-cap-" + idempotencyKey}, nil
}

func (SandboxGateway) Refund(_ context.Context, _ int64, idempotencyKey string) (Result, error) {
	return Result{Approved: true, Reference: "sandbox-ref-" + idempotencyKey}, nil
}
