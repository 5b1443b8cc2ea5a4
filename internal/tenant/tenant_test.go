package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "t-100")
	id, ok := FromContext(ctx)
	if !ok || id != "t-100" {
		t.Fatalf("unexpected tenant from context: %q ok=%v", id, ok)
	}
}

func TestEmptyTenantIsNotBound(t *testing.T) {
	ctx := WithTenant(context.Background(), "  ")
	if _, ok := FromContext(ctx); ok {
		t.Fatal("blank tenant id must not bind a context")
	}
}

func TestRequiredFailsFastWithoutContext(t *testing.T) {
	if _, err := Required(context.Background()); !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name           string
		token, request string
		want           string
		err            error
	}{
		{name: "token only", token: "t-1", want: "t-1"},
		{name: "request only", request: "t-2", want: "t-2"},
		{name: "agreement", token: "t-3", request: "t-3", want: "t-3"},
		{name: "disagreement", token: "t-4", request: "t-5", err: ErrMismatch},
		{name: "neither", err: ErrNoContext},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.token, tc.request)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
