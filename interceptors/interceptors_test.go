package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/Keksclan/goNutStash/contextx"
	"github.com/Keksclan/goNutStash/ratelimit"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/stash.RenderCache/Get"}

// tag returns an interceptor that records its name around the handler
// call, for asserting chain execution order.
func tag(name string, order *[]string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		*order = append(*order, name+":pre")
		resp, err := handler(ctx, req)
		*order = append(*order, name+":post")
		return resp, err
	}
}

func TestChainUnary_Empty(t *testing.T) {
	if got := ChainUnary(nil); got != nil {
		t.Fatal("empty chain should be nil")
	}
}

func TestChainUnary_Single(t *testing.T) {
	var order []string
	chain := ChainUnary([]grpc.UnaryServerInterceptor{tag("a", &order)})

	resp, err := chain(t.Context(), "req", testInfo, func(_ context.Context, req any) (any, error) {
		order = append(order, "handler")
		return "resp", nil
	})
	if err != nil || resp != "resp" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
	want := []string{"a:pre", "handler", "a:post"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainUnary_ExecutesInOrder(t *testing.T) {
	var order []string
	chain := ChainUnary([]grpc.UnaryServerInterceptor{
		tag("a", &order), tag("b", &order), tag("c", &order),
	})

	_, err := chain(t.Context(), "req", testInfo, func(context.Context, any) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"a:pre", "b:pre", "c:pre", "handler", "c:post", "b:post", "a:post"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecoveryUnary_RecoversPanic(t *testing.T) {
	ic := RecoveryUnary(zerolog.Nop())

	resp, err := ic(t.Context(), "req", testInfo, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if resp != nil {
		t.Fatalf("resp = %v, want nil after panic", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}

func TestRecoveryUnary_PassesThrough(t *testing.T) {
	ic := RecoveryUnary(zerolog.Nop())
	wantErr := errors.New("handler error")

	resp, err := ic(t.Context(), "req", testInfo, func(context.Context, any) (any, error) {
		return "ok", wantErr
	})
	if resp != "ok" || !errors.Is(err, wantErr) {
		t.Fatalf("resp=%v err=%v, want pass-through", resp, err)
	}
}

func TestRequestIDUnary_InjectsID(t *testing.T) {
	ic := RequestIDUnary()

	var seen string
	_, err := ic(t.Context(), "req", testInfo, func(ctx context.Context, _ any) (any, error) {
		seen = contextx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen == "" {
		t.Fatal("handler saw no request ID")
	}
}

func TestRequestIDUnary_KeepsExistingID(t *testing.T) {
	ic := RequestIDUnary()
	ctx := contextx.WithRequestID(t.Context(), "fixed-id")

	var seen string
	_, _ = ic(ctx, "req", testInfo, func(ctx context.Context, _ any) (any, error) {
		seen = contextx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen != "fixed-id" {
		t.Fatalf("request ID = %q, want the pre-existing one", seen)
	}
}

func TestRateLimitUnary_RejectsWhenExhausted(t *testing.T) {
	ic := RateLimitUnary(ratelimit.NewLimiter(1, 1))
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	if _, err := ic(t.Context(), "req", testInfo, handler); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	_, err := ic(t.Context(), "req", testInfo, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("code = %v, want ResourceExhausted", status.Code(err))
	}
}
