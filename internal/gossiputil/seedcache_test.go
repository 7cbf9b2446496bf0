package gossiputil

import (
	"context"
	"testing"
	"time"
)

func TestResolveLiteralIPIsCached(t *testing.T) {
	r := NewSeedResolver(8, time.Minute)
	ctx := context.Background()

	ap, err := r.Resolve(ctx, "127.0.0.1:7000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ap.String() != "127.0.0.1:7000" {
		t.Fatalf("got %v, want 127.0.0.1:7000", ap)
	}

	ap2, err := r.Resolve(ctx, "127.0.0.1:7000")
	if err != nil {
		t.Fatalf("resolve cached: %v", err)
	}
	if ap2 != ap {
		t.Fatalf("cached resolution changed: %v vs %v", ap2, ap)
	}
}

func TestResolveInvalidSeedErrors(t *testing.T) {
	r := NewSeedResolver(8, time.Minute)
	if _, err := r.Resolve(context.Background(), "not-a-hostport"); err == nil {
		t.Fatalf("expected an error for a malformed seed string")
	}
}

func TestResolveIPv6Literal(t *testing.T) {
	r := NewSeedResolver(8, time.Minute)
	ap, err := r.Resolve(context.Background(), "[::1]:9001")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ap.Port() != 9001 || !ap.Addr().Is6() {
		t.Fatalf("unexpected resolution: %v", ap)
	}
}
