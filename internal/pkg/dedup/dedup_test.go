package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T) *SubmissionGuard {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	return NewSubmissionGuard(rdb, time.Minute)
}

func TestSubmissionGuard_Claim(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "https://www.vinted.fr/items/123")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected first claim to succeed")
	}

	ok, err = g.Claim(ctx, "https://www.vinted.fr/items/123")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to be rejected as duplicate")
	}

	// 不同 URL 互不影响
	ok, err = g.Claim(ctx, "https://www.vinted.fr/items/456")
	if err != nil {
		t.Fatalf("other claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim for a different URL to succeed")
	}
}

func TestSubmissionGuard_Release(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	if _, err := g.Claim(ctx, "https://www.vinted.fr/items/789"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := g.Release(ctx, "https://www.vinted.fr/items/789"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := g.Claim(ctx, "https://www.vinted.fr/items/789")
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim to succeed after release")
	}
}

func TestSubmissionGuard_NilGuardAllowsAll(t *testing.T) {
	var g *SubmissionGuard
	ctx := context.Background()

	ok, err := g.Claim(ctx, "https://www.vinted.fr/items/1")
	if err != nil {
		t.Fatalf("nil guard claim: %v", err)
	}
	if !ok {
		t.Fatalf("nil guard should allow every submission")
	}
	if err := g.Release(ctx, "https://www.vinted.fr/items/1"); err != nil {
		t.Fatalf("nil guard release: %v", err)
	}
}
