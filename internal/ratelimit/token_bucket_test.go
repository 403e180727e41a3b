package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute)
}

func TestAllow_ConsumesCapacity(t *testing.T) {
	b := testBucket(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := b.Allow(ctx, "rl:proj-1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within capacity", i)
		}
	}

	allowed, tokens, err := b.Allow(ctx, "rl:proj-1")
	if err != nil {
		t.Fatalf("allow over capacity: %v", err)
	}
	if allowed {
		t.Fatal("request over capacity should be denied")
	}
	if tokens >= 1 {
		t.Fatalf("tokens = %v, want < 1 after exhaustion", tokens)
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	b := testBucket(t, 1, 0)
	ctx := context.Background()

	if allowed, _, _ := b.Allow(ctx, "rl:proj-a"); !allowed {
		t.Fatal("first request on proj-a should pass")
	}
	if allowed, _, _ := b.Allow(ctx, "rl:proj-a"); allowed {
		t.Fatal("second request on proj-a should be denied")
	}
	if allowed, _, _ := b.Allow(ctx, "rl:proj-b"); !allowed {
		t.Fatal("proj-b has its own bucket")
	}
}

func TestAllow_Refills(t *testing.T) {
	b := testBucket(t, 1, 1000)
	ctx := context.Background()

	if allowed, _, _ := b.Allow(ctx, "rl:proj-1"); !allowed {
		t.Fatal("first request should pass")
	}
	if allowed, _, _ := b.Allow(ctx, "rl:proj-1"); allowed {
		t.Fatal("bucket should be empty immediately after")
	}

	time.Sleep(20 * time.Millisecond)
	if allowed, _, _ := b.Allow(ctx, "rl:proj-1"); !allowed {
		t.Fatal("bucket should refill at 1000 tokens/s")
	}
}
