package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestReplayGuard_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewReplayGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	if first, err := g.FirstSeen(ctx, "abc"); err != nil || !first {
		t.Fatalf("first delivery = %v, %v", first, err)
	}
	if first, _ := g.FirstSeen(ctx, "abc"); first {
		t.Error("second delivery reported as new")
	}
	mr.FastForward(time.Minute + time.Second)
	if first, _ := g.FirstSeen(ctx, "abc"); !first {
		t.Error("delivery after ttl reported as duplicate")
	}
}

func TestReplayGuard_Local(t *testing.T) {
	g := NewReplayGuard(nil, time.Minute)
	now := signedAt
	g.now = func() time.Time { return now }
	ctx := context.Background()

	if first, _ := g.FirstSeen(ctx, "abc"); !first {
		t.Fatal("first delivery reported as duplicate")
	}
	if first, _ := g.FirstSeen(ctx, "abc"); first {
		t.Error("second delivery reported as new")
	}
	now = now.Add(2 * time.Minute)
	if first, _ := g.FirstSeen(ctx, "abc"); !first {
		t.Error("expired digest still remembered")
	}
}
