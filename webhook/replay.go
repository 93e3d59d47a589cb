package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "availsync:webhook:seen:"

// ReplayGuard remembers accepted signature digests for a window so the same
// delivery is only processed once. It uses Redis when configured and an
// in-process map otherwise.
type ReplayGuard struct {
	redis redis.Cmdable
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewReplayGuard(rdb redis.Cmdable, ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = DefaultTolerance
	}
	return &ReplayGuard{
		redis: rdb,
		ttl:   ttl,
		now:   time.Now,
		seen:  map[string]time.Time{},
	}
}

// FirstSeen records digest and reports whether it was new.
func (g *ReplayGuard) FirstSeen(ctx context.Context, digest string) (bool, error) {
	if g.redis != nil {
		ok, err := g.redis.SetNX(ctx, replayKeyPrefix+digest, 1, g.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("webhook: recording delivery: %w", err)
		}
		return ok, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[digest]; ok {
		return false, nil
	}
	g.seen[digest] = now.Add(g.ttl)
	return true, nil
}
