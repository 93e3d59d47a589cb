package oclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ConnectStateTTL bounds how long an authorization request stays redeemable.
const ConnectStateTTL = 10 * time.Minute

const connectKeyPrefix = "availsync:connect:"

// ConnectStates holds pending authorization requests keyed by the OAuth
// state parameter. It uses Redis when one is configured and an in-process
// map otherwise. Each state can be taken once.
type ConnectStates struct {
	redis redis.Cmdable
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	local map[string]PendingConnect
}

func NewConnectStates(rdb redis.Cmdable) *ConnectStates {
	return &ConnectStates{
		redis: rdb,
		ttl:   ConnectStateTTL,
		now:   time.Now,
		local: map[string]PendingConnect{},
	}
}

func (c *ConnectStates) Put(ctx context.Context, state string, p PendingConnect) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now().UTC()
	}
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		now := c.now()
		for k, pending := range c.local {
			if now.After(pending.CreatedAt.Add(c.ttl)) {
				delete(c.local, k)
			}
		}
		c.local[state] = p
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, connectKeyPrefix+state, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("oclient: storing connect state: %w", err)
	}
	return nil
}

// Take returns and forgets the pending request. Unknown and expired states
// yield ErrInvalidState.
func (c *ConnectStates) Take(ctx context.Context, state string) (*PendingConnect, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		p, ok := c.local[state]
		delete(c.local, state)
		if !ok || c.now().After(p.CreatedAt.Add(c.ttl)) {
			return nil, ErrInvalidState
		}
		return &p, nil
	}

	data, err := c.redis.GetDel(ctx, connectKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidState
	} else if err != nil {
		return nil, fmt.Errorf("oclient: loading connect state: %w", err)
	}
	var p PendingConnect
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("oclient: decoding connect state: %w", err)
	}
	return &p, nil
}
