package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const balanceVersionKey = "accounts:balance:version"

// BalanceCache keeps derived ledger totals in Redis under a version that
// every posting bumps, so stale totals are never read after a commit.
type BalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *BalanceCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, balanceVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.SetNX(ctx, balanceVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, balanceVersionKey).Int64()
	}
	return ver, err
}

// Totals returns cached totals for ledger or loads and stores them.
// Concurrent misses for the same key share one load.
func (c *BalanceCache) Totals(ctx context.Context, ledger string, load func(context.Context) (Totals, error)) (Totals, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return load(ctx)
	}
	key := fmt.Sprintf("accounts:balance:%s:%d", ledger, ver)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached Totals
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	res := c.group.DoChan(key, func() (interface{}, error) {
		totals, err := load(ctx)
		if err != nil {
			return Totals{}, err
		}
		if raw, err := json.Marshal(totals); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return totals, nil
	})
	select {
	case <-ctx.Done():
		return Totals{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return Totals{}, r.Err
		}
		return r.Val.(Totals), nil
	}
}

// Bump invalidates every cached balance.
func (c *BalanceCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, balanceVersionKey).Err()
}
