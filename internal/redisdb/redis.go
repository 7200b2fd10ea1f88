package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard is a redis-backed idempotency registry. Each applied business-record
// step claims its deterministic key with SET NX; a redelivered step finds the
// key and is skipped.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGuard(addr, password string, db int, ttl time.Duration) (*Guard, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Guard{rdb: rdb, ttl: ttl}, nil
}

// Begin claims the key. It returns false when the key was already claimed by
// an earlier delivery.
func (g *Guard) Begin(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, "idem:"+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release drops a claim whose mutation failed, making the key claimable
// again for the retry.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, "idem:"+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (g *Guard) Close() error {
	return g.rdb.Close()
}
