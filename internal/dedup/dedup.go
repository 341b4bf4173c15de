// Package dedup keeps a notification slot from being delivered twice when the
// trigger fires more than once for the same minute.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard hands out one-shot claims on delivery keys.
type Guard interface {
	// Claim returns true when the caller is the first to claim key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops a claim so a later attempt can retry.
	Release(ctx context.Context, key string) error
}

// Key names one delivery: a task, the occurrence date and slot, and a channel.
func Key(taskID uint, date, hhmm, channel string) string {
	return fmt.Sprintf("notify:%d:%s:%s:%s", taskID, date, hhmm, channel)
}

// Noop claims everything. Used when no Redis is configured.
type Noop struct{}

func (Noop) Claim(context.Context, string) (bool, error) { return true, nil }

func (Noop) Release(context.Context, string) error { return nil }

// Redis stores claims as keys with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to url and checks the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (g *Redis) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (g *Redis) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *Redis) Close() error {
	return g.rdb.Close()
}
