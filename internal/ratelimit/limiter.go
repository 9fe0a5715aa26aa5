// Package ratelimit throttles control API callers, either in process or
// shared between instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/utils"
)

// Limiter decides whether a caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Stats() map[string]interface{}
	Close() error
}

// New creates a limiter for the configured backend. client is only used,
// and required, for the redis backend.
func New(config Config, client *redis.Client) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error())
	}
	switch config.Backend {
	case BackendRedis:
		if client == nil {
			return nil, errors.ConfigError("redis client is required for the redis rate limiter")
		}
		return NewRedisLimiter(config, client), nil
	default:
		return NewLocalLimiter(config), nil
	}
}

// localLimiter keeps one token bucket per key
type localLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates an in-process limiter using golang.org/x/time/rate
func NewLocalLimiter(config Config) Limiter {
	return &localLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

func (rl *localLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !rl.config.Enabled {
		return true, nil
	}
	return rl.limiterFor(key).Allow(), nil
}

func (rl *localLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup()
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup()
		}
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// cleanup removes limiters that haven't been used recently
func (rl *localLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupPeriod)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = time.Now()
}

func (rl *localLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]interface{}{
		"type":                string(BackendLocal),
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"active_keys":         len(rl.limiters),
		"max_keys":            rl.config.MaxKeys,
	}
}

func (rl *localLimiter) Close() error { return nil }

// redisLimiter counts requests in a one second sliding window kept in a
// sorted set per key.
type redisLimiter struct {
	config Config
	client *redis.Client
	window time.Duration
}

// NewRedisLimiter creates a limiter shared through redis. Each key admits
// BurstSize requests per second.
func NewRedisLimiter(config Config, client *redis.Client) Limiter {
	return &redisLimiter{config: config, client: client, window: time.Second}
}

func (rl *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !rl.config.Enabled {
		return true, nil
	}

	redisKey := rl.config.KeyPrefix + key
	now := time.Now()
	windowStart := now.Add(-rl.window).UnixNano()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixNano()), Member: utils.NewMessageID()})
	pipe.Expire(ctx, redisKey, rl.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.ConnectionError(fmt.Sprintf("failed to check rate limit for %s", key), err)
	}
	return int(countCmd.Val()) < rl.config.BurstSize, nil
}

func (rl *redisLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":       string(BackendRedis),
		"enabled":    rl.config.Enabled,
		"burst_size": rl.config.BurstSize,
		"key_prefix": rl.config.KeyPrefix,
	}
}

func (rl *redisLimiter) Close() error {
	return rl.client.Close()
}
