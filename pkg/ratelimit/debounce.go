package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Debouncer suppresses duplicate work within a time window. Used for the
// /classify idempotence window: a re-submitted batch returns the same result
// and produces no duplicate learning writes. Redis-backed when available so
// the window spans replicas; a local map covers single-process deployments.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration

	mu    sync.Mutex
	local map[string]time.Time
}

// NewDebouncer creates a debouncer. redisClient may be nil.
func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		local:    make(map[string]time.Time),
	}
}

// Seen reports whether key was marked within the window.
func (d *Debouncer) Seen(ctx context.Context, key string) bool {
	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, d.redisKey(key)).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.local[key]
	return ok && time.Since(last) < d.duration
}

// Mark records the key for the window.
func (d *Debouncer) Mark(ctx context.Context, key string) {
	if d.redis != nil {
		d.redis.Set(ctx, d.redisKey(key), "1", d.duration)
	}

	d.mu.Lock()
	d.local[key] = time.Now()
	// Opportunistic sweep keeps the local map bounded.
	if len(d.local) > 4096 {
		cutoff := time.Now().Add(-2 * d.duration)
		for k, v := range d.local {
			if v.Before(cutoff) {
				delete(d.local, k)
			}
		}
	}
	d.mu.Unlock()
}

func (d *Debouncer) redisKey(key string) string {
	return fmt.Sprintf("dedupe:%s", key)
}
