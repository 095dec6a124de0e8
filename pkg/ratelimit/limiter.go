// Package ratelimit provides admission control for the classification and
// digest endpoints: per-identity request and email budgets, a bounded
// identity table, and the LLM circuit breaker.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"mailsense/core/domain"
	"mailsense/pkg/apperr"
)

// Config holds the limiter budgets. Emails are the expensive unit: a batch
// endpoint counts by payload size, not by request count.
type Config struct {
	RequestsPerMinute int
	EmailsPerMinute   int
	EmailsPerHour     int
	MaxIdentities     int // hard cap on the tracked-identity table
}

// Limiter admits requests per caller identity. Dispatch is single-threaded
// under one mutex; buckets are cheap enough that contention is not a concern
// at this scale. Identities are evicted LRU once the table hits its cap.
type Limiter struct {
	cfg   Config
	clock domain.Clock

	mu    sync.Mutex
	byKey map[string]*identity
	lru   *list.List // front = most recently used
}

type identity struct {
	key       string
	elem      *list.Element
	requests  bucket
	emailsMin bucket
	emailsHr  bucket
}

// bucket is a token bucket refilled continuously from the injected clock.
type bucket struct {
	capacity float64
	tokens   float64
	perSec   float64
	last     time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) bucket {
	return bucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		perSec:   float64(capacity) / window.Seconds(),
		last:     now,
	}
}

func (b *bucket) take(n float64, now time.Time) (ok bool, retryAfter time.Duration) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.perSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	deficit := n - b.tokens
	return false, time.Duration(deficit/b.perSec*float64(time.Second)) + time.Second
}

// New creates a Limiter. clock is injected so tests advance time directly.
func New(cfg Config, clock domain.Clock) *Limiter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Limiter{
		cfg:   cfg,
		clock: clock,
		byKey: make(map[string]*identity),
		lru:   list.New(),
	}
}

// Allow admits a request carrying emailCount emails for the identity key.
// On rejection it returns RateLimited with the retry-after hint and the name
// of the breached limit; no budget is consumed on rejection.
func (l *Limiter) Allow(key string, emailCount int) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.lookup(key, now)

	// Check all budgets before consuming any, so a rejected request leaves
	// every counter untouched.
	if ok, wait := id.requests.peek(1, now); !ok {
		return apperr.RateLimited(wait, "requests_per_minute")
	}
	if ok, wait := id.emailsMin.peek(float64(emailCount), now); !ok {
		return apperr.RateLimited(wait, "emails_per_minute")
	}
	if ok, wait := id.emailsHr.peek(float64(emailCount), now); !ok {
		return apperr.RateLimited(wait, "emails_per_hour")
	}

	id.requests.take(1, now)
	id.emailsMin.take(float64(emailCount), now)
	id.emailsHr.take(float64(emailCount), now)
	return nil
}

// peek is take without consumption.
func (b *bucket) peek(n float64, now time.Time) (bool, time.Duration) {
	tokens := b.tokens + now.Sub(b.last).Seconds()*b.perSec
	if tokens > b.capacity {
		tokens = b.capacity
	}
	if tokens >= n {
		return true, 0
	}
	deficit := n - tokens
	return false, time.Duration(deficit/b.perSec*float64(time.Second)) + time.Second
}

// lookup finds or creates the identity, touching LRU order and evicting the
// coldest entry when the table is full. The eviction lock is the same mutex;
// sweep cost is O(1).
func (l *Limiter) lookup(key string, now time.Time) *identity {
	if id, ok := l.byKey[key]; ok {
		l.lru.MoveToFront(id.elem)
		return id
	}
	if l.cfg.MaxIdentities > 0 && len(l.byKey) >= l.cfg.MaxIdentities {
		oldest := l.lru.Back()
		if oldest != nil {
			evicted := oldest.Value.(*identity)
			l.lru.Remove(oldest)
			delete(l.byKey, evicted.key)
		}
	}
	id := &identity{
		key:       key,
		requests:  newBucket(l.cfg.RequestsPerMinute, time.Minute, now),
		emailsMin: newBucket(l.cfg.EmailsPerMinute, time.Minute, now),
		emailsHr:  newBucket(l.cfg.EmailsPerHour, time.Hour, now),
	}
	id.elem = l.lru.PushFront(id)
	l.byKey[key] = id
	return id
}

// TrackedIdentities returns the current table size, for metrics.
func (l *Limiter) TrackedIdentities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
