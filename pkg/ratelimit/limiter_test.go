package ratelimit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"mailsense/pkg/apperr"
)

// stepClock is a manually advanced clock for limiter tests.
type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *stepClock) *Limiter {
	return New(Config{
		RequestsPerMinute: 60,
		EmailsPerMinute:   500,
		EmailsPerHour:     5000,
		MaxIdentities:     100,
	}, clock)
}

func TestAllowWithinBudget(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock)

	for i := 0; i < 10; i++ {
		if err := l.Allow("user-1", 10); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
}

func TestEmailBudgetExhaustion(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock)

	// Five batches of 200 emails against a 500/min budget: the first two
	// pass, the third is rejected on emails_per_minute.
	if err := l.Allow("user-1", 200); err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	if err := l.Allow("user-1", 200); err != nil {
		t.Fatalf("batch 2: %v", err)
	}

	err := l.Allow("user-1", 200)
	if err == nil {
		t.Fatal("batch 3 should have been rejected")
	}
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Kind != apperr.KindRateLimited {
		t.Errorf("kind = %s, want %s", appErr.Kind, apperr.KindRateLimited)
	}
	if appErr.Details["limit"] != "emails_per_minute" {
		t.Errorf("limit = %v, want emails_per_minute", appErr.Details["limit"])
	}
	retryAfter, ok := appErr.Details["retry_after"].(int)
	if !ok || retryAfter <= 0 {
		t.Errorf("retry_after = %v, want positive seconds", appErr.Details["retry_after"])
	}
}

func TestRejectionConsumesNothing(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock)

	if err := l.Allow("user-1", 450); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	// Too large: rejected, but must not touch the remaining 50-email budget.
	if err := l.Allow("user-1", 200); err == nil {
		t.Fatal("oversized batch should have been rejected")
	}
	if err := l.Allow("user-1", 50); err != nil {
		t.Fatalf("remaining budget consumed by a rejected request: %v", err)
	}
}

func TestBudgetRefillsOverTime(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock)

	if err := l.Allow("user-1", 500); err != nil {
		t.Fatalf("initial batch: %v", err)
	}
	if err := l.Allow("user-1", 100); err == nil {
		t.Fatal("budget should be exhausted")
	}

	clock.advance(time.Minute)
	if err := l.Allow("user-1", 100); err != nil {
		t.Fatalf("budget did not refill after a minute: %v", err)
	}
}

func TestRequestBudgetIndependentOfEmails(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := New(Config{
		RequestsPerMinute: 3,
		EmailsPerMinute:   500,
		EmailsPerHour:     5000,
		MaxIdentities:     100,
	}, clock)

	for i := 0; i < 3; i++ {
		if err := l.Allow("user-1", 1); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	err := l.Allow("user-1", 1)
	if err == nil {
		t.Fatal("fourth request should hit requests_per_minute")
	}
	appErr := apperr.AsAppError(err)
	if appErr.Details["limit"] != "requests_per_minute" {
		t.Errorf("limit = %v, want requests_per_minute", appErr.Details["limit"])
	}
}

func TestIdentitiesIsolated(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock)

	if err := l.Allow("user-1", 500); err != nil {
		t.Fatalf("user-1: %v", err)
	}
	// user-2 has a full budget regardless of user-1's spend.
	if err := l.Allow("user-2", 500); err != nil {
		t.Fatalf("user-2: %v", err)
	}
}

func TestIdentityTableEviction(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := New(Config{
		RequestsPerMinute: 60,
		EmailsPerMinute:   500,
		EmailsPerHour:     5000,
		MaxIdentities:     10,
	}, clock)

	for i := 0; i < 25; i++ {
		if err := l.Allow(fmt.Sprintf("user-%d", i), 1); err != nil {
			t.Fatalf("user-%d: %v", i, err)
		}
	}
	if got := l.TrackedIdentities(); got != 10 {
		t.Errorf("tracked identities = %d, want 10", got)
	}

	// The evicted identity comes back with a fresh budget; that is the
	// accepted trade for a bounded table.
	if err := l.Allow("user-0", 500); err != nil {
		t.Fatalf("re-admitted identity: %v", err)
	}
}
