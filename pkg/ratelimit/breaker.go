package ratelimit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// CostBreaker guards the LLM tier: a failure-rate circuit breaker plus a
// daily spend cap. Both reject before the LLM or storage is touched.
type CostBreaker struct {
	cb       *gobreaker.CircuitBreaker
	costs    out.CostRepository
	capUSD   float64
	clock    domain.Clock
	onBreach func(reason string)
}

// NewCostBreaker wires the breaker. onBreach is invoked once per rejection
// for metrics; it may be nil.
func NewCostBreaker(costs out.CostRepository, capUSD float64, clock domain.Clock, onBreach func(reason string)) *CostBreaker {
	if clock == nil {
		clock = domain.RealClock{}
	}
	b := &CostBreaker{
		costs:    costs,
		capUSD:   capUSD,
		clock:    clock,
		onBreach: onBreach,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return b
}

// Execute runs fn behind the breaker and the cost cap. Returns CircuitOpen
// when either rejects.
func (b *CostBreaker) Execute(ctx context.Context, fn func() error) error {
	if b.capUSD > 0 && b.costs != nil {
		dayStart := b.clock.Now().Truncate(24 * time.Hour)
		spend, err := b.costs.SpendSince(ctx, dayStart)
		if err == nil && spend >= b.capUSD {
			b.breach("daily_cost_cap")
			return apperr.CircuitOpen("daily cost cap reached")
		}
	}

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		b.breach("failure_rate")
		return apperr.CircuitOpen("llm failure rate")
	}
	return err
}

func (b *CostBreaker) breach(reason string) {
	if b.onBreach != nil {
		b.onBreach(reason)
	}
}

// State exposes the underlying breaker state for /health.
func (b *CostBreaker) State() string { return b.cb.State().String() }
