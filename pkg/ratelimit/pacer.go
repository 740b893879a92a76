// Package ratelimit implements the pacing policies consulted by dispatch
// workers before starting a mapper call: a fixed minimum delay between
// successive call starts, and a shared sliding-window budget over calls and
// tokens.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pacing decisions.
var (
	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapping_rate_limit_waits_total",
		Help: "Total number of call starts delayed by a pacing policy",
	}, []string{"policy"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapping_rate_limit_wait_seconds",
		Help:    "Time spent waiting on pacing policies before call start",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"policy"})
)

// Pacer gates call starts. Wait blocks until the policy admits a call
// estimated at estimatedTokens, or ctx is cancelled. Record accounts a
// completed call's actual token usage.
type Pacer interface {
	Wait(ctx context.Context, estimatedTokens int) error
	Record(tokens int)
}

// Nop is a pacer that admits every call immediately.
type Nop struct{}

// Wait implements Pacer.
func (Nop) Wait(context.Context, int) error { return nil }

// Record implements Pacer.
func (Nop) Record(int) {}

// FixedDelay enforces a minimum gap between successive call starts. It is
// intended for single-worker runs where steady spacing is wanted instead of
// a shared budget.
type FixedDelay struct {
	gap time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewFixedDelay creates a pacer admitting at most one call start per gap.
func NewFixedDelay(gap time.Duration) *FixedDelay {
	return &FixedDelay{gap: gap}
}

// Wait implements Pacer.
func (p *FixedDelay) Wait(ctx context.Context, _ int) error {
	p.mu.Lock()
	now := time.Now()
	wait := p.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	start := now.Add(wait)
	p.next = start.Add(p.gap)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}

	rateLimitWaitsTotal.WithLabelValues("fixed_delay").Inc()
	rateLimitWaitSeconds.WithLabelValues("fixed_delay").Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Record implements Pacer. Fixed spacing is start-based, so completed-call
// token usage is not tracked.
func (p *FixedDelay) Record(int) {}
