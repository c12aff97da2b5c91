// Package ratelimit converts an aggregate target rate into per-worker pacing.
package ratelimit

import (
	"context"
	"time"
)

// MinPerWorkerRate is the floor applied when the per-worker share of the
// target rate rounds down to nothing.
const MinPerWorkerRate = 1.0

// Plan is the pacing resolved for one cycle.
type Plan struct {
	TargetTPS     int
	Concurrency   int
	PerWorkerRate float64       // attempts per second per worker
	Interval      time.Duration // spacing between attempt starts for one worker
	Clamped       bool          // PerWorkerRate was raised to MinPerWorkerRate
}

// Resolve computes the per-worker interval for the given aggregate rate and
// worker count. It returns false when either input is not positive: the
// caller must skip load generation for the cycle. That is the idle policy,
// not an error.
func Resolve(targetTPS, concurrency int) (Plan, bool) {
	if targetTPS <= 0 || concurrency <= 0 {
		return Plan{TargetTPS: targetTPS, Concurrency: concurrency}, false
	}

	p := Plan{
		TargetTPS:     targetTPS,
		Concurrency:   concurrency,
		PerWorkerRate: float64(targetTPS) / float64(concurrency),
	}
	if p.PerWorkerRate <= 0 {
		p.PerWorkerRate = MinPerWorkerRate
		p.Clamped = true
	}
	p.Interval = time.Duration(float64(time.Second) / p.PerWorkerRate)

	return p, true
}

// Pacer spaces the attempts of a single worker. Unlike a shared limiter it
// never lets a worker catch up: an attempt that overran the interval is
// followed immediately by the next one, not by a burst.
type Pacer struct {
	interval time.Duration
}

// NewPacer creates a Pacer for the given interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Remaining returns how long to sleep after an attempt that started at
// startedAt, measured at now.
func (p *Pacer) Remaining(startedAt, now time.Time) time.Duration {
	remaining := p.interval - now.Sub(startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait blocks for the rest of the interval that began at startedAt, or until
// the context is cancelled.
func (p *Pacer) Wait(ctx context.Context, startedAt time.Time) error {
	waitDuration := p.Remaining(startedAt, time.Now())
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
