// Package rate caps the request rate shared by every virtual user.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a leaky-bucket limiter that spaces requests evenly at a
// fixed rate across all goroutines calling Wait.
//
// Each call reserves the next slot and sleeps until it arrives. When callers
// fall behind, slots are granted immediately up to maxBurst.
//
//	lim := rate.NewLimiter(50) // at most 50 requests per second
//	if err := lim.Wait(ctx); err != nil {
//	    return err
//	}
type Limiter struct {
	mu          sync.Mutex
	rate        float64 // requests per second
	lastDrip    time.Time
	accumulated float64
	maxBurst    float64

	granted atomic.Int64
	waited  atomic.Int64 // nanoseconds
}

// NewLimiter creates a limiter allowing rps requests per second.
// A non-positive rps yields a nil limiter, which never blocks.
func NewLimiter(rps float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	return &Limiter{
		rate:     rps,
		lastDrip: time.Now(),
		maxBurst: 1.0,
	}
}

// reserve returns when the caller may proceed.
func (l *Limiter) reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.granted.Add(1)
	now := time.Now()

	// A previous caller already holds a future slot; queue behind it.
	if l.lastDrip.After(now) {
		next := l.lastDrip.Add(time.Duration(float64(time.Second) / l.rate))
		l.lastDrip = next
		l.accumulated = 0
		l.waited.Add(int64(next.Sub(now)))
		return next
	}

	elapsed := now.Sub(l.lastDrip).Seconds()

	l.accumulated += elapsed * l.rate
	if l.accumulated > l.maxBurst {
		l.accumulated = l.maxBurst
	}

	if l.accumulated >= 1.0 {
		l.accumulated -= 1.0
		l.lastDrip = now
		return now
	}

	wait := time.Duration((1.0 - l.accumulated) / l.rate * float64(time.Second))
	l.accumulated = 0

	next := now.Add(wait)
	l.lastDrip = next
	l.waited.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the next request slot or until ctx is done.
// Calling Wait on a nil limiter returns immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	d := time.Until(l.reserve())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the rate without carrying over accumulated slots.
func (l *Limiter) SetRate(rps float64) {
	if l == nil || rps <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = rps
	l.accumulated = 0
	l.lastDrip = time.Now()
}

// Rate returns the configured requests per second, or 0 for a nil limiter.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Stats describes limiter activity.
type Stats struct {
	Rate      float64       `json:"rate"`
	Granted   int64         `json:"granted"`
	TotalWait time.Duration `json:"totalWait"`
}

// Stats returns counters for the limiter.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Rate:      l.Rate(),
		Granted:   l.granted.Load(),
		TotalWait: time.Duration(l.waited.Load()),
	}
}
