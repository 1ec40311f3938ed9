// Package ratelimit controls the frequency of requests to the messaging service
// and the backoff applied after throttling.
package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config describes the shared request budget.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int // also the max number of requests in flight

	BaseDelay time.Duration // first backoff step
	MaxDelay  time.Duration // backoff cap, a larger service hint still wins
	Jitter    float64       // relative, 0.2 = +-20%
}

// Limiter is shared by all channel cursors of a run.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	// global pause after a rate limit signal
	mu             sync.Mutex
	suspendedUntil time.Time
	streak         int
	throttles      int64
}

// New creates a limiter. Zero fields fall back to one request per second, burst 1.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerWindow < 1 {
		cfg.RequestsPerWindow = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	every := cfg.Window / time.Duration(cfg.RequestsPerWindow)
	return &Limiter{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(every), cfg.Burst),
		sem:     semaphore.NewWeighted(int64(cfg.Burst)),
	}
}

// Permit is held for the duration of one request.
type Permit struct {
	once sync.Once
	sem  *semaphore.Weighted
}

// Release returns the in-flight slot. Calling it more than once is a no-op.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.sem.Release(1) })
}

// Acquire blocks until a request may be sent. The returned permit must be released
// when the request completes.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p := &Permit{sem: l.sem}

	if err := l.waitSuspension(ctx); err != nil {
		p.Release()
		return nil, err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// waitSuspension blocks while a throttle pause is active. The pause may be
// extended while waiting, so the deadline is re-read after every timer.
func (l *Limiter) waitSuspension(ctx context.Context) error {
	for {
		l.mu.Lock()
		until := l.suspendedUntil
		l.mu.Unlock()

		wait := time.Until(until)
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Throttled reports a rate limit signal. New permits are withheld for the
// returned duration: the exponential step for the current streak, or the
// service hint when that is longer.
func (l *Limiter) Throttled(hint time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.streak++
	l.throttles++

	d := l.Delay(l.streak)
	if hint > d {
		d = hint
	}

	if until := time.Now().Add(d); until.After(l.suspendedUntil) {
		l.suspendedUntil = until
	}
	return d
}

// Succeeded resets the throttle streak after a successful request.
func (l *Limiter) Succeeded() {
	l.mu.Lock()
	l.streak = 0
	l.mu.Unlock()
}

// Backoff waits the delay for the given attempt without pausing other callers.
func (l *Limiter) Backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(l.Delay(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns base*2^(attempt-1) with jitter applied, never above the max delay.
func (l *Limiter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(l.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(l.cfg.MaxDelay) {
		d = float64(l.cfg.MaxDelay)
	}

	if l.cfg.Jitter > 0 {
		d += d * l.cfg.Jitter * (2*rand.Float64() - 1)
	}
	// Jitter spreads delays below the cap, never past it.
	if d > float64(l.cfg.MaxDelay) {
		d = float64(l.cfg.MaxDelay)
	}
	return time.Duration(d)
}

// SuspendedUntil returns the end of the current pause, zero if none was ever set.
func (l *Limiter) SuspendedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suspendedUntil
}

// Throttles returns how many rate limit signals were reported.
func (l *Limiter) Throttles() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.throttles
}

// Burst returns the in-flight allowance.
func (l *Limiter) Burst() int {
	return l.cfg.Burst
}
