package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_FirstAcquireImmediate(t *testing.T) {
	l := New(Config{RequestsPerWindow: 10, Window: time.Second, Burst: 1})

	start := time.Now()
	p, err := l.Acquire(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	p.Release()

	if elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response, got %v", elapsed)
	}
}

func TestLimiter_SecondRequestWaitsForWindow(t *testing.T) {
	l := New(Config{RequestsPerWindow: 1, Window: time.Second, Burst: 1})
	ctx := context.Background()

	p, err := l.Acquire(ctx)
	require.NoError(t, err)
	p.Release()

	start := time.Now()
	p, err = l.Acquire(ctx)
	elapsed := time.Since(start)
	require.NoError(t, err)
	p.Release()

	if elapsed < 900*time.Millisecond {
		t.Errorf("expected second request to wait about one window, got %v", elapsed)
	}
}

func TestLimiter_ContextCanceled(t *testing.T) {
	l := New(Config{RequestsPerWindow: 1, Window: 10 * time.Second, Burst: 1})

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	if err == nil {
		t.Error("expected error due to context timeout, got nil")
	}
}

func TestLimiter_InFlightNeverExceedsBurst(t *testing.T) {
	l := New(Config{RequestsPerWindow: 1000, Window: time.Second, Burst: 2})

	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer p.Release()

			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestPermit_ReleaseTwice(t *testing.T) {
	l := New(Config{RequestsPerWindow: 1000, Window: time.Second, Burst: 1})

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	p.Release()

	// a double release would let two permits through the semaphore
	p1, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer p1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.Error(t, err)
}

func TestLimiter_ThrottledSuspendsEveryone(t *testing.T) {
	l := New(Config{
		RequestsPerWindow: 100, Window: time.Second, Burst: 1,
		BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second,
	})

	d := l.Throttled(time.Second)
	assert.Equal(t, time.Second, d, "service hint wins over a shorter backoff step")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Acquire(ctx)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded during suspension, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("expected to wait for the context timeout, got %v", elapsed)
	}
}

func TestLimiter_SuspensionExpires(t *testing.T) {
	l := New(Config{RequestsPerWindow: 100, Window: time.Second, Burst: 1})
	l.suspendedUntil = time.Now().Add(-100 * time.Millisecond)

	start := time.Now()
	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response (suspension expired), got %v", elapsed)
	}
}

func TestLimiter_ThrottleStreak(t *testing.T) {
	l := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, l.Throttled(0))
	assert.Equal(t, 200*time.Millisecond, l.Throttled(0))
	assert.Equal(t, 300*time.Millisecond, l.Throttled(0), "capped")
	assert.Equal(t, int64(3), l.Throttles())

	l.Succeeded()
	assert.Equal(t, 100*time.Millisecond, l.Throttled(0), "streak reset")
}

func TestLimiter_Delay(t *testing.T) {
	l := New(Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestLimiter_DelayJitterBounds(t *testing.T) {
	l := New(Config{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.2})

	for i := 0; i < 100; i++ {
		d := l.Delay(3)
		assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
		assert.LessOrEqual(t, d, 4800*time.Millisecond)
	}
}

func TestLimiter_DelayJitterNeverExceedsCap(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
	}{
		{"capped attempt", Config{BaseDelay: time.Second, MaxDelay: 4 * time.Second, Jitter: 0.5}, 10},
		{"exactly at cap", Config{BaseDelay: time.Second, MaxDelay: 4 * time.Second, Jitter: 0.3}, 3},
		{"base equals cap", Config{BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Second, Jitter: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cfg)
			for i := 0; i < 500; i++ {
				d := l.Delay(tt.attempt)
				assert.LessOrEqual(t, d, tt.cfg.MaxDelay)
				assert.GreaterOrEqual(t, d, time.Duration(0))
			}
		})
	}
}

func TestLimiter_BackoffRespectsContext(t *testing.T) {
	l := New(Config{BaseDelay: time.Second, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Backoff(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
