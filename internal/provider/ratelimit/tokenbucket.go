package ratelimit

import (
	"context"
	"sync"
	"time"

	"weatherfeed/internal/provider"
)

// TokenBucket refills at rate tokens per second up to capacity and starts
// full, so the first capacity calls go through immediately.
type TokenBucket struct {
	rate     float64
	capacity float64
	now      func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 1e-7
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{rate: tokensPerSecond, capacity: float64(burst), now: time.Now}
	tb.tokens = tb.capacity
	tb.last = tb.now()
	return tb
}

// take consumes one token if available. Otherwise it reports how long
// until one will be.
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	if dt := now.Sub(tb.last).Seconds(); dt > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+dt*tb.rate)
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	return max(time.Duration((1-tb.tokens)/tb.rate*float64(time.Second)), time.Millisecond), false
}

// Allow consumes a token without waiting.
func (tb *TokenBucket) Allow() bool {
	_, ok := tb.take()
	return ok
}

// Wait blocks until one token is available or ctx is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketProvider gates Fetch calls on a shared bucket.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Fetch(ctx context.Context, q provider.Query) (provider.Reading, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return provider.Reading{}, err
		}
	}
	return t.P.Fetch(ctx, q)
}
