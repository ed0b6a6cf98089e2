package ratelimit

import (
	"context"
	"sync"
	"time"

	"weatherfeed/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Concurrent calls reserve consecutive slots, or return early if the
// context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration
	mu       sync.Mutex
	next     time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, q provider.Query) (provider.Reading, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return provider.Reading{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	return m.P.Fetch(ctx, q)
}

// Limits selects the limiter Wrap applies.
type Limits struct {
	MaxRequestsPerMinute int
	Burst                int
	MinInterval          time.Duration
}

// Wrap prefers a token bucket when a per-minute rate is set, otherwise a
// minimum interval, otherwise returns p unchanged.
func Wrap(p provider.Provider, l Limits) provider.Provider {
	switch {
	case l.MaxRequestsPerMinute > 0:
		rate := float64(l.MaxRequestsPerMinute) / 60.0
		return &TokenBucketProvider{P: p, TB: NewTokenBucket(rate, l.Burst)}
	case l.MinInterval > 0:
		return &MinInterval{P: p, Interval: l.MinInterval}
	}
	return p
}
