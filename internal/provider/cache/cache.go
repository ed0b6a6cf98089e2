package cache

import (
	"context"
	"sync"
	"time"

	"weatherfeed/internal/provider"
)

// entry stores a cached reading for a single query with expiry.
type entry struct {
	expiresAt time.Time
	reading   provider.Reading
}

// Provider caches readings per location for a TTL.
// Upstream errors are returned as-is; an expired entry is never served
// in place of a failed fetch.
type Provider struct {
	P        provider.Provider
	TTL      time.Duration
	MaxItems int
	// Now overrides the clock in tests.
	Now func() time.Time

	mu    sync.RWMutex
	items map[string]entry // key: Query.Key()
}

func (c *Provider) Name() string { return c.P.Name() }

func (c *Provider) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Fetch returns the cached reading for q while it is valid.
func (c *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Reading, error) {
	if c.TTL <= 0 {
		return c.P.Fetch(ctx, q)
	}

	key := q.Key()
	now := c.now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.reading, nil
	}

	r, err := c.P.Fetch(ctx, q)
	if err != nil {
		return provider.Reading{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[key] = entry{expiresAt: now.Add(c.TTL), reading: r}
	// best-effort cap cache size
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		// remove expired first, then arbitrary
		for k, v := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != key {
				delete(c.items, k)
			}
		}
	}
	return r, nil
}

// Len reports the number of cached locations.
func (c *Provider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
