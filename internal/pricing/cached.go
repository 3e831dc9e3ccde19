package pricing

import (
	"context"
	"sync"
)

// CachedLookup memoises results from a slower lookup. Hits and misses
// are both remembered; errors are not, so a recovering catalog gets
// asked again.
type CachedLookup struct {
	next Lookup

	mu     sync.RWMutex
	known  map[string]float64
	absent map[string]struct{}
}

// NewCached wraps next with an in-memory memo.
func NewCached(next Lookup) *CachedLookup {
	return &CachedLookup{
		next:   next,
		known:  make(map[string]float64),
		absent: make(map[string]struct{}),
	}
}

// PriceFor implements Lookup.
func (c *CachedLookup) PriceFor(ctx context.Context, identifier string) (float64, bool, error) {
	c.mu.RLock()
	if v, ok := c.known[identifier]; ok {
		c.mu.RUnlock()
		return v, true, nil
	}
	if _, ok := c.absent[identifier]; ok {
		c.mu.RUnlock()
		return 0, false, nil
	}
	c.mu.RUnlock()

	v, ok, err := c.next.PriceFor(ctx, identifier)
	if err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	if ok {
		c.known[identifier] = v
	} else {
		c.absent[identifier] = struct{}{}
	}
	c.mu.Unlock()
	return v, ok, nil
}

// Size reports how many identifiers have been memoised.
func (c *CachedLookup) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.known) + len(c.absent)
}
