package sources

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Courtesy paces consecutive requests from one adapter to its host. Each
// pause pads the gap since the previous request to a jittered delay in
// [minPause, maxPause], then consults an optional token bucket.
type Courtesy struct {
	minPause time.Duration
	maxPause time.Duration
	limiter  *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// NewCourtesy builds a pacer with the given jitter band. Non-positive
// bounds fall back to a 400ms - 1.2s band.
func NewCourtesy(minPause, maxPause time.Duration) *Courtesy {
	if minPause <= 0 {
		minPause = 400 * time.Millisecond
	}
	if maxPause < minPause {
		maxPause = 3 * minPause
	}
	return &Courtesy{minPause: minPause, maxPause: maxPause}
}

// WithLimiter attaches a shared token bucket consulted after the jitter
// delay. Returns the receiver for chaining during construction.
func (c *Courtesy) WithLimiter(l *rate.Limiter) *Courtesy {
	if c != nil {
		c.limiter = l
	}
	return c
}

// Pause blocks until the next request may be sent. A nil Courtesy never
// blocks, so adapters can disable pacing in tests.
func (c *Courtesy) Pause(ctx context.Context) error {
	if c == nil {
		return nil
	}

	delay := c.minPause
	if span := c.maxPause - c.minPause; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	var sleep time.Duration
	now := time.Now()

	c.mu.Lock()
	if !c.last.IsZero() {
		rest := c.last.Add(delay).Sub(now)
		if rest > 0 {
			sleep = rest
		}
	}
	c.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.last = time.Now()
	c.mu.Unlock()
	return nil
}
