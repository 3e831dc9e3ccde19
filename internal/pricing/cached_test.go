package pricing

import (
	"context"
	"errors"
	"testing"
)

type countingLookup struct {
	calls  int
	prices map[string]float64
	err    error
}

func (c *countingLookup) PriceFor(_ context.Context, identifier string) (float64, bool, error) {
	c.calls++
	if c.err != nil {
		return 0, false, c.err
	}
	price, ok := c.prices[identifier]
	return price, ok, nil
}

func TestCachedLookupMemoisesHits(t *testing.T) {
	next := &countingLookup{prices: map[string]float64{"036000291452": 24.99}}
	cached := NewCached(next)

	for i := 0; i < 3; i++ {
		price, ok, err := cached.PriceFor(context.Background(), "036000291452")
		if err != nil {
			t.Fatalf("PriceFor: %v", err)
		}
		if !ok || price != 24.99 {
			t.Fatalf("PriceFor = (%v, %v), want (24.99, true)", price, ok)
		}
	}
	if next.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", next.calls)
	}
}

func TestCachedLookupMemoisesMisses(t *testing.T) {
	next := &countingLookup{}
	cached := NewCached(next)

	for i := 0; i < 3; i++ {
		if _, ok, err := cached.PriceFor(context.Background(), "999999999999"); ok || err != nil {
			t.Fatalf("PriceFor = (ok=%v, err=%v), want a clean miss", ok, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1 (misses are memoised too)", next.calls)
	}
}

func TestCachedLookupDoesNotMemoiseErrors(t *testing.T) {
	next := &countingLookup{err: errors.New("catalog down")}
	cached := NewCached(next)

	for i := 0; i < 2; i++ {
		if _, _, err := cached.PriceFor(context.Background(), "036000291452"); err == nil {
			t.Fatal("expected the upstream error to surface")
		}
	}
	if next.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2 (errors must be retried)", next.calls)
	}

	next.err = nil
	next.prices = map[string]float64{"036000291452": 24.99}
	price, ok, err := cached.PriceFor(context.Background(), "036000291452")
	if err != nil {
		t.Fatalf("PriceFor after recovery: %v", err)
	}
	if !ok || price != 24.99 {
		t.Fatalf("PriceFor = (%v, %v), want (24.99, true)", price, ok)
	}
}

func TestCachedLookupSize(t *testing.T) {
	next := &countingLookup{prices: map[string]float64{"036000291452": 24.99}}
	cached := NewCached(next)

	cached.PriceFor(context.Background(), "036000291452")
	cached.PriceFor(context.Background(), "999999999999")

	if got := cached.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}
}
