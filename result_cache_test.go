package windlass

import (
	"errors"
	"testing"
)

func TestResultCacheHasAddGet(t *testing.T) {
	cache := newResultCache(1)
	defer cache.release()

	agg := NewSum()
	if cache.hasResult(0, agg) {
		t.Fatal("empty cache should not report a result")
	}

	col := int64Col([]int64{1, 2}, nil)
	cache.addResult(0, agg, col)

	if !cache.hasResult(0, agg) {
		t.Fatal("cache should report the stored result")
	}
	got, err := cache.getResult(0, agg)
	if err != nil {
		t.Fatalf("getResult failed: %v", err)
	}
	if got != col {
		t.Error("getResult should return the stored column")
	}

	// Same aggregation under another request index is a distinct entry.
	if cache.hasResult(1, agg) {
		t.Error("request index must be part of the cache key")
	}
}

func TestResultCacheGetMissingIsInvariantViolation(t *testing.T) {
	cache := newResultCache(1)
	defer cache.release()

	_, err := cache.getResult(0, NewMean())
	if !errors.Is(err, ErrInternalInvariant) {
		t.Fatalf("expected ErrInternalInvariant, got %v", err)
	}
}

func TestResultCacheNeverOverwrites(t *testing.T) {
	cache := newResultCache(1)
	defer cache.release()

	agg := NewCountValid()
	first := int64Col([]int64{1}, nil)
	second := int64Col([]int64{2}, nil)

	cache.addResult(0, agg, first)
	cache.addResult(0, agg, second)

	got, err := cache.getResult(0, agg)
	if err != nil {
		t.Fatalf("getResult failed: %v", err)
	}
	if got != first {
		t.Error("duplicate insert must keep the first entry")
	}
}

func TestResultCacheEquivalentAggregations(t *testing.T) {
	cache := newResultCache(1)
	defer cache.release()

	// Parameter objects are value types: a structurally equal aggregation
	// built elsewhere hits the same slot.
	cache.addResult(0, NewVariance(1), float64Col([]float64{0.5}, nil))
	if !cache.hasResult(0, NewVariance(1)) {
		t.Error("structurally equal aggregations must share a cache slot")
	}
	if cache.hasResult(0, NewVariance(2)) {
		t.Error("different ddof must not share a cache slot")
	}
}
