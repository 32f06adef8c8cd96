package windlass

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// resultKey identifies one cached aggregation result: the request it belongs
// to plus the structural identity of the aggregation.
type resultKey struct {
	reqIdx int
	agg    string
}

// resultCache memoizes aggregation results for the duration of one Aggregate
// call so aggregations that depend on other aggregations are computed at most
// once. Entries are immutable once written and never overwritten. The cache
// is single-owner: one control path drives every read and write, so no
// locking is needed.
type resultCache struct {
	results map[resultKey]arrow.Array
}

func newResultCache(numRequests int) *resultCache {
	return &resultCache{results: make(map[resultKey]arrow.Array, numRequests)}
}

// hasResult reports whether a result for (reqIdx, agg) has been stored.
func (c *resultCache) hasResult(reqIdx int, agg *Aggregation) bool {
	_, ok := c.results[resultKey{reqIdx, agg.cacheKey()}]
	return ok
}

// addResult stores a result, taking ownership of one reference to col.
// Callers check hasResult first; a duplicate insert keeps the existing entry
// and releases the new column.
func (c *resultCache) addResult(reqIdx int, agg *Aggregation, col arrow.Array) {
	key := resultKey{reqIdx, agg.cacheKey()}
	if _, ok := c.results[key]; ok {
		col.Release()
		return
	}
	c.results[key] = col
}

// getResult returns the cached result for (reqIdx, agg) without transferring
// ownership. Reading an absent entry is an internal invariant violation.
func (c *resultCache) getResult(reqIdx int, agg *Aggregation) (arrow.Array, error) {
	col, ok := c.results[resultKey{reqIdx, agg.cacheKey()}]
	if !ok {
		return nil, fmt.Errorf("%w: no cached result for request %d aggregation %s",
			ErrInternalInvariant, reqIdx, agg.Kind)
	}
	return col, nil
}

// release drops the cache's reference to every stored column. The cache must
// not be used afterwards.
func (c *resultCache) release() {
	for k, col := range c.results {
		col.Release()
		delete(c.results, k)
	}
}
