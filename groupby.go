package windlass

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// GroupBy represents a sort-based groupby over one or more key columns. It
// owns the lazily computed grouping state (key sort order, group labels and
// offsets, unique keys) and reuses it across Aggregate calls. The key columns
// themselves stay owned by the caller.
type GroupBy struct {
	mem    memory.Allocator
	helper *groupHelper
}

// NewGroupBy creates a groupby over the given key columns. All result and
// intermediate columns are allocated from mem; pass nil for the default
// allocator. Supported key types are Int32, Int64, Float64 and String; null
// keys form their own group.
func NewGroupBy(mem memory.Allocator, keys ...arrow.Array) (*GroupBy, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	helper, err := newGroupHelper(mem, keys)
	if err != nil {
		return nil, err
	}
	return &GroupBy{mem: mem, helper: helper}, nil
}

// NumGroups returns the number of distinct key combinations.
func (gb *GroupBy) NumGroups() int {
	return gb.helper.numGroups()
}

// Release frees the grouping state owned by the GroupBy.
func (gb *GroupBy) Release() {
	gb.helper.release()
}

// AggregationRequest asks for an ordered list of aggregations over one value
// column. The column must have as many rows as the key columns.
type AggregationRequest struct {
	Values       arrow.Array
	Aggregations []*Aggregation
}

// AggregateResult pairs the unique-keys table with one ordered result column
// list per request. Results[i][j] is the result of request i's j-th
// aggregation, so output order always mirrors input order. Call Release when
// done with the columns.
type AggregateResult struct {
	Keys    []arrow.Array
	Results [][]arrow.Array
}

// Release frees every column held by the result.
func (r *AggregateResult) Release() {
	for _, k := range r.Keys {
		k.Release()
	}
	for _, cols := range r.Results {
		for _, c := range cols {
			c.Release()
		}
	}
	r.Keys = nil
	r.Results = nil
}

// Aggregate computes every requested aggregation, sharing intermediate
// results within the call: a result cache scoped to this call guarantees each
// (column, aggregation) pair is computed at most once even when aggregations
// depend on one another. The first failure aborts the whole call; no partial
// results are returned.
func (gb *GroupBy) Aggregate(requests ...AggregationRequest) (*AggregateResult, error) {
	for i, req := range requests {
		if req.Values == nil {
			return nil, fmt.Errorf("%w: request %d has no value column", ErrInvalidAggregation, i)
		}
		if req.Values.Len() != gb.helper.numRows {
			return nil, fmt.Errorf("%w: request %d has %d rows, expected %d",
				ErrInvalidAggregation, i, req.Values.Len(), gb.helper.numRows)
		}
		for j, agg := range req.Aggregations {
			if agg == nil {
				return nil, fmt.Errorf("%w: request %d aggregation %d is nil",
					ErrInvalidAggregation, i, j)
			}
		}
	}

	// Cache and views live exactly as long as this call. Intermediates stay
	// cached until extraction so shared dependencies are computed once.
	cache := newResultCache(len(requests))
	defer cache.release()
	views := newViewCache(gb.helper, gb.mem)
	defer views.release()

	for i, req := range requests {
		functor := &aggFunctor{
			reqIdx: i,
			values: req.Values,
			helper: gb.helper,
			cache:  cache,
			views:  views,
			mem:    gb.mem,
		}
		for _, agg := range req.Aggregations {
			if err := functor.dispatch(agg); err != nil {
				return nil, err
			}
		}
	}

	res := &AggregateResult{Results: make([][]arrow.Array, len(requests))}
	for i, req := range requests {
		cols := make([]arrow.Array, len(req.Aggregations))
		for j, agg := range req.Aggregations {
			col, err := cache.getResult(i, agg)
			if err != nil {
				res.Release()
				return nil, err
			}
			col.Retain()
			cols[j] = col
		}
		res.Results[i] = cols
	}

	uniques, err := gb.helper.uniqueKeys()
	if err != nil {
		res.Release()
		return nil, err
	}
	res.Keys = make([]arrow.Array, len(uniques))
	for i, u := range uniques {
		u.Retain()
		res.Keys[i] = u
	}
	return res, nil
}

// ============================================================================
// Convenience Aggregations
// ============================================================================

// Sum computes the per-group sum of one value column.
func (gb *GroupBy) Sum(values arrow.Array) (*AggregateResult, error) {
	return gb.single(values, NewSum())
}

// Mean computes the per-group mean of one value column.
func (gb *GroupBy) Mean(values arrow.Array) (*AggregateResult, error) {
	return gb.single(values, NewMean())
}

// Min computes the per-group minimum of one value column.
func (gb *GroupBy) Min(values arrow.Array) (*AggregateResult, error) {
	return gb.single(values, NewMin())
}

// Max computes the per-group maximum of one value column.
func (gb *GroupBy) Max(values arrow.Array) (*AggregateResult, error) {
	return gb.single(values, NewMax())
}

// Count computes the per-group row count.
func (gb *GroupBy) Count() (*AggregateResult, error) {
	return gb.single(gb.helper.keys[0], NewCountAll())
}

func (gb *GroupBy) single(values arrow.Array, agg *Aggregation) (*AggregateResult, error) {
	return gb.Aggregate(AggregationRequest{Values: values, Aggregations: []*Aggregation{agg}})
}
