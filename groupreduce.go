package windlass

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Group-wise reduction primitives. Each primitive consumes a reordered view
// of the value column (grouped or sorted order) together with grouping state
// from the helper, and produces one result row per group. Groups with no
// valid input yield a null result row unless noted otherwise.

// ============================================================================
// Counts
// ============================================================================

// groupCountValid counts the non-null rows of each group.
func groupCountValid(grouped arrow.Array, labels []int32, numGroups int, mem memory.Allocator) arrow.Array {
	counts := make([]int32, numGroups)
	for i := 0; i < grouped.Len(); i++ {
		if grouped.IsValid(i) {
			counts[labels[i]]++
		}
	}
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(counts, nil)
	return b.NewArray()
}

// groupCountAll counts every row of each group, straight from the offsets.
func groupCountAll(offsets []int32, mem memory.Allocator) arrow.Array {
	numGroups := len(offsets) - 1
	if numGroups < 0 {
		numGroups = 0
	}
	counts := make([]int32, numGroups)
	for g := 0; g < numGroups; g++ {
		counts[g] = offsets[g+1] - offsets[g]
	}
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(counts, nil)
	return b.NewArray()
}

// ============================================================================
// Sum / Product
// ============================================================================

// reduceNumeric folds valid rows into one accumulator per group and reports
// which groups saw at least one valid row.
func reduceNumeric[T int32 | int64 | float64](
	n, numGroups int, labels []int32,
	value func(int) T, valid func(int) bool,
	op func(a, b T) T,
) (acc []T, seen []bool) {
	acc = make([]T, numGroups)
	seen = make([]bool, numGroups)
	for i := 0; i < n; i++ {
		if !valid(i) {
			continue
		}
		g := labels[i]
		if !seen[g] {
			acc[g] = value(i)
			seen[g] = true
		} else {
			acc[g] = op(acc[g], value(i))
		}
	}
	return acc, seen
}

// groupSum sums each group's valid values. Integer inputs accumulate and
// return as Int64, floats as Float64.
func groupSum(grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupArith(grouped, numGroups, labels, mem, "sum",
		func(a, b int64) int64 { return a + b },
		func(a, b float64) float64 { return a + b })
}

// groupProduct multiplies each group's valid values with the same type
// promotion as groupSum.
func groupProduct(grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupArith(grouped, numGroups, labels, mem, "product",
		func(a, b int64) int64 { return a * b },
		func(a, b float64) float64 { return a * b })
}

func groupArith(
	grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator,
	name string, intOp func(a, b int64) int64, floatOp func(a, b float64) float64,
) (arrow.Array, error) {
	switch v := grouped.(type) {
	case *array.Int32:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels,
			func(i int) int64 { return int64(v.Value(i)) }, v.IsValid, intOp)
		return buildInt64(acc, seen, mem), nil
	case *array.Int64:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels, v.Value, v.IsValid, intOp)
		return buildInt64(acc, seen, mem), nil
	case *array.Float64:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels, v.Value, v.IsValid, floatOp)
		return buildFloat64(acc, seen, mem), nil
	default:
		return nil, fmt.Errorf("%w: %s on values of type %s",
			ErrUnsupportedAggregation, name, grouped.DataType())
	}
}

// ============================================================================
// Min / Max (fixed-width direct path)
// ============================================================================

// groupMin reduces each group's valid values to the minimum, keeping the
// input type. Fixed-width columns only; other types route through ArgMin.
func groupMin(grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupExtreme(grouped, numGroups, labels, mem, "min", true)
}

// groupMax is the Max counterpart of groupMin.
func groupMax(grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupExtreme(grouped, numGroups, labels, mem, "max", false)
}

func groupExtreme(grouped arrow.Array, numGroups int, labels []int32, mem memory.Allocator, name string, wantMin bool) (arrow.Array, error) {
	pick := func(c int) bool {
		if wantMin {
			return c < 0
		}
		return c > 0
	}
	switch v := grouped.(type) {
	case *array.Int32:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels, v.Value, v.IsValid,
			func(a, b int32) int32 {
				if pick(cmpOrdered(b, a)) {
					return b
				}
				return a
			})
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(acc, seen)
		return b.NewArray(), nil
	case *array.Int64:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels, v.Value, v.IsValid,
			func(a, b int64) int64 {
				if pick(cmpOrdered(b, a)) {
					return b
				}
				return a
			})
		return buildInt64(acc, seen, mem), nil
	case *array.Float64:
		acc, seen := reduceNumeric(v.Len(), numGroups, labels, v.Value, v.IsValid,
			func(a, b float64) float64 {
				if pick(cmpFloat(b, a)) {
					return b
				}
				return a
			})
		return buildFloat64(acc, seen, mem), nil
	default:
		return nil, fmt.Errorf("%w: direct %s on values of type %s",
			ErrUnsupportedAggregation, name, grouped.DataType())
	}
}

// ============================================================================
// ArgMin / ArgMax
// ============================================================================

// groupArgMin returns, per group, the source row index of the smallest valid
// value. All-null groups get the out-of-range sentinel in the data buffer and
// a null in the validity mask; the sentinel in the buffer is what the
// Min/Max gather path relies on.
func groupArgMin(grouped arrow.Array, numGroups int, labels, keySortOrder []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupArgExtreme(grouped, numGroups, labels, keySortOrder, mem, true)
}

// groupArgMax is the Max counterpart of groupArgMin.
func groupArgMax(grouped arrow.Array, numGroups int, labels, keySortOrder []int32, mem memory.Allocator) (arrow.Array, error) {
	return groupArgExtreme(grouped, numGroups, labels, keySortOrder, mem, false)
}

func groupArgExtreme(grouped arrow.Array, numGroups int, labels, keySortOrder []int32, mem memory.Allocator, wantMin bool) (arrow.Array, error) {
	if !isOrdered(grouped.DataType()) {
		return nil, fmt.Errorf("%w: argmin/argmax on values of type %s",
			ErrUnsupportedAggregation, grouped.DataType())
	}

	// best[g] is a position in grouped order, -1 until the group sees a
	// valid value. Ties keep the earliest position.
	best := make([]int32, numGroups)
	for g := range best {
		best[g] = -1
	}
	for i := 0; i < grouped.Len(); i++ {
		if grouped.IsNull(i) {
			continue
		}
		g := labels[i]
		if best[g] < 0 {
			best[g] = int32(i)
			continue
		}
		c := compareAt(grouped, i, int(best[g]))
		if (wantMin && c < 0) || (!wantMin && c > 0) {
			best[g] = int32(i)
		}
	}

	indices := make([]int32, numGroups)
	valid := make([]bool, numGroups)
	for g, pos := range best {
		if pos < 0 {
			indices[g] = argSentinel
		} else {
			indices[g] = keySortOrder[pos]
			valid[g] = true
		}
	}
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(indices, valid)
	return b.NewArray(), nil
}

// ============================================================================
// Variance
// ============================================================================

// groupVar computes the per-group variance of the grouped values around the
// precomputed group means. A group is null when its valid count does not
// exceed ddof.
func groupVar(grouped arrow.Array, means, counts arrow.Array, labels []int32, ddof int, mem memory.Allocator) (arrow.Array, error) {
	value, err := float64Getter(grouped)
	if err != nil {
		return nil, fmt.Errorf("%w: variance on values of type %s",
			ErrUnsupportedAggregation, grouped.DataType())
	}
	meanCol, ok := means.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: mean column has type %s, expected Float64",
			ErrInternalInvariant, means.DataType())
	}
	countCol, ok := counts.(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: count column has type %s, expected %s",
			ErrInternalInvariant, counts.DataType(), countType)
	}

	numGroups := countCol.Len()
	ss := make([]float64, numGroups)
	for i := 0; i < grouped.Len(); i++ {
		if grouped.IsNull(i) {
			continue
		}
		g := labels[i]
		d := value(i) - meanCol.Value(int(g))
		ss[g] += d * d
	}

	out := make([]float64, numGroups)
	valid := make([]bool, numGroups)
	for g := 0; g < numGroups; g++ {
		denom := int(countCol.Value(g)) - ddof
		if countCol.IsNull(g) || denom <= 0 {
			continue
		}
		out[g] = ss[g] / float64(denom)
		valid[g] = true
	}
	return buildFloat64(out, valid, mem), nil
}

// ============================================================================
// Quantiles
// ============================================================================

// groupQuantiles computes the requested quantiles of each group over the
// sorted-values view. The valid count bounds each group's prefix of sorted
// values, since nulls sort to the end of their group. One quantile yields a
// flat Float64 column; several yield a List<Float64> column with one list per
// group. Groups run independently in parallel.
func groupQuantiles(
	sorted arrow.Array, counts arrow.Array, offsets []int32, numGroups int,
	quantiles []float64, interp Interpolation, mem memory.Allocator,
) (arrow.Array, error) {
	value, err := float64Getter(sorted)
	if err != nil {
		return nil, fmt.Errorf("%w: quantile on values of type %s",
			ErrUnsupportedAggregation, sorted.DataType())
	}
	countCol, ok := counts.(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: count column has type %s, expected %s",
			ErrInternalInvariant, counts.DataType(), countType)
	}

	nq := len(quantiles)
	out := make([]float64, numGroups*nq)
	valid := make([]bool, numGroups*nq)
	parallelFor(numGroups, func(start, end int) {
		for g := start; g < end; g++ {
			size := int(countCol.Value(g))
			if size <= 0 {
				continue
			}
			base := int(offsets[g])
			for qi, q := range quantiles {
				out[g*nq+qi] = quantileOf(size, q, interp, func(k int) float64 {
					return value(base + k)
				})
				valid[g*nq+qi] = true
			}
		}
	})

	if nq == 1 {
		return buildFloat64(out, valid, mem), nil
	}

	lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Float64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Float64Builder)
	for g := 0; g < numGroups; g++ {
		if !valid[g*nq] {
			lb.AppendNull()
			continue
		}
		lb.Append(true)
		vb.AppendValues(out[g*nq:(g+1)*nq], nil)
	}
	return lb.NewArray(), nil
}

// quantileOf interpolates the q-quantile of a sorted sequence of size n
// addressed through at.
func quantileOf(n int, q float64, interp Interpolation, at func(int) float64) float64 {
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}

	switch interp {
	case InterpLower:
		return at(lo)
	case InterpHigher:
		return at(hi)
	case InterpMidpoint:
		return (at(lo) + at(hi)) / 2
	case InterpNearest:
		return at(int(math.Round(pos)))
	default: // InterpLinear
		frac := pos - float64(lo)
		return at(lo) + (at(hi)-at(lo))*frac
	}
}

// ============================================================================
// NUnique
// ============================================================================

// groupNUnique counts each group's distinct values over the sorted-values
// view: distinct valid values are adjacent runs, and nulls sit at the end of
// the group. IncludeNulls counts the null run as one distinct value. NaNs
// compare equal to each other. Never null.
func groupNUnique(sorted arrow.Array, offsets []int32, numGroups int, nulls NullPolicy, mem memory.Allocator) arrow.Array {
	counts := make([]int32, numGroups)
	parallelFor(numGroups, func(start, end int) {
		for g := start; g < end; g++ {
			var distinct int32
			sawNull := false
			for i := int(offsets[g]); i < int(offsets[g+1]); i++ {
				if sorted.IsNull(i) {
					sawNull = true
					continue
				}
				if i == int(offsets[g]) || sorted.IsNull(i-1) || compareAt(sorted, i, i-1) != 0 {
					distinct++
				}
			}
			if sawNull && nulls == IncludeNulls {
				distinct++
			}
			counts[g] = distinct
		}
	})
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(counts, nil)
	return b.NewArray()
}

// ============================================================================
// NthElement
// ============================================================================

// groupNthElement selects the n-th element of each group from the grouped
// values. Under ExcludeNulls only valid rows are counted and the matching
// valid counts bound n; under IncludeNulls every row counts and the selected
// row may itself be null. Negative n counts from the end. Out-of-bounds n
// yields null, through the sentinel-index gather contract.
func groupNthElement(
	grouped arrow.Array, counts arrow.Array, offsets []int32, numGroups int,
	n int, nulls NullPolicy, mem memory.Allocator,
) (arrow.Array, error) {
	countCol, ok := counts.(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: count column has type %s, expected %s",
			ErrInternalInvariant, counts.DataType(), countType)
	}

	indices := make([]int32, numGroups)
	for g := 0; g < numGroups; g++ {
		indices[g] = argSentinel
		base := int(offsets[g])
		extent := int(countCol.Value(g))
		idx := n
		if idx < 0 {
			idx += extent
		}
		if idx < 0 || idx >= extent {
			continue
		}
		if nulls == IncludeNulls {
			indices[g] = int32(base + idx)
			continue
		}
		// Walk the group extent to the idx-th valid row.
		seen := 0
		for i := base; i < int(offsets[g+1]); i++ {
			if grouped.IsNull(i) {
				continue
			}
			if seen == idx {
				indices[g] = int32(i)
				break
			}
			seen++
		}
	}
	return take(grouped, indices, true, mem)
}

// ============================================================================
// Collect
// ============================================================================

// groupCollect gathers each group's values, nulls preserved, into one list
// row per group.
func groupCollect(grouped arrow.Array, offsets []int32, numGroups int, mem memory.Allocator) (arrow.Array, error) {
	appendElem, lb, err := listAppender(grouped, mem)
	if err != nil {
		return nil, err
	}
	defer lb.Release()

	for g := 0; g < numGroups; g++ {
		lb.Append(true)
		for i := int(offsets[g]); i < int(offsets[g+1]); i++ {
			appendElem(i)
		}
	}
	return lb.NewArray(), nil
}

// listAppender returns a list builder over grouped's element type plus a
// callback appending grouped[i] (or a null) to the current list.
func listAppender(grouped arrow.Array, mem memory.Allocator) (func(i int), *array.ListBuilder, error) {
	switch v := grouped.(type) {
	case *array.Int32:
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int32)
		vb := lb.ValueBuilder().(*array.Int32Builder)
		return func(i int) {
			if v.IsNull(i) {
				vb.AppendNull()
			} else {
				vb.Append(v.Value(i))
			}
		}, lb, nil
	case *array.Int64:
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
		vb := lb.ValueBuilder().(*array.Int64Builder)
		return func(i int) {
			if v.IsNull(i) {
				vb.AppendNull()
			} else {
				vb.Append(v.Value(i))
			}
		}, lb, nil
	case *array.Float64:
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Float64)
		vb := lb.ValueBuilder().(*array.Float64Builder)
		return func(i int) {
			if v.IsNull(i) {
				vb.AppendNull()
			} else {
				vb.Append(v.Value(i))
			}
		}, lb, nil
	case *array.String:
		lb := array.NewListBuilder(mem, arrow.BinaryTypes.String)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		return func(i int) {
			if v.IsNull(i) {
				vb.AppendNull()
			} else {
				vb.Append(v.Value(i))
			}
		}, lb, nil
	default:
		return nil, nil, fmt.Errorf("%w: collect on values of type %s",
			ErrUnsupportedAggregation, grouped.DataType())
	}
}

// ============================================================================
// Elementwise helpers for derived aggregations
// ============================================================================

// divideByCounts divides each sum row by the matching valid count, producing
// the Float64 mean column. A null sum or zero count yields null.
func divideByCounts(sums, counts arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	value, err := float64Getter(sums)
	if err != nil {
		return nil, fmt.Errorf("%w: mean on values of type %s",
			ErrUnsupportedAggregation, sums.DataType())
	}
	countCol, ok := counts.(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: count column has type %s, expected %s",
			ErrInternalInvariant, counts.DataType(), countType)
	}

	n := sums.Len()
	out := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		c := countCol.Value(i)
		if sums.IsNull(i) || countCol.IsNull(i) || c == 0 {
			continue
		}
		out[i] = value(i) / float64(c)
		valid[i] = true
	}
	return buildFloat64(out, valid, mem), nil
}

// sqrtColumn takes the elementwise square root of a Float64 column, keeping
// nulls null.
func sqrtColumn(col arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	v, ok := col.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: sqrt input has type %s, expected Float64",
			ErrInternalInvariant, col.DataType())
	}
	out := make([]float64, v.Len())
	valid := make([]bool, v.Len())
	for i := 0; i < v.Len(); i++ {
		if v.IsNull(i) {
			continue
		}
		out[i] = math.Sqrt(v.Value(i))
		valid[i] = true
	}
	return buildFloat64(out, valid, mem), nil
}

// float64Getter adapts any numeric column to a float64 accessor.
func float64Getter(col arrow.Array) (func(int) float64, error) {
	switch v := col.(type) {
	case *array.Int32:
		return func(i int) float64 { return float64(v.Value(i)) }, nil
	case *array.Int64:
		return func(i int) float64 { return float64(v.Value(i)) }, nil
	case *array.Float64:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("column type %s is not numeric", col.DataType())
	}
}

func buildInt64(vals []int64, valid []bool, mem memory.Allocator) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

func buildFloat64(vals []float64, valid []bool, mem memory.Allocator) arrow.Array {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}
