package windlass

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Test column constructors. valid == nil means all rows valid.

func int64Col(vals []int64, valid []bool) arrow.Array {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

func float64Col(vals []float64, valid []bool) arrow.Array {
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

func stringCol(vals []string, valid []bool) arrow.Array {
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i, v := range vals {
		if valid != nil && !valid[i] {
			b.AppendNull()
		} else {
			b.Append(v)
		}
	}
	return b.NewArray()
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// listRowF64 extracts row i of a List<Float64> column as values plus a
// validity slice.
func listRowF64(col arrow.Array, i int) ([]float64, []bool) {
	list := col.(*array.List)
	if list.IsNull(i) {
		return nil, nil
	}
	child := list.ListValues().(*array.Float64)
	start, end := list.ValueOffsets(i)
	var vals []float64
	var valid []bool
	for p := int(start); p < int(end); p++ {
		vals = append(vals, child.Value(p))
		valid = append(valid, child.IsValid(p))
	}
	return vals, valid
}

// listRowI64 is the Int64 counterpart of listRowF64.
func listRowI64(col arrow.Array, i int) ([]int64, []bool) {
	list := col.(*array.List)
	if list.IsNull(i) {
		return nil, nil
	}
	child := list.ListValues().(*array.Int64)
	start, end := list.ValueOffsets(i)
	var vals []int64
	var valid []bool
	for p := int(start); p < int(end); p++ {
		vals = append(vals, child.Value(p))
		valid = append(valid, child.IsValid(p))
	}
	return vals, valid
}
