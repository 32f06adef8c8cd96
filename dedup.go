package windlass

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// dropListDuplicates removes duplicate elements from every list row, keeping
// first occurrences in order. nullsEq decides whether one null survives per
// list or all of them do; nansEq does the same for NaNs.
func dropListDuplicates(col arrow.Array, nullsEq NullEquality, nansEq NanEquality, mem memory.Allocator) (arrow.Array, error) {
	list, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("%w: drop duplicates input has type %s, expected a list",
			ErrInternalInvariant, col.DataType())
	}
	child := list.ListValues()

	appendElem, lb, err := listAppender(child, mem)
	if err != nil {
		return nil, err
	}
	defer lb.Release()

	var kept []int
	for row := 0; row < list.Len(); row++ {
		if list.IsNull(row) {
			lb.AppendNull()
			continue
		}
		lb.Append(true)
		start, end := list.ValueOffsets(row)
		kept = kept[:0]
		for p := int(start); p < int(end); p++ {
			dup := false
			for _, q := range kept {
				if elemEqual(child, p, q, nullsEq, nansEq) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			kept = append(kept, p)
			appendElem(p)
		}
	}
	return lb.NewArray(), nil
}

// elemEqual compares two list elements under the configured null and NaN
// equality policies.
func elemEqual(child arrow.Array, a, b int, nullsEq NullEquality, nansEq NanEquality) bool {
	aNull, bNull := child.IsNull(a), child.IsNull(b)
	if aNull || bNull {
		return aNull && bNull && nullsEq == NullsEqual
	}
	if f, ok := child.(*array.Float64); ok {
		fa, fb := f.Value(a), f.Value(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return math.IsNaN(fa) && math.IsNaN(fb) && nansEq == NansEqual
		}
		return fa == fb
	}
	return compareAt(child, a, b) == 0
}
