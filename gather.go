package windlass

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// take gathers values[indices[i]] into a new column. The output validity is
// derived from the index sequence itself: with boundsNullify set, an
// out-of-range index produces a null output row no matter what any index
// column's null mask said. In-range indices propagate the source row's
// validity.
func take(values arrow.Array, indices []int32, boundsNullify bool, mem memory.Allocator) (arrow.Array, error) {
	n := values.Len()
	oob := func(idx int32) bool { return idx < 0 || int(idx) >= n }

	switch v := values.(type) {
	case *array.Int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.Reserve(len(indices))
		for _, idx := range indices {
			if boundsNullify && oob(idx) || v.IsNull(int(idx)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(idx)))
			}
		}
		return b.NewArray(), nil

	case *array.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(len(indices))
		for _, idx := range indices {
			if boundsNullify && oob(idx) || v.IsNull(int(idx)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(idx)))
			}
		}
		return b.NewArray(), nil

	case *array.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(indices))
		for _, idx := range indices {
			if boundsNullify && oob(idx) || v.IsNull(int(idx)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(idx)))
			}
		}
		return b.NewArray(), nil

	case *array.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, idx := range indices {
			if boundsNullify && oob(idx) || v.IsNull(int(idx)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(idx)))
			}
		}
		return b.NewArray(), nil

	default:
		return nil, fmt.Errorf("%w: cannot gather values of type %s",
			ErrUnsupportedAggregation, values.DataType())
	}
}

// rawIndices exposes an index column's data buffer directly, ignoring its
// null mask. Rows the mask marks null still carry the sentinel in the buffer,
// which is what the bounds-nullifying gather keys off.
func rawIndices(col arrow.Array) ([]int32, error) {
	idx, ok := col.(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: index column has type %s, expected %s",
			ErrInternalInvariant, col.DataType(), indexType)
	}
	return idx.Int32Values(), nil
}
