package windlass

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// The engine's size type: group counts, group offsets and row indices are all
// Int32, matching Arrow's 32-bit list offsets.
var (
	indexType = arrow.PrimitiveTypes.Int32
	countType = arrow.PrimitiveTypes.Int32
)

// argSentinel marks "no element" in an ArgMin/ArgMax result: an out-of-range
// index that a bounds-checked gather turns into a null.
const argSentinel int32 = -1

// isFixedWidth returns true for fixed-width primitive columns. Min/Max reduce
// these directly; everything else routes through ArgMin/ArgMax plus a gather.
func isFixedWidth(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

// isNumeric returns true if the dtype supports arithmetic aggregations
// (Sum, Product, Mean, Variance, Std, Quantile, Median).
func isNumeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

// isOrdered returns true if the dtype has a total order usable by Min/Max,
// ArgMin/ArgMax and the sorted-values view.
func isOrdered(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64, arrow.FLOAT64, arrow.STRING:
		return true
	default:
		return false
	}
}
