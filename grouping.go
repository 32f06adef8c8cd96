package windlass

import (
	"fmt"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// groupHelper partitions rows into groups by sorting on the key columns. It
// supplies the grouping state every aggregation consumes: the key sort
// permutation, per-row group labels, group offsets and the unique-keys table.
// Each piece is computed lazily, at most once, and cached for the helper's
// lifetime. The helper references the key columns, it does not own them.
type groupHelper struct {
	keys    []arrow.Array
	mem     memory.Allocator
	numRows int

	computed  bool
	sortOrder []int32 // permutation: position in group-sorted order -> source row
	labels    []int32 // group id of each row in group-sorted order
	offsets   []int32 // group boundaries over group-sorted order, len = numGroups+1

	uniques []arrow.Array // one row per group, owned by the helper
}

func newGroupHelper(mem memory.Allocator, keys []arrow.Array) (*groupHelper, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("windlass: at least one key column is required")
	}
	numRows := keys[0].Len()
	for i, k := range keys {
		if k.Len() != numRows {
			return nil, fmt.Errorf("windlass: key column %d has %d rows, expected %d", i, k.Len(), numRows)
		}
		if !isOrdered(k.DataType()) {
			return nil, fmt.Errorf("windlass: key column %d has unsupported type %s", i, k.DataType())
		}
	}
	return &groupHelper{keys: keys, mem: mem, numRows: numRows}, nil
}

// compute sorts the rows by key and derives labels and offsets. Null keys
// form their own group and sort after every non-null key; NaN keys group
// together and sort after every other number.
func (h *groupHelper) compute() {
	if h.computed {
		return
	}
	h.computed = true

	order := make([]int32, h.numRows)
	for i := range order {
		order[i] = int32(i)
	}
	slices.SortStableFunc(order, func(a, b int32) int {
		for _, k := range h.keys {
			if c := compareAt(k, int(a), int(b)); c != 0 {
				return c
			}
		}
		return 0
	})
	h.sortOrder = order

	h.labels = make([]int32, h.numRows)
	h.offsets = append(h.offsets, 0)
	group := int32(0)
	for i := 0; i < h.numRows; i++ {
		if i > 0 && !h.sameKeys(int(order[i-1]), int(order[i])) {
			group++
			h.offsets = append(h.offsets, int32(i))
		}
		h.labels[i] = group
	}
	if h.numRows > 0 {
		h.offsets = append(h.offsets, int32(h.numRows))
	}
}

// sameKeys reports whether two source rows carry equal keys, with nulls equal
// to nulls and NaNs equal to NaNs.
func (h *groupHelper) sameKeys(a, b int) bool {
	for _, k := range h.keys {
		if compareAt(k, a, b) != 0 {
			return false
		}
	}
	return true
}

// keySortOrder returns the permutation mapping group-sorted positions to
// source rows.
func (h *groupHelper) keySortOrder() []int32 {
	h.compute()
	return h.sortOrder
}

// groupLabels returns, for each row in group-sorted order, the id of the
// group the row belongs to.
func (h *groupHelper) groupLabels() []int32 {
	h.compute()
	return h.labels
}

// groupOffsets returns the group boundaries over group-sorted order. Group g
// spans [offsets[g], offsets[g+1]).
func (h *groupHelper) groupOffsets() []int32 {
	h.compute()
	return h.offsets
}

func (h *groupHelper) numGroups() int {
	h.compute()
	if len(h.offsets) == 0 {
		return 0
	}
	return len(h.offsets) - 1
}

// uniqueKeys returns one row per group for every key column, in group order.
// The returned columns are owned by the helper and released with it.
func (h *groupHelper) uniqueKeys() ([]arrow.Array, error) {
	if h.uniques != nil {
		return h.uniques, nil
	}
	h.compute()

	firsts := make([]int32, h.numGroups())
	for g := range firsts {
		firsts[g] = h.sortOrder[h.offsets[g]]
	}

	uniques := make([]arrow.Array, len(h.keys))
	for i, k := range h.keys {
		u, err := take(k, firsts, false, h.mem)
		if err != nil {
			for _, prev := range uniques[:i] {
				prev.Release()
			}
			return nil, err
		}
		uniques[i] = u
	}
	h.uniques = uniques
	return h.uniques, nil
}

// sortedOrderForValues returns a permutation ordering rows by group and then
// by value within each group, with nulls last in their group. Group ranges
// are independent, so the per-group sorts run in parallel.
func (h *groupHelper) sortedOrderForValues(values arrow.Array) ([]int32, error) {
	if !isOrdered(values.DataType()) {
		return nil, fmt.Errorf("%w: cannot order values of type %s",
			ErrUnsupportedAggregation, values.DataType())
	}
	h.compute()

	order := make([]int32, len(h.sortOrder))
	copy(order, h.sortOrder)
	ng := h.numGroups()
	parallelFor(ng, func(start, end int) {
		for g := start; g < end; g++ {
			span := order[h.offsets[g]:h.offsets[g+1]]
			slices.SortStableFunc(span, func(a, b int32) int {
				return compareAt(values, int(a), int(b))
			})
		}
	})
	return order, nil
}

// release frees the helper-owned unique-keys columns.
func (h *groupHelper) release() {
	for _, u := range h.uniques {
		u.Release()
	}
	h.uniques = nil
}

// compareAt orders two rows of a column ascending with nulls last. NaNs sort
// after every other float and compare equal to each other, so they land in
// one group.
func compareAt(col arrow.Array, i, j int) int {
	iNull, jNull := col.IsNull(i), col.IsNull(j)
	switch {
	case iNull && jNull:
		return 0
	case iNull:
		return 1
	case jNull:
		return -1
	}

	switch c := col.(type) {
	case *array.Int32:
		return cmpOrdered(c.Value(i), c.Value(j))
	case *array.Int64:
		return cmpOrdered(c.Value(i), c.Value(j))
	case *array.Float64:
		return cmpFloat(c.Value(i), c.Value(j))
	case *array.String:
		return cmpOrdered(c.Value(i), c.Value(j))
	default:
		return 0
	}
}

func cmpOrdered[T int32 | int64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
