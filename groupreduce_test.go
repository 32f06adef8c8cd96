package windlass

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var testMem = memory.DefaultAllocator

func TestQuantileOfInterpolations(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	at := func(i int) float64 { return vals[i] }

	cases := []struct {
		q      float64
		interp Interpolation
		want   float64
	}{
		{0, InterpLinear, 1},
		{1, InterpLinear, 4},
		{0.5, InterpLinear, 2.5},
		{0.5, InterpLower, 2},
		{0.5, InterpHigher, 3},
		{0.5, InterpMidpoint, 2.5},
		{0.4, InterpNearest, 2},
		{0.25, InterpLinear, 1.75},
	}
	for _, tc := range cases {
		got := quantileOf(len(vals), tc.q, tc.interp, at)
		if !almostEqual(got, tc.want) {
			t.Errorf("quantileOf(q=%v, interp=%d): expected %v, got %v", tc.q, tc.interp, tc.want, got)
		}
	}
}

func TestQuantileOfSingleElement(t *testing.T) {
	at := func(int) float64 { return 7 }
	for _, q := range []float64{0, 0.5, 1} {
		if got := quantileOf(1, q, InterpLinear, at); got != 7 {
			t.Errorf("quantileOf on one element: expected 7, got %v", got)
		}
	}
}

func TestGroupCounts(t *testing.T) {
	// Two groups in grouped order: rows 0-2 and 3-4; one null in each.
	grouped := float64Col([]float64{1, 0, 2, 0, 3}, []bool{true, false, true, false, true})
	defer grouped.Release()
	labels := []int32{0, 0, 0, 1, 1}
	offsets := []int32{0, 3, 5}

	validCounts := groupCountValid(grouped, labels, 2, testMem).(*array.Int32)
	defer validCounts.Release()
	if validCounts.Value(0) != 2 || validCounts.Value(1) != 1 {
		t.Errorf("count valid: expected [2 1], got [%d %d]", validCounts.Value(0), validCounts.Value(1))
	}

	allCounts := groupCountAll(offsets, testMem).(*array.Int32)
	defer allCounts.Release()
	if allCounts.Value(0) != 3 || allCounts.Value(1) != 2 {
		t.Errorf("count all: expected [3 2], got [%d %d]", allCounts.Value(0), allCounts.Value(1))
	}
}

func TestGroupSumAndProduct(t *testing.T) {
	grouped := int64Col([]int64{2, 3, 0, 5, 0}, []bool{true, true, false, true, false})
	defer grouped.Release()
	labels := []int32{0, 0, 0, 1, 2}

	sums, err := groupSum(grouped, 3, labels, testMem)
	if err != nil {
		t.Fatalf("groupSum failed: %v", err)
	}
	defer sums.Release()
	s := sums.(*array.Int64)
	if s.Value(0) != 5 || s.Value(1) != 5 {
		t.Errorf("sum: expected [5 5 null], got [%d %d]", s.Value(0), s.Value(1))
	}
	if !s.IsNull(2) {
		t.Error("sum of an all-null group should be null")
	}

	prods, err := groupProduct(grouped, 3, labels, testMem)
	if err != nil {
		t.Fatalf("groupProduct failed: %v", err)
	}
	defer prods.Release()
	p := prods.(*array.Int64)
	if p.Value(0) != 6 || p.Value(1) != 5 || !p.IsNull(2) {
		t.Errorf("product: expected [6 5 null], got [%d %d null=%v]", p.Value(0), p.Value(1), p.IsNull(2))
	}
}

func TestGroupSumRejectsStrings(t *testing.T) {
	grouped := stringCol([]string{"a", "b"}, nil)
	defer grouped.Release()

	if _, err := groupSum(grouped, 1, []int32{0, 0}, testMem); err == nil {
		t.Fatal("expected an error summing strings")
	}
}

func TestGroupArgMinSentinel(t *testing.T) {
	// Grouped order with key sort order mapping positions back to source
	// rows. Group 1 is all null.
	grouped := float64Col([]float64{5, 2, 0, 0}, []bool{true, true, false, false})
	defer grouped.Release()
	labels := []int32{0, 0, 1, 1}
	keySortOrder := []int32{3, 1, 0, 2}

	res, err := groupArgMin(grouped, 2, labels, keySortOrder, testMem)
	if err != nil {
		t.Fatalf("groupArgMin failed: %v", err)
	}
	defer res.Release()
	idx := res.(*array.Int32)

	// Min of group 0 sits at grouped position 1, source row 1.
	if idx.Value(0) != 1 {
		t.Errorf("argmin group 0: expected source row 1, got %d", idx.Value(0))
	}
	if !idx.IsNull(1) {
		t.Error("argmin of an all-null group should be null")
	}
	// The data buffer keeps the sentinel under the null for the gather path.
	if idx.Int32Values()[1] != argSentinel {
		t.Errorf("argmin sentinel: expected %d, got %d", argSentinel, idx.Int32Values()[1])
	}
}

func TestGroupArgMaxTieBreak(t *testing.T) {
	grouped := int64Col([]int64{4, 4, 1}, nil)
	defer grouped.Release()
	labels := []int32{0, 0, 0}
	keySortOrder := []int32{2, 0, 1}

	res, err := groupArgMax(grouped, 1, labels, keySortOrder, testMem)
	if err != nil {
		t.Fatalf("groupArgMax failed: %v", err)
	}
	defer res.Release()
	// Ties keep the earliest grouped position, source row 2.
	if got := res.(*array.Int32).Value(0); got != 2 {
		t.Errorf("argmax tie break: expected source row 2, got %d", got)
	}
}

func TestTakeBoundsNullify(t *testing.T) {
	values := stringCol([]string{"a", "b", "c"}, nil)
	defer values.Release()

	// The sentinel is out of range and must become null regardless of any
	// index-column mask.
	res, err := take(values, []int32{2, argSentinel, 0}, true, testMem)
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	defer res.Release()
	s := res.(*array.String)
	if s.Value(0) != "c" || s.Value(2) != "a" {
		t.Errorf("take: expected [c null a], got [%s ? %s]", s.Value(0), s.Value(2))
	}
	if !s.IsNull(1) {
		t.Error("out-of-range index should gather to null")
	}
}

func TestGroupNUnique(t *testing.T) {
	// One group, sorted values [1, 1, 2, null].
	sorted := int64Col([]int64{1, 1, 2, 0}, []bool{true, true, true, false})
	defer sorted.Release()
	offsets := []int32{0, 4}

	excl := groupNUnique(sorted, offsets, 1, ExcludeNulls, testMem).(*array.Int32)
	defer excl.Release()
	if excl.Value(0) != 2 {
		t.Errorf("nunique exclude: expected 2, got %d", excl.Value(0))
	}

	incl := groupNUnique(sorted, offsets, 1, IncludeNulls, testMem).(*array.Int32)
	defer incl.Release()
	if incl.Value(0) != 3 {
		t.Errorf("nunique include: expected 3, got %d", incl.Value(0))
	}
}

func TestGroupNUniqueNaNsEqual(t *testing.T) {
	nan := math.NaN()
	sorted := float64Col([]float64{1, nan, nan}, nil)
	defer sorted.Release()

	res := groupNUnique(sorted, []int32{0, 3}, 1, ExcludeNulls, testMem).(*array.Int32)
	defer res.Release()
	if res.Value(0) != 2 {
		t.Errorf("nunique with NaNs: expected 2, got %d", res.Value(0))
	}
}

func TestGroupNthElement(t *testing.T) {
	// One group: [10, null, 30, 40].
	grouped := int64Col([]int64{10, 0, 30, 40}, []bool{true, false, true, true})
	defer grouped.Release()
	offsets := []int32{0, 4}

	validCounts := groupCountValid(grouped, []int32{0, 0, 0, 0}, 1, testMem)
	defer validCounts.Release()
	allCounts := groupCountAll(offsets, testMem)
	defer allCounts.Release()

	cases := []struct {
		n        int
		nulls    NullPolicy
		wantNull bool
		want     int64
	}{
		{1, ExcludeNulls, false, 30},  // second valid element
		{1, IncludeNulls, true, 0},    // second row is null
		{-1, ExcludeNulls, false, 40}, // last valid element
		{-1, IncludeNulls, false, 40},
		{5, IncludeNulls, true, 0}, // out of bounds
	}
	for _, tc := range cases {
		counts := validCounts
		if tc.nulls == IncludeNulls {
			counts = allCounts
		}
		res, err := groupNthElement(grouped, counts, offsets, 1, tc.n, tc.nulls, testMem)
		if err != nil {
			t.Fatalf("groupNthElement(n=%d) failed: %v", tc.n, err)
		}
		got := res.(*array.Int64)
		if tc.wantNull {
			if !got.IsNull(0) {
				t.Errorf("nth(n=%d, nulls=%d): expected null, got %d", tc.n, tc.nulls, got.Value(0))
			}
		} else if got.IsNull(0) || got.Value(0) != tc.want {
			t.Errorf("nth(n=%d, nulls=%d): expected %d, got null=%v %d",
				tc.n, tc.nulls, tc.want, got.IsNull(0), got.Value(0))
		}
		res.Release()
	}
}

func TestGroupCollectPreservesNulls(t *testing.T) {
	grouped := int64Col([]int64{1, 0, 2}, []bool{true, false, true})
	defer grouped.Release()

	res, err := groupCollect(grouped, []int32{0, 2, 3}, 2, testMem)
	if err != nil {
		t.Fatalf("groupCollect failed: %v", err)
	}
	defer res.Release()

	vals, valid := listRowI64(res, 0)
	if len(vals) != 2 || vals[0] != 1 || valid[1] {
		t.Errorf("collect group 0: expected [1 null], got %v valid=%v", vals, valid)
	}
	vals, valid = listRowI64(res, 1)
	if len(vals) != 1 || vals[0] != 2 || !valid[0] {
		t.Errorf("collect group 1: expected [2], got %v valid=%v", vals, valid)
	}
}

func TestDropListDuplicatesNullEquality(t *testing.T) {
	// One list row: [1, 2, 2, null, null].
	grouped := int64Col([]int64{1, 2, 2, 0, 0}, []bool{true, true, true, false, false})
	defer grouped.Release()
	collected, err := groupCollect(grouped, []int32{0, 5}, 1, testMem)
	if err != nil {
		t.Fatalf("groupCollect failed: %v", err)
	}
	defer collected.Release()

	equal, err := dropListDuplicates(collected, NullsEqual, NansEqual, testMem)
	if err != nil {
		t.Fatalf("dropListDuplicates failed: %v", err)
	}
	defer equal.Release()
	vals, valid := listRowI64(equal, 0)
	if len(vals) != 3 || !valid[0] || !valid[1] || valid[2] {
		t.Errorf("nulls equal: expected {1, 2, null}, got %v valid=%v", vals, valid)
	}

	unequal, err := dropListDuplicates(collected, NullsUnequal, NansEqual, testMem)
	if err != nil {
		t.Fatalf("dropListDuplicates failed: %v", err)
	}
	defer unequal.Release()
	vals, valid = listRowI64(unequal, 0)
	if len(vals) != 4 || valid[2] || valid[3] {
		t.Errorf("nulls unequal: expected {1, 2, null, null}, got %v valid=%v", vals, valid)
	}
}

func TestDropListDuplicatesNaNEquality(t *testing.T) {
	nan := math.NaN()
	grouped := float64Col([]float64{1, nan, nan}, nil)
	defer grouped.Release()
	collected, err := groupCollect(grouped, []int32{0, 3}, 1, testMem)
	if err != nil {
		t.Fatalf("groupCollect failed: %v", err)
	}
	defer collected.Release()

	equal, err := dropListDuplicates(collected, NullsEqual, NansEqual, testMem)
	if err != nil {
		t.Fatalf("dropListDuplicates failed: %v", err)
	}
	defer equal.Release()
	if vals, _ := listRowF64(equal, 0); len(vals) != 2 {
		t.Errorf("nans equal: expected 2 elements, got %v", vals)
	}

	unequal, err := dropListDuplicates(collected, NullsEqual, NansUnequal, testMem)
	if err != nil {
		t.Fatalf("dropListDuplicates failed: %v", err)
	}
	defer unequal.Release()
	if vals, _ := listRowF64(unequal, 0); len(vals) != 3 {
		t.Errorf("nans unequal: expected 3 elements, got %v", vals)
	}
}

func TestGroupVarDDOF(t *testing.T) {
	grouped := float64Col([]float64{1, 3, 5}, nil)
	defer grouped.Release()
	labels := []int32{0, 0, 1}

	means := float64Col([]float64{2, 5}, nil)
	defer means.Release()
	counts := groupCountValid(grouped, labels, 2, testMem)
	defer counts.Release()

	res, err := groupVar(grouped, means, counts, labels, 1, testMem)
	if err != nil {
		t.Fatalf("groupVar failed: %v", err)
	}
	defer res.Release()
	v := res.(*array.Float64)

	// Group 0: ((1-2)^2 + (3-2)^2) / (2-1) = 2.
	if !almostEqual(v.Value(0), 2) {
		t.Errorf("variance group 0: expected 2, got %v", v.Value(0))
	}
	// Group 1 has one value and ddof=1: undefined, null.
	if !v.IsNull(1) {
		t.Error("variance with count <= ddof should be null")
	}
}
