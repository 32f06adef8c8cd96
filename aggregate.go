package windlass

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ============================================================================
// Value View Provider
// ============================================================================

// viewCache lazily materializes the two reorderings every reduction consumes:
// grouped values (rows in group-contiguous order) and sorted values (rows
// ordered by group then by value). Each view is computed at most once per
// source column per Aggregate call, keyed by column identity, and shared by
// every aggregation in the call.
type viewCache struct {
	helper  *groupHelper
	mem     memory.Allocator
	grouped map[arrow.Array]arrow.Array
	sorted  map[arrow.Array]arrow.Array
}

func newViewCache(helper *groupHelper, mem memory.Allocator) *viewCache {
	return &viewCache{
		helper:  helper,
		mem:     mem,
		grouped: make(map[arrow.Array]arrow.Array),
		sorted:  make(map[arrow.Array]arrow.Array),
	}
}

// groupedValues returns the column's rows reordered into group-contiguous
// order. The view is owned by the cache.
func (vc *viewCache) groupedValues(values arrow.Array) (arrow.Array, error) {
	if v, ok := vc.grouped[values]; ok {
		return v, nil
	}
	v, err := take(values, vc.helper.keySortOrder(), false, vc.mem)
	if err != nil {
		return nil, err
	}
	vc.grouped[values] = v
	return v, nil
}

// sortedValues returns the column's rows reordered by group and then by value
// within each group, nulls last. The view is owned by the cache.
func (vc *viewCache) sortedValues(values arrow.Array) (arrow.Array, error) {
	if v, ok := vc.sorted[values]; ok {
		return v, nil
	}
	order, err := vc.helper.sortedOrderForValues(values)
	if err != nil {
		return nil, err
	}
	v, err := take(values, order, false, vc.mem)
	if err != nil {
		return nil, err
	}
	vc.sorted[values] = v
	return v, nil
}

func (vc *viewCache) release() {
	for k, v := range vc.grouped {
		v.Release()
		delete(vc.grouped, k)
	}
	for k, v := range vc.sorted {
		v.Release()
		delete(vc.sorted, k)
	}
}

// ============================================================================
// Per-Column Aggregation Handler
// ============================================================================

// aggFunctor computes every aggregation kind for one requested column. It
// threads the shared result cache and view cache through recursive dependency
// resolution, so aggregations that depend on other aggregations (mean on sum
// and count, std on variance, and so on) are computed at most once.
type aggFunctor struct {
	reqIdx int
	values arrow.Array
	helper *groupHelper
	cache  *resultCache
	views  *viewCache
	mem    memory.Allocator
}

// dispatch routes an aggregation to its kind-specific policy. The kind set is
// closed; anything else is unsupported and fatal. Dependencies recurse
// through this same entry point, bounded by the fixed, acyclic dependency
// graph between kinds (at most three levels: Std -> Variance -> Mean ->
// Sum/CountValid).
func (f *aggFunctor) dispatch(agg *Aggregation) error {
	switch agg.Kind {
	case CountValid:
		return f.countValid(agg)
	case CountAll:
		return f.countAll(agg)
	case Sum:
		return f.sum(agg)
	case Product:
		return f.product(agg)
	case Min:
		return f.minMax(agg, true)
	case Max:
		return f.minMax(agg, false)
	case ArgMin:
		return f.argMinMax(agg, true)
	case ArgMax:
		return f.argMinMax(agg, false)
	case Mean:
		return f.mean(agg)
	case Variance:
		return f.variance(agg)
	case Std:
		return f.std(agg)
	case Quantile:
		return f.quantile(agg)
	case Median:
		return f.median(agg)
	case NUnique:
		return f.nunique(agg)
	case NthElement:
		return f.nthElement(agg)
	case CollectList:
		return f.collectList(agg)
	case CollectSet:
		return f.collectSet(agg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAggregation, agg.Kind)
	}
}

func (f *aggFunctor) countValid(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}
	var res arrow.Array
	if gv.NullN() > 0 {
		res = groupCountValid(gv, f.helper.groupLabels(), f.helper.numGroups(), f.mem)
	} else {
		// No nulls: the valid count is the row count, straight from offsets.
		res = groupCountAll(f.helper.groupOffsets(), f.mem)
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) countAll(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	f.cache.addResult(f.reqIdx, agg, groupCountAll(f.helper.groupOffsets(), f.mem))
	return nil
}

func (f *aggFunctor) sum(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}
	res, err := groupSum(gv, f.helper.numGroups(), f.helper.groupLabels(), f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) product(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}
	res, err := groupProduct(gv, f.helper.numGroups(), f.helper.groupLabels(), f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) argMinMax(agg *Aggregation, wantMin bool) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}
	var res arrow.Array
	if wantMin {
		res, err = groupArgMin(gv, f.helper.numGroups(), f.helper.groupLabels(), f.helper.keySortOrder(), f.mem)
	} else {
		res, err = groupArgMax(gv, f.helper.numGroups(), f.helper.groupLabels(), f.helper.keySortOrder(), f.mem)
	}
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

// minMax reduces fixed-width columns directly. Anything else goes through
// ArgMin/ArgMax and a gather over the index buffer: sentinel indices left in
// the buffer for all-null groups fall out of range and become nulls in the
// gathered output, regardless of the index column's own null mask.
func (f *aggFunctor) minMax(agg *Aggregation, wantMin bool) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	var res arrow.Array
	if isFixedWidth(f.values.DataType()) {
		gv, err := f.views.groupedValues(f.values)
		if err != nil {
			return err
		}
		if wantMin {
			res, err = groupMin(gv, f.helper.numGroups(), f.helper.groupLabels(), f.mem)
		} else {
			res, err = groupMax(gv, f.helper.numGroups(), f.helper.groupLabels(), f.mem)
		}
		if err != nil {
			return err
		}
	} else {
		argAgg := NewArgMin()
		if !wantMin {
			argAgg = NewArgMax()
		}
		if err := f.dispatch(argAgg); err != nil {
			return err
		}
		argRes, err := f.cache.getResult(f.reqIdx, argAgg)
		if err != nil {
			return err
		}
		indices, err := rawIndices(argRes)
		if err != nil {
			return err
		}
		res, err = take(f.values, indices, argRes.NullN() > 0, f.mem)
		if err != nil {
			return err
		}
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) mean(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	sumAgg, countAgg := NewSum(), NewCountValid()
	if err := f.dispatch(sumAgg); err != nil {
		return err
	}
	if err := f.dispatch(countAgg); err != nil {
		return err
	}
	sums, err := f.cache.getResult(f.reqIdx, sumAgg)
	if err != nil {
		return err
	}
	counts, err := f.cache.getResult(f.reqIdx, countAgg)
	if err != nil {
		return err
	}

	res, err := divideByCounts(sums, counts, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) variance(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	meanAgg, countAgg := NewMean(), NewCountValid()
	if err := f.dispatch(meanAgg); err != nil {
		return err
	}
	if err := f.dispatch(countAgg); err != nil {
		return err
	}
	means, err := f.cache.getResult(f.reqIdx, meanAgg)
	if err != nil {
		return err
	}
	counts, err := f.cache.getResult(f.reqIdx, countAgg)
	if err != nil {
		return err
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}

	res, err := groupVar(gv, means, counts, f.helper.groupLabels(), agg.DDOF, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) std(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	varAgg := NewVariance(agg.DDOF)
	if err := f.dispatch(varAgg); err != nil {
		return err
	}
	variances, err := f.cache.getResult(f.reqIdx, varAgg)
	if err != nil {
		return err
	}

	res, err := sqrtColumn(variances, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) quantile(agg *Aggregation) error {
	if len(agg.Quantiles) == 0 {
		return fmt.Errorf("%w: quantile aggregation needs at least one quantile",
			ErrInvalidAggregation)
	}
	for _, q := range agg.Quantiles {
		if q < 0 || q > 1 {
			return fmt.Errorf("%w: quantile %v is outside [0, 1]", ErrInvalidAggregation, q)
		}
	}
	if !isNumeric(f.values.DataType()) {
		return fmt.Errorf("%w: quantile on values of type %s",
			ErrUnsupportedAggregation, f.values.DataType())
	}
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	countAgg := NewCountValid()
	if err := f.dispatch(countAgg); err != nil {
		return err
	}
	counts, err := f.cache.getResult(f.reqIdx, countAgg)
	if err != nil {
		return err
	}
	sv, err := f.views.sortedValues(f.values)
	if err != nil {
		return err
	}

	res, err := groupQuantiles(sv, counts, f.helper.groupOffsets(), f.helper.numGroups(),
		agg.Quantiles, agg.Interp, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

// median is a fixed-parameter quantile, computed directly and cached under
// its own identity rather than under a Quantile entry.
func (f *aggFunctor) median(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	countAgg := NewCountValid()
	if err := f.dispatch(countAgg); err != nil {
		return err
	}
	counts, err := f.cache.getResult(f.reqIdx, countAgg)
	if err != nil {
		return err
	}
	sv, err := f.views.sortedValues(f.values)
	if err != nil {
		return err
	}

	res, err := groupQuantiles(sv, counts, f.helper.groupOffsets(), f.helper.numGroups(),
		[]float64{0.5}, InterpLinear, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) nunique(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}
	sv, err := f.views.sortedValues(f.values)
	if err != nil {
		return err
	}
	res := groupNUnique(sv, f.helper.groupOffsets(), f.helper.numGroups(), agg.NullHandling, f.mem)
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) nthElement(agg *Aggregation) error {
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	// The count kind must match the null policy: valid counts bound n under
	// ExcludeNulls, row counts under IncludeNulls.
	countAgg := NewCount(agg.NullHandling)
	switch countAgg.Kind {
	case CountValid, CountAll:
		if err := f.dispatch(countAgg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: wrong count aggregation kind %s for nth element",
			ErrInternalInvariant, countAgg.Kind)
	}
	counts, err := f.cache.getResult(f.reqIdx, countAgg)
	if err != nil {
		return err
	}
	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}

	res, err := groupNthElement(gv, counts, f.helper.groupOffsets(), f.helper.numGroups(),
		agg.N, agg.NullHandling, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) collectList(agg *Aggregation) error {
	if agg.NullHandling == ExcludeNulls {
		return fmt.Errorf("%w: null exclusion is not supported on groupby collect_list",
			ErrInvalidAggregation)
	}
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	gv, err := f.views.groupedValues(f.values)
	if err != nil {
		return err
	}
	res, err := groupCollect(gv, f.helper.groupOffsets(), f.helper.numGroups(), f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}

func (f *aggFunctor) collectSet(agg *Aggregation) error {
	if agg.NullHandling == ExcludeNulls {
		return fmt.Errorf("%w: null exclusion is not supported on groupby collect_set",
			ErrInvalidAggregation)
	}
	if f.cache.hasResult(f.reqIdx, agg) {
		return nil
	}

	collectAgg := NewCollectList(agg.NullHandling)
	if err := f.dispatch(collectAgg); err != nil {
		return err
	}
	collected, err := f.cache.getResult(f.reqIdx, collectAgg)
	if err != nil {
		return err
	}

	res, err := dropListDuplicates(collected, agg.NullsEq, agg.NansEq, f.mem)
	if err != nil {
		return err
	}
	f.cache.addResult(f.reqIdx, agg, res)
	return nil
}
