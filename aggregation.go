package windlass

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a groupby aggregation. The set is closed: dispatch over an
// unknown kind fails with ErrUnsupportedAggregation.
type Kind uint8

const (
	CountValid Kind = iota
	CountAll
	Sum
	Product
	Min
	Max
	ArgMin
	ArgMax
	Mean
	Variance
	Std
	Quantile
	Median
	NUnique
	NthElement
	CollectList
	CollectSet
)

// String returns the string representation of the aggregation kind
func (k Kind) String() string {
	switch k {
	case CountValid:
		return "CountValid"
	case CountAll:
		return "CountAll"
	case Sum:
		return "Sum"
	case Product:
		return "Product"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case ArgMin:
		return "ArgMin"
	case ArgMax:
		return "ArgMax"
	case Mean:
		return "Mean"
	case Variance:
		return "Variance"
	case Std:
		return "Std"
	case Quantile:
		return "Quantile"
	case Median:
		return "Median"
	case NUnique:
		return "NUnique"
	case NthElement:
		return "NthElement"
	case CollectList:
		return "CollectList"
	case CollectSet:
		return "CollectSet"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// NullPolicy controls whether null rows participate in an aggregation.
type NullPolicy uint8

const (
	ExcludeNulls NullPolicy = iota
	IncludeNulls
)

// NullEquality controls whether two nulls compare equal during de-duplication.
type NullEquality uint8

const (
	NullsEqual NullEquality = iota
	NullsUnequal
)

// NanEquality controls whether two NaNs compare equal during de-duplication.
type NanEquality uint8

const (
	NansEqual NanEquality = iota
	NansUnequal
)

// Interpolation selects how a quantile falling between two sorted values is
// computed.
type Interpolation uint8

const (
	InterpLinear Interpolation = iota
	InterpLower
	InterpHigher
	InterpMidpoint
	InterpNearest
)

// Aggregation describes one requested groupby aggregation: a kind plus the
// kind-specific parameters. Aggregations are value types for caching purposes:
// two aggregations are cache-identical iff their kind and every parameter are
// structurally equal. Construct them with the New* helpers so unused
// parameters stay zeroed.
type Aggregation struct {
	Kind Kind

	// DDOF is the delta degrees of freedom for Variance and Std.
	DDOF int

	// Quantiles and Interp parameterize Quantile. Quantile list order is
	// significant: it determines both identity and output element order.
	Quantiles []float64
	Interp    Interpolation

	// NullHandling applies to CountValid/CountAll, NUnique, NthElement and
	// CollectList/CollectSet.
	NullHandling NullPolicy

	// N is the per-group element index for NthElement. Negative values count
	// from the end of the group.
	N int

	// NullsEq and NansEq parameterize CollectSet de-duplication.
	NullsEq NullEquality
	NansEq  NanEquality
}

// NewCountValid counts non-null rows per group.
func NewCountValid() *Aggregation { return &Aggregation{Kind: CountValid} }

// NewCountAll counts all rows per group, nulls included.
func NewCountAll() *Aggregation {
	return &Aggregation{Kind: CountAll, NullHandling: IncludeNulls}
}

// NewCount counts rows per group under the given null policy: ExcludeNulls
// yields a CountValid aggregation, IncludeNulls a CountAll one.
func NewCount(nulls NullPolicy) *Aggregation {
	if nulls == IncludeNulls {
		return NewCountAll()
	}
	return NewCountValid()
}

// NewSum sums values per group.
func NewSum() *Aggregation { return &Aggregation{Kind: Sum} }

// NewProduct multiplies values per group.
func NewProduct() *Aggregation { return &Aggregation{Kind: Product} }

// NewMin takes the minimum value per group.
func NewMin() *Aggregation { return &Aggregation{Kind: Min} }

// NewMax takes the maximum value per group.
func NewMax() *Aggregation { return &Aggregation{Kind: Max} }

// NewArgMin yields, per group, the source row index of the minimum value.
func NewArgMin() *Aggregation { return &Aggregation{Kind: ArgMin} }

// NewArgMax yields, per group, the source row index of the maximum value.
func NewArgMax() *Aggregation { return &Aggregation{Kind: ArgMax} }

// NewMean averages values per group. The result is always Float64.
func NewMean() *Aggregation { return &Aggregation{Kind: Mean} }

// NewVariance computes the per-group variance with the given delta degrees of
// freedom.
func NewVariance(ddof int) *Aggregation {
	return &Aggregation{Kind: Variance, DDOF: ddof}
}

// NewStd computes the per-group standard deviation with the given delta
// degrees of freedom.
func NewStd(ddof int) *Aggregation {
	return &Aggregation{Kind: Std, DDOF: ddof}
}

// NewQuantile computes per-group quantiles. With a single quantile the result
// is a flat Float64 column; with several it is a List<Float64> column holding
// one list per group, in the given quantile order.
func NewQuantile(quantiles []float64, interp Interpolation) *Aggregation {
	qs := append([]float64{}, quantiles...)
	return &Aggregation{Kind: Quantile, Quantiles: qs, Interp: interp}
}

// NewMedian computes the per-group median, equal to a linear-interpolated 0.5
// quantile but cached under its own identity.
func NewMedian() *Aggregation { return &Aggregation{Kind: Median} }

// NewNUnique counts distinct values per group. IncludeNulls counts null as one
// distinct value.
func NewNUnique(nulls NullPolicy) *Aggregation {
	return &Aggregation{Kind: NUnique, NullHandling: nulls}
}

// NewNthElement selects the n-th element per group. ExcludeNulls counts only
// valid rows when locating the element; IncludeNulls counts every row.
// Negative n selects from the end of the group.
func NewNthElement(n int, nulls NullPolicy) *Aggregation {
	return &Aggregation{Kind: NthElement, N: n, NullHandling: nulls}
}

// NewCollectList gathers each group's values into a list. Only IncludeNulls is
// supported; dispatch rejects null exclusion with ErrInvalidAggregation.
func NewCollectList(nulls NullPolicy) *Aggregation {
	return &Aggregation{Kind: CollectList, NullHandling: nulls}
}

// NewCollectSet gathers each group's values into a list and removes
// duplicates under the given null/NaN equality policies. Only IncludeNulls is
// supported.
func NewCollectSet(nulls NullPolicy, nullsEq NullEquality, nansEq NanEquality) *Aggregation {
	return &Aggregation{Kind: CollectSet, NullHandling: nulls, NullsEq: nullsEq, NansEq: nansEq}
}

// cacheKey returns the deterministic structural identity of the aggregation.
// Every parameter participates; constructors zero the parameters a kind does
// not use, so equal requests always collide and unequal ones never do.
func (a *Aggregation) cacheKey() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(a.Kind)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(a.DDOF))
	b.WriteByte('|')
	for i, q := range a.Quantiles {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(q, 'g', -1, 64))
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(a.Interp)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(a.NullHandling)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(a.N))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(a.NullsEq)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(a.NansEq)))
	return b.String()
}
