package windlass

import "errors"

// Failure taxonomy for the aggregation engine. Every failure is fatal for the
// call that produced it: the first error unwinds the whole multi-request
// aggregation and no partial results are returned.
var (
	// ErrUnsupportedAggregation is returned when dispatch reaches an
	// aggregation kind with no implemented policy, or a kind applied to a
	// column type it cannot operate on.
	ErrUnsupportedAggregation = errors.New("windlass: unsupported aggregation")

	// ErrInvalidAggregation is returned when an aggregation carries a
	// parameter combination this engine does not support, e.g. COLLECT_LIST
	// with null exclusion.
	ErrInvalidAggregation = errors.New("windlass: invalid aggregation parameter")

	// ErrInternalInvariant is returned when an internal contract is broken,
	// e.g. a cache read for a result that was never stored.
	ErrInternalInvariant = errors.New("windlass: internal invariant violation")
)
