// Package windlass is a sort-based groupby aggregation engine over Apache
// Arrow columns. A GroupBy partitions rows by one or more key columns; its
// Aggregate method computes any mix of aggregations (count, sum, product,
// min/max, argmin/argmax, mean, variance, std, quantile, median, nunique,
// nth element, collect list/set) per value column, computing each result and
// each shared intermediate at most once per call.
package windlass
