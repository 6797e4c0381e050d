// Package group is a small sort-then-bucket helper, reimplemented once
// here and shared by routing's grouping steps instead of being
// re-derived at each call site. Grounded on knowledge_base/__init__.py's group(),
// a dict comprehension over itertools.groupby(sorted(it, key=key)).
package group

import "sort"

// By buckets items by key, preserving the sorted-by-key order of first
// appearance for the bucket keys themselves (ByOrdered returns that
// order explicitly; By alone is for callers that only want the map).
func By[T any, K comparable](items []T, key func(T) K, less func(a, b K) bool) map[K][]T {
	out := map[K][]T{}
	for _, item := range sortedByKey(items, key, less) {
		k := key(item)
		out[k] = append(out[k], item)
	}
	return out
}

// ByOrdered is By plus the distinct keys in sorted order, mirroring the
// iteration order Python's groupby(sorted(...)) would produce.
func ByOrdered[T any, K comparable](items []T, key func(T) K, less func(a, b K) bool) (map[K][]T, []K) {
	out := map[K][]T{}
	var order []K
	for _, item := range sortedByKey(items, key, less) {
		k := key(item)
		if _, seen := out[k]; !seen {
			order = append(order, k)
		}
		out[k] = append(out[k], item)
	}
	return out, order
}

func sortedByKey[T any, K comparable](items []T, key func(T) K, less func(a, b K) bool) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(key(sorted[i]), key(sorted[j]))
	})
	return sorted
}
