package utils

// Partition splits a slice into the elements for which keep returns true and
// the rest, preserving order in both
func Partition[T any](slice []T, keep func(T) bool) (kept, rest []T) {
	for _, item := range slice {
		if keep(item) {
			kept = append(kept, item)
		} else {
			rest = append(rest, item)
		}
	}
	return kept, rest
}
