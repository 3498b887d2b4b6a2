// Package scatter fans one logical query out across independent partitions
// on a shared, bounded worker pool.
package scatter

// Partition splits items into exactly w contiguous groups of at most
// ceil(len(items)/w) elements, preserving order. Trailing groups are empty
// when there are fewer items than groups.
func Partition[T any](items []T, w int) [][]T {
	if w < 1 {
		w = 1
	}
	groups := make([][]T, w)
	if len(items) == 0 {
		return groups
	}

	size := max(1, (len(items)+w-1)/w)
	for i := range groups {
		start := i * size
		if start >= len(items) {
			break
		}
		end := min(start+size, len(items))
		groups[i] = items[start:end:end]
	}
	return groups
}
