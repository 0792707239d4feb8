package indexer

import "fmt"

// IndexRange represents an inclusive range of slice indexes.
type IndexRange struct {
	From int
	To   int
}

// SplitRange splits [from, to] into chunks of at most size entries.
func SplitRange(from, to, size int) ([]IndexRange, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("range end must be >= range start")
	}

	ranges := make([]IndexRange, 0, (to-from)/size+1)
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to {
			end = to
		}
		ranges = append(ranges, IndexRange{From: start, To: end})
	}
	return ranges, nil
}
