package crawler

import "fmt"

// Split partitions targets into contiguous batches of at most size targets.
func Split(targets []Target, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidArgument, size)
	}
	batches := make([]Batch, 0, (len(targets)+size-1)/size)
	for start := 0; start < len(targets); start += size {
		end := min(start+size, len(targets))
		batch := make(Batch, end-start)
		copy(batch, targets[start:end])
		batches = append(batches, batch)
	}
	return batches, nil
}
