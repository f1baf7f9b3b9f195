package coordinator

import (
	"fmt"

	"github.com/benchharness/harness/internal/executor"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/suite"
)

// BatchSizing selects how a suite is sliced into batches (spec §4.3).
// Exactly one of Uniform or Sizes should be set; Sizes takes
// precedence when non-empty.
type BatchSizing struct {
	Uniform int
	Sizes   []int
}

// Partition slices ts into Batches per sizing, in suite order, with
// batch numbers starting at 1 (spec §4.3, invariants I1/I2).
func Partition(ts *suite.TestSuite, sizing BatchSizing) ([]*executor.Batch, error) {
	if len(sizing.Sizes) > 0 {
		sum := 0
		for _, s := range sizing.Sizes {
			sum += s
		}
		if sum != len(ts.Tests) {
			return nil, harnesserr.New(harnesserr.Config, fmt.Sprintf("custom batch sizes sum to %d, suite has %d tests", sum, len(ts.Tests)))
		}
		return sliceBatches(ts, sizing.Sizes), nil
	}

	if sizing.Uniform < 1 {
		return nil, harnesserr.New(harnesserr.Config, "batch_size must be >= 1")
	}
	n := len(ts.Tests)
	full := n / sizing.Uniform
	remainder := n % sizing.Uniform

	sizes := make([]int, 0, full+1)
	for i := 0; i < full; i++ {
		sizes = append(sizes, sizing.Uniform)
	}
	if remainder > 0 {
		sizes = append(sizes, remainder)
	}
	return sliceBatches(ts, sizes), nil
}

func sliceBatches(ts *suite.TestSuite, sizes []int) []*executor.Batch {
	batches := make([]*executor.Batch, 0, len(sizes))
	offset := 0
	for i, size := range sizes {
		ids := make([]string, 0, size)
		for j := offset; j < offset+size; j++ {
			ids = append(ids, ts.Tests[j].ID)
		}
		batches = append(batches, &executor.Batch{
			Number:      i + 1,
			TestCaseIDs: ids,
			Status:      executor.StatusPending,
		})
		offset += size
	}
	return batches
}
