// Package planner computes the chunk split that minimizes the number of
// batch calls needed to cover a two-sided comparison problem.
//
// Given n1 items in the first catalog, n2 items in the second, and a maximum
// batch size, the planner picks (f, s) with f+s = maxBatchSize so that
// ceil(n1/f) * ceil(n2/s) is minimal. The scan over all splits is
// O(maxBatchSize) and runs once per mapping run.
package planner

import (
	"fmt"
)

// Plan is the result of an optimal split computation.
type Plan struct {
	// N1 and N2 are the catalog sizes the plan was computed for.
	N1 int
	N2 int

	// MaxBatchSize is the bound the plan honors: First + Second == MaxBatchSize.
	MaxBatchSize int

	// First is the number of first-catalog items per batch (f).
	First int

	// Second is the number of second-catalog items per batch (s).
	Second int

	// FirstChunks is ceil(N1/First), the number of row chunks.
	FirstChunks int

	// SecondChunks is ceil(N2/Second), the number of column chunks.
	SecondChunks int

	// TotalBatches is FirstChunks * SecondChunks.
	TotalBatches int
}

// Optimal scans all splits f in [1, maxBatchSize-1], s = maxBatchSize-f and
// returns the plan minimizing the total batch count.
//
// Ties are broken in order: smaller |f-s| (prefer balance), then smaller
// combined remainder (n1 mod f)+(n2 mod s), then larger s.
func Optimal(n1, n2, maxBatchSize int) (Plan, error) {
	if n1 <= 0 || n2 <= 0 {
		return Plan{}, fmt.Errorf("catalog sizes must be positive (n1=%d, n2=%d)", n1, n2)
	}
	if maxBatchSize < 2 {
		return Plan{}, fmt.Errorf("max batch size must be >= 2 (got %d)", maxBatchSize)
	}

	bestF, bestS := 0, 0
	minBatches := 0

	for f := 1; f < maxBatchSize; f++ {
		s := maxBatchSize - f

		total := ceilDiv(n1, f) * ceilDiv(n2, s)

		if bestF == 0 || total < minBatches {
			minBatches = total
			bestF, bestS = f, s
			continue
		}
		if total > minBatches {
			continue
		}

		// Tie-breaking.
		curDiff := abs(bestF - bestS)
		newDiff := abs(f - s)
		switch {
		case newDiff < curDiff:
			bestF, bestS = f, s
		case newDiff == curDiff:
			curRem := n1%bestF + n2%bestS
			newRem := n1%f + n2%s
			if newRem < curRem || (newRem == curRem && s > bestS) {
				bestF, bestS = f, s
			}
		}
	}

	return Plan{
		N1:           n1,
		N2:           n2,
		MaxBatchSize: maxBatchSize,
		First:        bestF,
		Second:       bestS,
		FirstChunks:  ceilDiv(n1, bestF),
		SecondChunks: ceilDiv(n2, bestS),
		TotalBatches: minBatches,
	}, nil
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
