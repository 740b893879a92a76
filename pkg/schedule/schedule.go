// Package schedule expands a partition plan into the covering grid of batch
// descriptors submitted to the mapper.
package schedule

import (
	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/planner"
)

// Descriptor is one bounded-size unit of work: a chunk of the first catalog
// paired with a chunk of the second. Descriptors are immutable once created.
// Index is assigned in row-major generation order and identifies the batch in
// logs and metrics; it does not determine result ordering.
type Descriptor struct {
	Index  int
	First  []catalog.Item
	Second []catalog.Item
}

// Grid partitions the first catalog into contiguous row chunks of size
// plan.First (the last chunk may be smaller) and the second catalog into
// column chunks of size plan.Second, then emits one descriptor per
// (row, column) pair in row-major order starting at index 0.
//
// Every first-catalog item appears in exactly plan.SecondChunks descriptors,
// once per column; the analogous property holds for the second catalog.
func Grid(plan planner.Plan, first, second []catalog.Item) []Descriptor {
	rows := chunk(first, plan.First)
	cols := chunk(second, plan.Second)

	descriptors := make([]Descriptor, 0, len(rows)*len(cols))
	index := 0
	for _, row := range rows {
		for _, col := range cols {
			descriptors = append(descriptors, Descriptor{
				Index:  index,
				First:  row,
				Second: col,
			})
			index++
		}
	}
	return descriptors
}

// Single returns the one descriptor covering both catalogs whole, used when
// the combined size fits within a single batch and no planning is needed.
func Single(first, second []catalog.Item) []Descriptor {
	return []Descriptor{{Index: 0, First: first, Second: second}}
}

// chunk splits items into contiguous slices of at most size elements.
// Boundaries never overlap and never skip an item.
func chunk(items []catalog.Item, size int) [][]catalog.Item {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]catalog.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
