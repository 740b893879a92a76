// Package catalog defines the items being matched and helpers for working
// with ordered catalog lists.
package catalog

// Item is a single catalog entry. Items are immutable once supplied by the
// input source; codes are not guaranteed unique within a catalog.
type Item struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PositionIndex maps each code to the index of its first occurrence in the
// original catalog list. The position is the stable sort key for final
// output, independent of which batch completed first.
type PositionIndex map[string]int

// NewPositionIndex builds a position index over items. Duplicate codes keep
// the position of their first occurrence.
func NewPositionIndex(items []Item) PositionIndex {
	idx := make(PositionIndex, len(items))
	for i, item := range items {
		if _, seen := idx[item.Code]; !seen {
			idx[item.Code] = i
		}
	}
	return idx
}
