package langdetect

import (
	"github.com/google/btree"
)

// Interval labels the half-open sentence-index range [Start, End) with a
// language tag.
type Interval struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Lang  string `json:"lang"`
}

// IntervalMap is a tree of non-overlapping [Start, End) intervals ordered by
// Start. It answers point queries ("which language is sentence i?") and
// ordered iteration.
type IntervalMap struct {
	tree *btree.BTreeG[Interval]
}

// NewIntervalMap creates an empty map.
func NewIntervalMap() *IntervalMap {
	return &IntervalMap{
		tree: btree.NewG(2, func(a, b Interval) bool { return a.Start < b.Start }),
	}
}

// Add inserts iv. Empty intervals (Start >= End) are ignored. An interval
// with the same Start replaces the previous one.
func (m *IntervalMap) Add(iv Interval) {
	if iv.Start >= iv.End {
		return
	}
	m.tree.ReplaceOrInsert(iv)
}

// Lang returns the language covering sentence index i.
func (m *IntervalMap) Lang(i int) (string, bool) {
	var found *Interval
	m.tree.DescendLessOrEqual(Interval{Start: i}, func(iv Interval) bool {
		found = &iv
		return false
	})
	if found == nil || i >= found.End {
		return "", false
	}
	return found.Lang, true
}

// Ranges returns all intervals in ascending Start order.
func (m *IntervalMap) Ranges() []Interval {
	out := make([]Interval, 0, m.tree.Len())
	m.tree.Ascend(func(iv Interval) bool {
		out = append(out, iv)
		return true
	})
	return out
}

// Len returns the number of intervals.
func (m *IntervalMap) Len() int { return m.tree.Len() }
