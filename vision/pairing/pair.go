// Package pairing enumerates, samples and indexes (source, target) position pairs
// for training on two labeled domains at once.
//
// Intraclass pairs share a label, interclass pairs do not. The package keeps the
// two kinds apart until Build merges them into a single sorted Index.
package pairing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/btree"
)

// ErrIndexOutOfRange is returned when a position lies outside [0, Len()).
var ErrIndexOutOfRange = errors.New("index out of range")

// Pair references one source position and one target position.
type Pair struct {
	Source int
	Target int
}

// Less orders pairs by source position, then target position.
func (p Pair) Less(other Pair) bool {
	if p.Source != other.Source {
		return p.Source < other.Source
	}
	return p.Target < other.Target
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d, %d)", p.Source, p.Target)
}

// PairSource is a random-access collection of pairs.
type PairSource interface {
	Len() int
	At(k int) Pair
}

// PairList adapts a slice to PairSource.
type PairList []Pair

func (l PairList) Len() int      { return len(l) }
func (l PairList) At(k int) Pair { return l[k] }

// Group lists the positions carrying one label, in ascending order.
type Group struct {
	Label     int32
	Positions []int
}

// GroupByLabel buckets positions by label. Groups come back in ascending label order,
// so iterating them is deterministic.
func GroupByLabel(labels []int32) []Group {
	tree := btree.NewBTreeG[Group](func(a, b Group) bool { return a.Label < b.Label })
	for pos, label := range labels {
		g, _ := tree.Get(Group{Label: label})
		g.Label = label
		g.Positions = append(g.Positions, pos)
		tree.Set(g)
	}

	groups := make([]Group, 0, tree.Len())
	tree.Scan(func(g Group) bool {
		groups = append(groups, g)
		return true
	})
	return groups
}

// findGroup returns the index of label in groups sorted by label, or -1.
func findGroup(groups []Group, label int32) int {
	i := sort.Search(len(groups), func(i int) bool { return groups[i].Label >= label })
	if i < len(groups) && groups[i].Label == label {
		return i
	}
	return -1
}

func outOfRange(p, n int) error {
	return fmt.Errorf("%w: index %d out of range [0, %d)", ErrIndexOutOfRange, p, n)
}
