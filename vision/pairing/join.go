package pairing

import "sort"

// Join pairs two label sequences through label buckets instead of the full N x M
// comparison grid. Intraclass pairs are produced bucket against bucket; interclass
// pairs stay virtual and are addressed by rank through InterAt, so memory stays
// O(N + M + classes) until a caller asks for them.
type Join struct {
	source       []int32
	target       []int32
	targetGroups []Group

	// sourceGroup[s] is the index into targetGroups with the same label as source s, or -1
	sourceGroup []int

	// interOffsets[s] is the number of interclass pairs owned by sources before s
	interOffsets []int
	intraCount   int
}

// NewJoin buckets the target labels once and precomputes per-source pair counts.
func NewJoin(source, target []int32) *Join {
	j := &Join{
		source:       source,
		target:       target,
		targetGroups: GroupByLabel(target),
		sourceGroup:  make([]int, len(source)),
		interOffsets: make([]int, len(source)+1),
	}

	for s, label := range source {
		g := findGroup(j.targetGroups, label)
		j.sourceGroup[s] = g

		matches := 0
		if g >= 0 {
			matches = len(j.targetGroups[g].Positions)
		}
		j.intraCount += matches
		j.interOffsets[s+1] = j.interOffsets[s] + len(target) - matches
	}

	return j
}

// IntraLen returns the number of intraclass pairs.
func (j *Join) IntraLen() int {
	return j.intraCount
}

// InterLen returns the number of interclass pairs.
func (j *Join) InterLen() int {
	return j.interOffsets[len(j.source)]
}

// Intra materialises every intraclass pair, ordered by source then target.
func (j *Join) Intra() []Pair {
	pairs := make([]Pair, 0, j.intraCount)
	for s, g := range j.sourceGroup {
		if g < 0 {
			continue
		}
		for _, t := range j.targetGroups[g].Positions {
			pairs = append(pairs, Pair{Source: s, Target: t})
		}
	}
	return pairs
}

// Inter materialises every interclass pair. Prefer sampling through the Join itself
// when the interclass set is large.
func (j *Join) Inter() []Pair {
	pairs := make([]Pair, 0, j.InterLen())
	for s := range j.source {
		for gi, g := range j.targetGroups {
			if gi == j.sourceGroup[s] {
				continue
			}
			for _, t := range g.Positions {
				pairs = append(pairs, Pair{Source: s, Target: t})
			}
		}
	}
	return pairs
}

// InterAt returns the k-th interclass pair in the same order Inter produces them.
// k must lie in [0, InterLen()).
func (j *Join) InterAt(k int) Pair {
	s := sort.Search(len(j.source), func(i int) bool { return j.interOffsets[i+1] > k })
	rank := k - j.interOffsets[s]

	for gi, g := range j.targetGroups {
		if gi == j.sourceGroup[s] {
			continue
		}
		if rank < len(g.Positions) {
			return Pair{Source: s, Target: g.Positions[rank]}
		}
		rank -= len(g.Positions)
	}
	panic("pairing: interclass rank out of range")
}

// Interclass exposes the virtual interclass set as a PairSource.
func (j *Join) Interclass() PairSource {
	return interclassView{j}
}

type interclassView struct{ j *Join }

func (v interclassView) Len() int      { return v.j.InterLen() }
func (v interclassView) At(k int) Pair { return v.j.InterAt(k) }

// Enumerate splits every (source, target) position pair into intraclass pairs
// (equal labels) and interclass pairs (different labels).
// len(intra)+len(inter) is always len(source)*len(target).
func Enumerate(source, target []int32) (intra, inter []Pair) {
	j := NewJoin(source, target)
	return j.Intra(), j.Inter()
}
