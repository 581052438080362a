package pairing

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Index is the merged, sorted pair collection. It is immutable after Build.
type Index struct {
	pairs []Pair
}

// Build concatenates intraclass and interclass pairs and sorts them by
// (source, target). Sorting fixes which pairs exist independently of the order a
// batching layer later visits them in.
func Build(intra, inter []Pair) *Index {
	pairs := make([]Pair, 0, len(intra)+len(inter))
	pairs = append(pairs, intra...)
	pairs = append(pairs, inter...)

	slices.SortFunc(pairs, func(a, b Pair) int {
		if a.Source != b.Source {
			return a.Source - b.Source
		}
		return a.Target - b.Target
	})

	return &Index{pairs: pairs}
}

// Len returns the number of pairs.
func (ix *Index) Len() int {
	return len(ix.pairs)
}

// At returns the pair at position p.
func (ix *Index) At(p int) (Pair, error) {
	if p < 0 || p >= len(ix.pairs) {
		return Pair{}, outOfRange(p, len(ix.pairs))
	}
	return ix.pairs[p], nil
}

// Pairs returns a copy of the sorted pairs.
func (ix *Index) Pairs() []Pair {
	return slices.Clone(ix.pairs)
}

// Validate checks that every pair references a valid position in domains of the given
// sizes and that no pair occurs twice.
func (ix *Index) Validate(sourceLen, targetLen int) error {
	for i, p := range ix.pairs {
		if p.Source < 0 || p.Source >= sourceLen || p.Target < 0 || p.Target >= targetLen {
			return fmt.Errorf("pair %d %s outside domains of size %d and %d", i, p, sourceLen, targetLen)
		}
		if i > 0 && ix.pairs[i-1] == p {
			return fmt.Errorf("pair %s occurs more than once", p)
		}
	}
	return nil
}

// Split counts intraclass and interclass pairs given the labels the index was built over.
func (ix *Index) Split(source, target []int32) (intra, inter int) {
	for _, p := range ix.pairs {
		if source[p.Source] == target[p.Target] {
			intra++
		} else {
			inter++
		}
	}
	return intra, inter
}

// Fingerprint hashes the sorted pairs. Two indexes with the same pairs have the same
// fingerprint, which makes seeded constructions easy to compare across runs.
func (ix *Index) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [16]byte
	for _, p := range ix.pairs {
		binary.LittleEndian.PutUint64(buf[:8], uint64(p.Source))
		binary.LittleEndian.PutUint64(buf[8:], uint64(p.Target))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
