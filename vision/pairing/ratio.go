package pairing

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/sampleuv"
)

// InterclassTarget returns how many interclass pairs SampleInterclass keeps for the
// given population size. A non-positive ratio disables the limit.
func InterclassTarget(available, intraCount, ratio int) int {
	if ratio <= 0 {
		return available
	}
	target := ratio * intraCount
	if available <= target {
		return available
	}
	return target
}

// SampleInterclass keeps min(ratio*intraCount, inter.Len()) interclass pairs,
// drawn uniformly without replacement. With ratio <= 0 every pair is kept.
//
// The draw is uniform over all interclass pairs, not stratified by class.
// The returned pairs follow the order of inter.
func SampleInterclass(inter PairSource, intraCount, ratio int, rng *rand.Rand) []Pair {
	n := inter.Len()
	keep := InterclassTarget(n, intraCount, ratio)

	if keep == n {
		pairs := make([]Pair, n)
		for k := range pairs {
			pairs[k] = inter.At(k)
		}
		return pairs
	}
	if keep == 0 {
		return []Pair{}
	}

	idxs := make([]int, keep)
	sampleuv.WithoutReplacement(idxs, n, rng)
	slices.Sort(idxs)

	pairs := make([]Pair, keep)
	for i, k := range idxs {
		pairs[i] = inter.At(k)
	}
	return pairs
}
