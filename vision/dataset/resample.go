package dataset

import (
	"math/rand/v2"
)

// Resample keeps at most perClass samples of every class, chosen uniformly at random,
// and shuffles the result so class identity does not leak through position.
//
// A non-positive perClass (0 or -1) disables the limit and returns d itself,
// unchanged. Otherwise the result is an independent deep copy.
func Resample(d *Domain, perClass int, rng *rand.Rand) *Domain {
	if perClass <= 0 {
		return d
	}

	var keep []int
	for _, g := range d.ClassGroups() {
		positions := g.Positions
		rng.Shuffle(len(positions), func(i, j int) {
			positions[i], positions[j] = positions[j], positions[i]
		})
		keep = append(keep, positions[:min(perClass, len(positions))]...)
	}

	rng.Shuffle(len(keep), func(i, j int) {
		keep[i], keep[j] = keep[j], keep[i]
	})

	return d.Subset(keep)
}
