package dataset

import (
	"errors"

	"github.com/tsawler/go-dsne/vision/pairing"
)

var (
	// ErrConfiguration reports invalid construction options. Nothing is built.
	ErrConfiguration = errors.New("invalid dataset configuration")

	// ErrShapeMismatch reports image and label sequences of different lengths, or
	// images of different shapes within one domain.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyPairSet is returned when PairOptions.RequirePairs is set and the caps
	// and ratio leave no pairs.
	ErrEmptyPairSet = errors.New("empty pair set")

	// ErrIndexOutOfRange is returned by Get for positions outside [0, Len()).
	ErrIndexOutOfRange = pairing.ErrIndexOutOfRange
)
