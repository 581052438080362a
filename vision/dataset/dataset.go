// Package dataset holds labeled image domains and the indexable views built on top
// of them: PairDataset for paired source/target training and SingleDataset for
// plain evaluation.
package dataset

import "github.com/tsawler/go-dsne/vision/preprocessing"

// Dataset is the capability a batching layer needs: a dense length and a pure,
// idempotent positional read.
type Dataset[S any] interface {
	Len() int
	Get(position int) (S, error)
}

// Sample is one image with its label.
type Sample struct {
	Image preprocessing.Image
	Label int32
}

// PairSample is a source sample and a target sample resolved from one pair.
type PairSample struct {
	SourceImage preprocessing.Image
	SourceLabel int32
	TargetImage preprocessing.Image
	TargetLabel int32
}

// Intraclass reports whether both samples share a label.
func (p PairSample) Intraclass() bool {
	return p.SourceLabel == p.TargetLabel
}
