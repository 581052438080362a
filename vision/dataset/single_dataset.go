package dataset

import (
	"fmt"

	"github.com/tsawler/go-dsne/vision/preprocessing"
)

// SingleDataset exposes one domain without pairing, for evaluation.
type SingleDataset struct {
	domain     *Domain
	transforms []preprocessing.Transform
}

// NewSingleDataset wraps d. Transforms are applied to every image returned by Get.
func NewSingleDataset(d *Domain, transforms ...preprocessing.Transform) (*SingleDataset, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: domain is required", ErrConfiguration)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &SingleDataset{domain: d, transforms: transforms}, nil
}

// Len returns the number of samples in the dataset
func (sd *SingleDataset) Len() int {
	return sd.domain.Len()
}

// Get returns the sample at position
func (sd *SingleDataset) Get(position int) (Sample, error) {
	if position < 0 || position >= sd.domain.Len() {
		return Sample{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrIndexOutOfRange, position, sd.domain.Len())
	}
	return Sample{
		Image: preprocessing.Apply(sd.domain.Images[position].Clone(), sd.transforms...),
		Label: sd.domain.Labels[position],
	}, nil
}

// Domain returns the wrapped domain.
func (sd *SingleDataset) Domain() *Domain {
	return sd.domain
}
