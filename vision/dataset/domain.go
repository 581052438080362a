package dataset

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tsawler/go-dsne/vision/pairing"
	"github.com/tsawler/go-dsne/vision/preprocessing"
)

// Domain is an ordered collection of labeled images from one dataset. All images
// share one shape.
type Domain struct {
	Name   string
	Images []preprocessing.Image
	Labels []int32
}

// NewDomain validates the images and labels and wraps them in a Domain.
func NewDomain(name string, images []preprocessing.Image, labels []int32) (*Domain, error) {
	d := &Domain{Name: name, Images: images, Labels: labels}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that there is one label per image and that every image holds
// data for one shared shape. Domains built as struct literals are checked here
// before they are paired.
func (d *Domain) Validate() error {
	if len(d.Images) != len(d.Labels) {
		return fmt.Errorf("%w: domain %q has %d images but %d labels", ErrShapeMismatch, d.Name, len(d.Images), len(d.Labels))
	}
	for i, img := range d.Images {
		if len(img.Data) != img.Len() || img.Len() == 0 {
			return fmt.Errorf("%w: domain %q image %d has %d values for shape %dx%dx%d",
				ErrShapeMismatch, d.Name, i, len(img.Data), img.Channels, img.Height, img.Width)
		}
		if i > 0 && !img.SameShape(d.Images[0]) {
			return fmt.Errorf("%w: domain %q image %d is %dx%dx%d, expected %dx%dx%d",
				ErrShapeMismatch, d.Name, i, img.Channels, img.Height, img.Width,
				d.Images[0].Channels, d.Images[0].Height, d.Images[0].Width)
		}
	}
	return nil
}

// Concat joins domains in order into a new domain called name. Images are shared,
// not copied.
func Concat(name string, domains ...*Domain) (*Domain, error) {
	var images []preprocessing.Image
	var labels []int32
	for _, d := range domains {
		images = append(images, d.Images...)
		labels = append(labels, d.Labels...)
	}
	return NewDomain(name, images, labels)
}

// Len returns the number of samples.
func (d *Domain) Len() int {
	return len(d.Labels)
}

// ImageShape returns the shared (channels, height, width), or zeros for an empty domain.
func (d *Domain) ImageShape() (channels, height, width int) {
	if len(d.Images) == 0 {
		return 0, 0, 0
	}
	img := d.Images[0]
	return img.Channels, img.Height, img.Width
}

// ClassGroups buckets sample positions by label, in ascending label order.
func (d *Domain) ClassGroups() []pairing.Group {
	return pairing.GroupByLabel(d.Labels)
}

// ClassDistribution returns the number of samples per label.
func (d *Domain) ClassDistribution() map[int32]int {
	dist := make(map[int32]int)
	for _, label := range d.Labels {
		dist[label]++
	}
	return dist
}

// Subset returns a new domain with deep copies of the samples at the given positions.
func (d *Domain) Subset(positions []int) *Domain {
	subset := &Domain{
		Name:   d.Name,
		Images: make([]preprocessing.Image, len(positions)),
		Labels: make([]int32, len(positions)),
	}
	for i, pos := range positions {
		subset.Images[i] = d.Images[pos].Clone()
		subset.Labels[i] = d.Labels[pos]
	}
	return subset
}

// Bytes estimates the memory held by image data.
func (d *Domain) Bytes() uint64 {
	var total uint64
	for _, img := range d.Images {
		total += uint64(len(img.Data)) * 4
	}
	return total
}

// String returns a string representation of the domain
func (d *Domain) String() string {
	var sb strings.Builder
	c, h, w := d.ImageShape()
	groups := d.ClassGroups()
	sb.WriteString(fmt.Sprintf("Domain %q: %d samples, %d classes, images %dx%dx%d (%s)\n",
		d.Name, d.Len(), len(groups), c, h, w, humanize.Bytes(d.Bytes())))
	sb.WriteString("Class distribution:\n")
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("  %d: %d samples\n", g.Label, len(g.Positions)))
	}
	return sb.String()
}
