package storage

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/pkg/errors"
	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/preprocessing"
	"google.golang.org/protobuf/encoding/protowire"
)

// archiveMagic starts every archive file.
var archiveMagic = []byte("DSNEARR\x01")

// Archive is an in-memory set of named arrays read from one file.
type Archive struct {
	arrays map[string]Array
	order  []string
}

// Get returns the array stored under name.
func (a *Archive) Get(name string) (Array, error) {
	arr, ok := a.arrays[name]
	if !ok {
		return Array{}, fmt.Errorf("%w: %q (have %v)", ErrKeyNotFound, name, a.order)
	}
	return arr, nil
}

// Names returns the array names in file order.
func (a *Archive) Names() []string {
	return slices.Clone(a.order)
}

// EncodeArchive serializes arrays as a magic prefix followed by length-delimited
// array messages. Names must be unique.
func EncodeArchive(arrays ...Array) ([]byte, error) {
	seen := make(map[string]bool, len(arrays))
	buf := slices.Clone(archiveMagic)
	for _, a := range arrays {
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate array name %q", a.Name)
		}
		seen[a.Name] = true
		if err := a.Validate(); err != nil {
			return nil, err
		}
		buf = protowire.AppendBytes(buf, MarshalArray(a))
	}
	return buf, nil
}

// DecodeArchive parses bytes produced by EncodeArchive.
func DecodeArchive(b []byte) (*Archive, error) {
	if !bytes.HasPrefix(b, archiveMagic) {
		return nil, fmt.Errorf("%w: missing archive header", ErrCorrupt)
	}
	b = b[len(archiveMagic):]

	ar := &Archive{arrays: make(map[string]Array)}
	for len(b) > 0 {
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: array %d: %v", ErrCorrupt, len(ar.order), protowire.ParseError(n))
		}
		arr, err := UnmarshalArray(msg)
		if err != nil {
			return nil, err
		}
		if _, dup := ar.arrays[arr.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate array name %q", ErrCorrupt, arr.Name)
		}
		ar.arrays[arr.Name] = arr
		ar.order = append(ar.order, arr.Name)
		b = b[n:]
	}
	return ar, nil
}

// WriteArchive writes arrays to path, replacing any existing file.
func WriteArchive(path string, arrays ...Array) error {
	data, err := EncodeArchive(arrays...)
	if err != nil {
		return errors.WithMessagef(err, "encode archive %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write archive %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "write archive %s", path)
	}
	return nil
}

// ReadArchive loads every array stored in the file at path.
func ReadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "read archive %s", path)
	}
	ar, err := DecodeArchive(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "archive %s", path)
	}
	return ar, nil
}

// ArraysFromDomain flattens a domain into an NHWC image array and an [N] label
// array. Images are stored as dtype, labels always as Int32.
func ArraysFromDomain(d *dataset.Domain, imageKey, labelKey string, dtype DType) (images, labels Array, err error) {
	c, h, w := d.ImageShape()
	n := d.Len()

	values := make([]float32, 0, n*c*h*w)
	for _, img := range d.Images {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					values = append(values, img.At(ch, y, x))
				}
			}
		}
	}
	shape := []int{n, h, w, c}

	switch dtype {
	case Float32:
		images = NewFloat32Array(imageKey, shape, values)
	case Float16:
		images = NewFloat16Array(imageKey, shape, values)
	case Uint8:
		images = NewUint8Array(imageKey, shape, values)
	default:
		return Array{}, Array{}, fmt.Errorf("%w: images cannot be stored as %s", ErrDType, dtype)
	}
	labels = NewInt32Array(labelKey, []int{n}, slices.Clone(d.Labels))
	return images, labels, nil
}

// DomainFromArrays builds a domain from an image array and a label array.
//
// Image arrays of rank 4 are NHWC, rank 3 are NHW (one channel) and rank 2 are ND
// (one channel, one row). Label arrays are [N] or [N, 1].
func DomainFromArrays(name string, images, labels Array) (*dataset.Domain, error) {
	values, err := images.Float32s()
	if err != nil {
		return nil, err
	}
	ys, err := labels.Int32s()
	if err != nil {
		return nil, err
	}

	var n, h, w, c int
	switch len(images.Shape) {
	case 4:
		n, h, w, c = images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	case 3:
		n, h, w, c = images.Shape[0], images.Shape[1], images.Shape[2], 1
	case 2:
		n, h, w, c = images.Shape[0], 1, images.Shape[1], 1
	default:
		return nil, fmt.Errorf("%w: image array %q has rank %d, want 2, 3 or 4",
			dataset.ErrShapeMismatch, images.Name, len(images.Shape))
	}

	switch {
	case len(labels.Shape) == 1:
	case len(labels.Shape) == 2 && labels.Shape[1] == 1:
	default:
		return nil, fmt.Errorf("%w: label array %q has shape %v, want [N] or [N 1]",
			dataset.ErrShapeMismatch, labels.Name, labels.Shape)
	}
	if labels.Shape[0] != n {
		return nil, fmt.Errorf("%w: %d images but %d labels", dataset.ErrShapeMismatch, n, labels.Shape[0])
	}

	plane := h * w * c
	imgs := make([]preprocessing.Image, n)
	for i := range imgs {
		data := make([]float32, plane)
		src := values[i*plane : (i+1)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					data[(ch*h+y)*w+x] = src[(y*w+x)*c+ch]
				}
			}
		}
		img, err := preprocessing.NewImage(data, c, h, w)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", dataset.ErrShapeMismatch, i, err)
		}
		imgs[i] = img
	}

	return dataset.NewDomain(name, imgs, ys)
}
