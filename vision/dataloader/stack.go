package dataloader

import (
	"fmt"

	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/preprocessing"
)

// Tensor is a batch of same-shaped images packed NCHW into one buffer.
type Tensor struct {
	Data []float32

	Batch, Channels, Height, Width int
}

// PairBatch holds the stacked source and target halves of a pair batch.
type PairBatch struct {
	Source       Tensor
	SourceLabels []int32
	Target       Tensor
	TargetLabels []int32
}

// Size returns the number of pairs in the batch.
func (pb *PairBatch) Size() int {
	return len(pb.SourceLabels)
}

// StackPairs packs the samples of a pair batch into contiguous buffers. Buffers
// in dst are reused when large enough; pass nil to allocate.
func StackPairs(dst *PairBatch, samples []dataset.PairSample) (*PairBatch, error) {
	if dst == nil {
		dst = &PairBatch{}
	}

	src := make([]preprocessing.Image, len(samples))
	tgt := make([]preprocessing.Image, len(samples))
	for i, s := range samples {
		src[i], tgt[i] = s.SourceImage, s.TargetImage
	}

	var err error
	if dst.Source, err = stackInto(dst.Source.Data, src); err != nil {
		return nil, fmt.Errorf("source images: %w", err)
	}
	if dst.Target, err = stackInto(dst.Target.Data, tgt); err != nil {
		return nil, fmt.Errorf("target images: %w", err)
	}

	dst.SourceLabels = resize(dst.SourceLabels, len(samples))
	dst.TargetLabels = resize(dst.TargetLabels, len(samples))
	for i, s := range samples {
		dst.SourceLabels[i] = s.SourceLabel
		dst.TargetLabels[i] = s.TargetLabel
	}
	return dst, nil
}

// StackSamples packs single samples into one image tensor and a label slice.
func StackSamples(samples []dataset.Sample) (Tensor, []int32, error) {
	images := make([]preprocessing.Image, len(samples))
	labels := make([]int32, len(samples))
	for i, s := range samples {
		images[i] = s.Image
		labels[i] = s.Label
	}
	t, err := stackInto(nil, images)
	if err != nil {
		return Tensor{}, nil, err
	}
	return t, labels, nil
}

func stackInto(buf []float32, images []preprocessing.Image) (Tensor, error) {
	if len(images) == 0 {
		return Tensor{Data: buf[:0]}, nil
	}

	first := images[0]
	per := first.Len()
	buf = resize(buf, per*len(images))
	for i, img := range images {
		if !img.SameShape(first) || len(img.Data) != per {
			return Tensor{}, fmt.Errorf("%w: image %d is %dx%dx%d, expected %dx%dx%d",
				dataset.ErrShapeMismatch, i, img.Channels, img.Height, img.Width,
				first.Channels, first.Height, first.Width)
		}
		copy(buf[i*per:(i+1)*per], img.Data)
	}

	return Tensor{
		Data:     buf,
		Batch:    len(images),
		Channels: first.Channels,
		Height:   first.Height,
		Width:    first.Width,
	}, nil
}

// resize returns buf with length n, reallocating only when capacity is short.
func resize[T any](buf []T, n int) []T {
	if cap(buf) < n {
		return make([]T, n)
	}
	return buf[:n]
}
