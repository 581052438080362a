package preprocessing

import (
	"fmt"
	"math"
	"strings"
)

// Transform maps one image to another. Transforms must not modify their input.
type Transform func(Image) Image

// Apply runs the transforms left to right.
func Apply(img Image, transforms ...Transform) Image {
	for _, t := range transforms {
		img = t(img)
	}
	return img
}

// Compose folds an ordered list of transforms into a single one.
func Compose(transforms ...Transform) Transform {
	return func(img Image) Image {
		return Apply(img, transforms...)
	}
}

// Normalize subtracts a per-channel mean and divides by a per-channel standard deviation.
// A single mean/std value is broadcast across all channels.
func Normalize(mean, std []float32) (Transform, error) {
	if len(mean) == 0 || len(mean) != len(std) {
		return nil, fmt.Errorf("normalize needs matching mean and std, got %d and %d values", len(mean), len(std))
	}
	for i, s := range std {
		if s == 0 {
			return nil, fmt.Errorf("normalize std[%d] is zero", i)
		}
	}
	return func(img Image) Image {
		out := img.Clone()
		plane := img.Height * img.Width
		for c := 0; c < img.Channels; c++ {
			m, s := mean[0], std[0]
			if len(mean) > 1 {
				m, s = mean[c%len(mean)], std[c%len(std)]
			}
			for i := c * plane; i < (c+1)*plane; i++ {
				out.Data[i] = (out.Data[i] - m) / s
			}
		}
		return out
	}, nil
}

// Scale multiplies every value by factor, e.g. 1/255 for raw 8-bit data.
func Scale(factor float32) Transform {
	return func(img Image) Image {
		out := img.Clone()
		for i := range out.Data {
			out.Data[i] *= factor
		}
		return out
	}
}

// HorizontalFlip mirrors the image along its vertical axis.
func HorizontalFlip() Transform {
	return func(img Image) Image {
		out := img.Clone()
		for c := 0; c < img.Channels; c++ {
			for y := 0; y < img.Height; y++ {
				row := (c*img.Height + y) * img.Width
				for x := 0; x < img.Width; x++ {
					out.Data[row+x] = img.Data[row+img.Width-1-x]
				}
			}
		}
		return out
	}
}

// RepeatChannels tiles a single-channel image into n identical channels, so greyscale
// digits can be paired with colour digits of the same size.
func RepeatChannels(n int) Transform {
	return func(img Image) Image {
		if img.Channels != 1 || n <= 1 {
			return img.Clone()
		}
		plane := img.Height * img.Width
		data := make([]float32, n*plane)
		for c := 0; c < n; c++ {
			copy(data[c*plane:(c+1)*plane], img.Data[:plane])
		}
		return Image{Data: data, Channels: n, Height: img.Height, Width: img.Width}
	}
}

// Resize rescales every channel plane to height x width with a linear filter
// that widens when shrinking, like imaging.Linear. It works on the float values
// directly, so raw or normalised data keeps its range.
func Resize(height, width int) Transform {
	return func(img Image) Image {
		if img.Height == height && img.Width == width {
			return img.Clone()
		}
		cols := linearTaps(img.Width, width)
		rows := linearTaps(img.Height, height)

		tmp := make([]float32, img.Height*width)
		data := make([]float32, img.Channels*height*width)
		for c := 0; c < img.Channels; c++ {
			src := img.Data[c*img.Height*img.Width : (c+1)*img.Height*img.Width]
			for y := 0; y < img.Height; y++ {
				row := src[y*img.Width : (y+1)*img.Width]
				for x, taps := range cols {
					var v float32
					for _, t := range taps {
						v += row[t.index] * t.weight
					}
					tmp[y*width+x] = v
				}
			}
			dst := data[c*height*width : (c+1)*height*width]
			for y, taps := range rows {
				for x := 0; x < width; x++ {
					var v float32
					for _, t := range taps {
						v += tmp[t.index*width+x] * t.weight
					}
					dst[y*width+x] = v
				}
			}
		}
		return Image{Data: data, Channels: img.Channels, Height: height, Width: width}
	}
}

type tap struct {
	index  int
	weight float32
}

// linearTaps returns, for each of dst output samples, the source samples and
// normalised triangle weights that produce it. Edge samples are clamped.
func linearTaps(src, dst int) [][]tap {
	scale := float64(src) / float64(dst)
	radius := math.Max(scale, 1)

	taps := make([][]tap, dst)
	for i := range taps {
		center := (float64(i)+0.5)*scale - 0.5
		var sum float64
		for j := int(math.Ceil(center - radius)); j <= int(math.Floor(center+radius)); j++ {
			w := 1 - math.Abs(float64(j)-center)/radius
			if w <= 0 {
				continue
			}
			taps[i] = append(taps[i], tap{index: min(max(j, 0), src-1), weight: float32(w)})
			sum += w
		}
		for k := range taps[i] {
			taps[i][k].weight /= float32(sum)
		}
	}
	return taps
}

// Spec describes a transform by name so it can be read from configuration files.
type Spec struct {
	Name     string    `yaml:"name"`
	Mean     []float32 `yaml:"mean,omitempty"`
	Std      []float32 `yaml:"std,omitempty"`
	Factor   float32   `yaml:"factor,omitempty"`
	Channels int       `yaml:"channels,omitempty"`
	Height   int       `yaml:"height,omitempty"`
	Width    int       `yaml:"width,omitempty"`
}

// FromSpec builds the transform described by spec.
func FromSpec(spec Spec) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Name)) {
	case "normalize":
		return Normalize(spec.Mean, spec.Std)
	case "scale":
		if spec.Factor == 0 {
			return nil, fmt.Errorf("scale needs a non-zero factor")
		}
		return Scale(spec.Factor), nil
	case "hflip", "horizontal_flip":
		return HorizontalFlip(), nil
	case "repeat_channels":
		if spec.Channels <= 1 {
			return nil, fmt.Errorf("repeat_channels needs channels > 1, got %d", spec.Channels)
		}
		return RepeatChannels(spec.Channels), nil
	case "resize":
		if spec.Height <= 0 || spec.Width <= 0 {
			return nil, fmt.Errorf("resize needs positive height and width, got %dx%d", spec.Height, spec.Width)
		}
		return Resize(spec.Height, spec.Width), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", spec.Name)
	}
}

// FromSpecs builds an ordered transform list.
func FromSpecs(specs []Spec) ([]Transform, error) {
	transforms := make([]Transform, 0, len(specs))
	for i, spec := range specs {
		t, err := FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		transforms = append(transforms, t)
	}
	return transforms, nil
}
