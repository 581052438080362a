package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/disintegration/imaging"
)

// Image is a single image in CHW layout (channels, height, width).
type Image struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// NewImage checks that data holds exactly channels*height*width values.
func NewImage(data []float32, channels, height, width int) (Image, error) {
	if channels <= 0 || height <= 0 || width <= 0 {
		return Image{}, fmt.Errorf("invalid image shape %dx%dx%d", channels, height, width)
	}
	if len(data) != channels*height*width {
		return Image{}, fmt.Errorf("image data has %d values, shape %dx%dx%d needs %d",
			len(data), channels, height, width, channels*height*width)
	}
	return Image{Data: data, Channels: channels, Height: height, Width: width}, nil
}

// Len returns the number of values in the image.
func (img Image) Len() int {
	return img.Channels * img.Height * img.Width
}

// SameShape reports whether both images have identical dimensions.
func (img Image) SameShape(other Image) bool {
	return img.Channels == other.Channels && img.Height == other.Height && img.Width == other.Width
}

// Clone returns a deep copy of the image.
func (img Image) Clone() Image {
	data := make([]float32, len(img.Data))
	copy(data, img.Data)
	img.Data = data
	return img
}

// At returns the value at channel c, row y, column x.
func (img Image) At(c, y, x int) float32 {
	return img.Data[(c*img.Height+y)*img.Width+x]
}

// fromNRGBA converts an 8-bit image to CHW float32 data normalised to [0, 1].
func fromNRGBA(src *image.NRGBA, channels int, dst []float32) Image {
	width := src.Bounds().Dx()
	height := src.Bounds().Dy()
	plane := width * height
	if len(dst) < channels*plane {
		dst = make([]float32, channels*plane)
	}
	dst = dst[:channels*plane]

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := y*src.Stride + x*4
			idx := y*width + x
			if channels == 1 {
				r, g, b := float32(src.Pix[off]), float32(src.Pix[off+1]), float32(src.Pix[off+2])
				dst[idx] = (0.299*r + 0.587*g + 0.114*b) / 255.0
				continue
			}
			for c := 0; c < 3; c++ {
				dst[c*plane+idx] = float32(src.Pix[off+c]) / 255.0
			}
		}
	}
	return Image{Data: dst, Channels: channels, Height: height, Width: width}
}

// ImageProcessor decodes images and center-crops them to a square target size
type ImageProcessor struct {
	mu            sync.Mutex
	processBuffer []float32
	targetSize    int
	channels      int
}

// NewImageProcessor creates a new image processor producing 3-channel images of the target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
		channels:   3,
	}
}

// WithChannels switches the processor between RGB (3) and greyscale (1) output.
func (p *ImageProcessor) WithChannels(channels int) *ImageProcessor {
	p.channels = channels
	return p
}

// DecodeAndPreprocess decodes a JPEG or PNG image and preprocesses it for network input.
// Returns data in CHW format normalised to [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (Image, error) {
	if p.channels != 1 && p.channels != 3 {
		return Image{}, fmt.Errorf("unsupported channel count %d", p.channels)
	}

	img, err := imaging.Decode(reader)
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode image: %w", err)
	}

	// Scale the short side to the target and crop the centre
	fitted := imaging.Fill(img, p.targetSize, p.targetSize, imaging.Center, imaging.Linear)

	p.mu.Lock()
	defer p.mu.Unlock()

	processed := fromNRGBA(fitted, p.channels, p.processBuffer)
	p.processBuffer = processed.Data

	// Copy out of the reusable buffer
	return processed.Clone(), nil
}

// PreprocessBatch preprocesses multiple images concurrently
func PreprocessBatch(imagePaths []string, targetSize, channels, maxWorkers int) ([]Image, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]Image, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize).WithChannels(channels)

			for j := range jobs {
				file, err := os.Open(j.path)
				if err != nil {
					errs[j.index] = err
					continue
				}

				img, err := processor.DecodeAndPreprocess(file)
				file.Close()

				if err != nil {
					errs[j.index] = err
				} else {
					results[j.index] = img
				}
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d (%s): %w", i, imagePaths[i], err)
		}
	}

	return results, nil
}
