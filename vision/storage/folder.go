package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/preprocessing"
)

// DefaultExtensions are the image file extensions an ImageFolder picks up.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// ImageFolder lists images in a directory where each subdirectory is one class.
// Classes are numbered in lexical order of their directory names.
type ImageFolder struct {
	root       string
	imagePaths []string
	labels     []int32
	classNames []string
	classToIdx map[string]int32
}

// ScanImageFolder walks root and records every image path with its class label.
func ScanImageFolder(root string, extensions []string) (*ImageFolder, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, errors.Wrapf(err, "list classes in %s", root)
	}

	folder := &ImageFolder{
		root:       root,
		classToIdx: make(map[string]int32),
	}

	// ReadDir sorts by name, so labels are stable across runs
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		className := entry.Name()
		label := int32(len(folder.classNames))
		folder.classNames = append(folder.classNames, className)
		folder.classToIdx[className] = label

		files, err := os.ReadDir(filepath.Join(root, className))
		if err != nil {
			return nil, errors.Wrapf(err, "list class %s", className)
		}
		for _, f := range files {
			if f.IsDir() || !slices.Contains(extensions, strings.ToLower(filepath.Ext(f.Name()))) {
				continue
			}
			folder.imagePaths = append(folder.imagePaths, filepath.Join(root, className, f.Name()))
			folder.labels = append(folder.labels, label)
		}
	}

	if len(folder.imagePaths) == 0 {
		return nil, fmt.Errorf("%w: no images found in %s", ErrNotFound, root)
	}

	return folder, nil
}

// Len returns the number of images found.
func (f *ImageFolder) Len() int {
	return len(f.imagePaths)
}

// Item returns the image path and label at position.
func (f *ImageFolder) Item(position int) (string, int32, error) {
	if position < 0 || position >= len(f.imagePaths) {
		return "", 0, fmt.Errorf("%w: index %d out of range [0, %d)", dataset.ErrIndexOutOfRange, position, len(f.imagePaths))
	}
	return f.imagePaths[position], f.labels[position], nil
}

// NumClasses returns the number of classes
func (f *ImageFolder) NumClasses() int {
	return len(f.classNames)
}

// ClassNames returns class names indexed by label.
func (f *ImageFolder) ClassNames() []string {
	return slices.Clone(f.classNames)
}

// Label returns the label assigned to a class name.
func (f *ImageFolder) Label(className string) (int32, bool) {
	label, ok := f.classToIdx[className]
	return label, ok
}

// ClassDistribution returns the number of images per class name.
func (f *ImageFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range f.labels {
		dist[f.classNames[label]]++
	}
	return dist
}

// FilterByClass keeps only images of the named classes. Labels are unchanged so a
// filtered source folder still lines up with an unfiltered target folder.
func (f *ImageFolder) FilterByClass(classNames []string) *ImageFolder {
	valid := make(map[int32]bool)
	for _, name := range classNames {
		if label, ok := f.classToIdx[name]; ok {
			valid[label] = true
		}
	}

	filtered := &ImageFolder{
		root:       f.root,
		classNames: f.classNames,
		classToIdx: f.classToIdx,
	}
	for i, label := range f.labels {
		if valid[label] {
			filtered.imagePaths = append(filtered.imagePaths, f.imagePaths[i])
			filtered.labels = append(filtered.labels, label)
		}
	}
	return filtered
}

// Load decodes every image, center-crops it to size x size with the given channel
// count and returns the folder as a domain named after its root directory.
func (f *ImageFolder) Load(size, channels, workers int) (*dataset.Domain, error) {
	images, err := preprocessing.PreprocessBatch(f.imagePaths, size, channels, workers)
	if err != nil {
		return nil, errors.WithMessagef(err, "load image folder %s", f.root)
	}
	return dataset.NewDomain(filepath.Base(f.root), images, slices.Clone(f.labels))
}

// PackFolder decodes the folder one class at a time into a single domain ready to
// be saved as dtype. Uint8 keeps raw 0..255 pixel values, like 8-bit HDF5 sets;
// float dtypes keep values in [0, 1]. onClass, if set, is called after each class.
func (f *ImageFolder) PackFolder(size, channels, workers int, dtype DType, onClass func(className string)) (*dataset.Domain, error) {
	if dtype != Float32 && dtype != Float16 && dtype != Uint8 {
		return nil, fmt.Errorf("%w: cannot store images as %s", ErrDType, dtype)
	}

	var parts []*dataset.Domain
	for _, className := range f.classNames {
		part := f.FilterByClass([]string{className})
		if part.Len() == 0 {
			continue
		}
		d, err := part.Load(size, channels, workers)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
		if onClass != nil {
			onClass(className)
		}
	}

	d, err := dataset.Concat(filepath.Base(f.root), parts...)
	if err != nil {
		return nil, err
	}
	if dtype == Uint8 {
		for _, img := range d.Images {
			for i := range img.Data {
				img.Data[i] *= 255
			}
		}
	}
	return d, nil
}

// String returns a string representation of the folder
func (f *ImageFolder) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolder %s: %d samples, %d classes\n", f.root, len(f.imagePaths), len(f.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := f.ClassDistribution()
	for label, className := range f.classNames {
		sb.WriteString(fmt.Sprintf("  %d %s: %d samples\n", label, className, dist[className]))
	}

	return sb.String()
}

// ImportFolder scans root and decodes it into a domain in one step.
func ImportFolder(root string, size, channels, workers int) (*dataset.Domain, error) {
	folder, err := ScanImageFolder(root, nil)
	if err != nil {
		return nil, err
	}
	return folder.Load(size, channels, workers)
}
