package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tsawler/go-dsne/vision/dataset"
)

// Default array keys of a stored domain.
const (
	DefaultImageKey = "X"
	DefaultLabelKey = "y"
)

// arraySource is satisfied by both Archive and Store.
type arraySource interface {
	Get(name string) (Array, error)
}

// LoadDomain reads the image and label arrays of a domain from path, which is
// either an archive file or a store directory. Stores are opened read-only; a
// directory that holds no store fails with ErrNotFound. The domain is named after
// the path.
func LoadDomain(path, imageKey, labelKey string) (*dataset.Domain, error) {
	if imageKey == "" {
		imageKey = DefaultImageKey
	}
	if labelKey == "" {
		labelKey = DefaultLabelKey
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	name := filepath.Base(path)
	if info.IsDir() {
		store, err := OpenStoreReadOnly(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return domainFrom(store, name, imageKey, labelKey)
	}

	ar, err := ReadArchive(path)
	if err != nil {
		return nil, err
	}
	return domainFrom(ar, name, imageKey, labelKey)
}

func domainFrom(src arraySource, name, imageKey, labelKey string) (*dataset.Domain, error) {
	images, err := src.Get(imageKey)
	if err != nil {
		return nil, errors.WithMessagef(err, "load domain %s", name)
	}
	labels, err := src.Get(labelKey)
	if err != nil {
		return nil, errors.WithMessagef(err, "load domain %s", name)
	}
	d, err := DomainFromArrays(name, images, labels)
	if err != nil {
		return nil, errors.WithMessagef(err, "load domain %s", name)
	}
	return d, nil
}

// SaveDomain writes d to path as an archive file, or into a store directory when
// asStore is set.
func SaveDomain(d *dataset.Domain, path, imageKey, labelKey string, dtype DType, asStore bool) error {
	if imageKey == "" {
		imageKey = DefaultImageKey
	}
	if labelKey == "" {
		labelKey = DefaultLabelKey
	}

	images, labels, err := ArraysFromDomain(d, imageKey, labelKey, dtype)
	if err != nil {
		return err
	}

	if !asStore {
		return WriteArchive(path, images, labels)
	}
	store, err := OpenStore(path)
	if err != nil {
		return err
	}
	if err := store.Put(images, labels); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}
