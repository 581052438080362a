package dataloader

import (
	"fmt"

	"github.com/tsawler/go-dsne/vision/dataset"
)

// NewSharedLoaders creates a shuffled loader and an ordered loader over the same
// dataset, backed by one sample cache. Neither loader owns the cache, so
// ClearCache on either is a no-op.
//
// A zero CacheSize sizes the cache to hold the whole dataset.
func NewSharedLoaders[S any](ds dataset.Dataset[S], cfg Config) (shuffled, ordered *Loader[S], err error) {
	if ds == nil {
		return nil, nil, fmt.Errorf("%w: dataset is required", dataset.ErrConfiguration)
	}

	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = ds.Len()
	}
	if cacheSize < 0 {
		return nil, nil, fmt.Errorf("%w: cache size must not be negative, got %d", dataset.ErrConfiguration, cacheSize)
	}
	shared := NewCache[S](cacheSize)

	shuffledCfg := cfg
	shuffledCfg.Shuffle = true
	shuffledCfg.CacheSize = cacheSize
	if shuffled, err = newLoader(ds, shuffledCfg, shared); err != nil {
		return nil, nil, err
	}

	orderedCfg := shuffledCfg
	orderedCfg.Shuffle = false
	if ordered, err = newLoader(ds, orderedCfg, shared); err != nil {
		return nil, nil, err
	}
	return shuffled, ordered, nil
}
