// Package dataloader batches samples from any dataset.Dataset: shuffled epochs,
// an optional LRU sample cache and an endless loader for step-driven training.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/tsawler/go-dsne/logging"
	"github.com/tsawler/go-dsne/metrics"
	"github.com/tsawler/go-dsne/vision/dataset"
)

// ErrNoBatches is returned by an InfiniteLoader whose dataset yields no batch at all.
var ErrNoBatches = errors.New("dataset yields no batches")

// Config holds configuration for Loader
type Config struct {
	BatchSize int
	Shuffle   bool

	// Seed fixes the shuffle order of every epoch. Zero picks a random seed.
	Seed uint64

	// DropLast skips a final batch smaller than BatchSize.
	DropLast bool

	// CacheSize is the number of samples kept in the LRU cache; zero disables it.
	CacheSize int

	Logger *slog.Logger
}

// Batch is one slice of an epoch.
type Batch[S any] struct {
	Samples []S
	// Positions are the dataset positions the samples were read from.
	Positions []int
	Epoch     int
}

// Size returns the number of samples in the batch.
func (b *Batch[S]) Size() int {
	return len(b.Samples)
}

// Loader hands out batches of a dataset one epoch at a time. It is safe for
// concurrent use; each batch is produced under the loader's lock.
type Loader[S any] struct {
	mu       sync.Mutex
	ds       dataset.Dataset[S]
	cfg      Config
	indices  []int
	position int
	epoch    int
	rng      *rand.Rand
	logger   *slog.Logger
	err      error

	// Cache can be shared between loaders over the same dataset
	cache      *Cache[S]
	ownedCache bool
}

// NewLoader creates a loader over ds and starts its first epoch.
func NewLoader[S any](ds dataset.Dataset[S], cfg Config) (*Loader[S], error) {
	return newLoader(ds, cfg, nil)
}

func newLoader[S any](ds dataset.Dataset[S], cfg Config, shared *Cache[S]) (*Loader[S], error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset is required", dataset.ErrConfiguration)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", dataset.ErrConfiguration, cfg.BatchSize)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("%w: cache size must not be negative, got %d", dataset.ErrConfiguration, cfg.CacheSize)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	l := &Loader[S]{
		ds:      ds,
		cfg:     cfg,
		indices: make([]int, ds.Len()),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:  logging.OrDiscard(cfg.Logger),
		epoch:   -1,
	}
	for i := range l.indices {
		l.indices[i] = i
	}

	if shared != nil {
		l.cache = shared
	} else {
		l.cache = NewCache[S](cfg.CacheSize)
		l.ownedCache = true
	}

	l.Reset()
	return l, nil
}

// Reset starts a new epoch, reshuffling when Shuffle is set.
func (l *Loader[S]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
}

func (l *Loader[S]) reset() {
	l.position = 0
	l.err = nil
	l.epoch++
	if l.cfg.Shuffle {
		// Every epoch permutes the identity order
		for i := range l.indices {
			l.indices[i] = i
		}
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
	metrics.EpochsStarted.Inc()
	l.logger.Debug("epoch started", "epoch", l.epoch, "samples", len(l.indices), "batches", l.batches())
}

// Next returns the next batch of the current epoch, or io.EOF once the epoch is
// exhausted. A failed read is returned as is and the position is not advanced.
func (l *Loader[S]) Next() (*Batch[S], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := len(l.indices) - l.position
	if remaining <= 0 || (l.cfg.DropLast && remaining < l.cfg.BatchSize) {
		return nil, io.EOF
	}

	size := min(l.cfg.BatchSize, remaining)
	batch := &Batch[S]{
		Samples:   make([]S, size),
		Positions: make([]int, size),
		Epoch:     l.epoch,
	}

	for i := 0; i < size; i++ {
		position := l.indices[l.position+i]
		sample, err := l.load(position)
		if err != nil {
			return nil, fmt.Errorf("load position %d: %w", position, err)
		}
		batch.Samples[i] = sample
		batch.Positions[i] = position
	}
	l.position += size

	metrics.BatchesServed.Inc()
	return batch, nil
}

func (l *Loader[S]) load(position int) (S, error) {
	if sample, ok := l.cache.Get(position); ok {
		return sample, nil
	}
	sample, err := l.ds.Get(position)
	if err != nil {
		return sample, err
	}
	l.cache.Put(position, sample)
	return sample, nil
}

// HasNext reports whether Next would return a batch.
func (l *Loader[S]) HasNext() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := len(l.indices) - l.position
	return remaining > 0 && !(l.cfg.DropLast && remaining < l.cfg.BatchSize)
}

// Len returns the number of batches per epoch.
func (l *Loader[S]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches()
}

func (l *Loader[S]) batches() int {
	n := len(l.indices)
	if l.cfg.DropLast {
		return n / l.cfg.BatchSize
	}
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Epoch returns the zero-based number of the current epoch.
func (l *Loader[S]) Epoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Progress returns the current progress through the dataset
func (l *Loader[S]) Progress() (current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position, len(l.indices)
}

// Iterator streams the remaining batches of the current epoch. The channel is
// closed at the end of the epoch, on the first read error (see Err) or when ctx
// is cancelled.
func (l *Loader[S]) Iterator(ctx context.Context) <-chan *Batch[S] {
	out := make(chan *Batch[S])
	go func() {
		defer close(out)
		for {
			batch, err := l.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				l.setErr(err)
				return
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				l.setErr(ctx.Err())
				return
			}
		}
	}()
	return out
}

func (l *Loader[S]) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Err returns the error that stopped the last Iterator of this epoch, if any.
func (l *Loader[S]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns cache statistics
func (l *Loader[S]) Stats() string {
	return l.cache.Stats().String()
}

// ClearCache clears the sample cache unless it is shared.
func (l *Loader[S]) ClearCache() {
	if l.ownedCache {
		l.cache.Clear()
	}
}

// Cache returns the sample cache for sharing between loaders
func (l *Loader[S]) Cache() *Cache[S] {
	return l.cache
}

// InfiniteLoader wraps a Loader and starts a new epoch whenever the current one
// runs out, so training can be driven by a step count instead of epochs.
type InfiniteLoader[S any] struct {
	*Loader[S]
}

// NewInfiniteLoader creates an endless loader over ds.
func NewInfiniteLoader[S any](ds dataset.Dataset[S], cfg Config) (*InfiniteLoader[S], error) {
	l, err := NewLoader(ds, cfg)
	if err != nil {
		return nil, err
	}
	return &InfiniteLoader[S]{Loader: l}, nil
}

// Next returns the next batch, rolling over into a new epoch as needed.
func (il *InfiniteLoader[S]) Next() (*Batch[S], error) {
	if il.Loader.Len() == 0 {
		return nil, ErrNoBatches
	}
	batch, err := il.Loader.Next()
	if errors.Is(err, io.EOF) {
		il.Loader.Reset()
		batch, err = il.Loader.Next()
	}
	return batch, err
}

// Take returns the next n batches.
func (il *InfiniteLoader[S]) Take(n int) ([]*Batch[S], error) {
	batches := make([]*Batch[S], 0, n)
	for i := 0; i < n; i++ {
		b, err := il.Next()
		if err != nil {
			return batches, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
