package dataloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

var (
	// ErrPrefetcherRunning is returned by Start on a running prefetcher.
	ErrPrefetcherRunning = errors.New("prefetcher is already running")

	// ErrPrefetcherStopped is returned by GetBatch once the prefetcher has stopped.
	ErrPrefetcherStopped = errors.New("prefetcher has been stopped")
)

// BatchSource yields batches; both Loader and InfiniteLoader satisfy it.
type BatchSource[S any] interface {
	Next() (*Batch[S], error)
}

// PrefetchedBatch is a batch tagged with its sequence number.
type PrefetchedBatch[S any] struct {
	*Batch[S]
	BatchID uint64
}

// Prefetcher resolves batches in the background so the consumer finds the next
// batch ready. A source returning io.EOF ends the stream.
type Prefetcher[S any] struct {
	source BatchSource[S]
	depth  int

	batchChannel chan *PrefetchedBatch[S]
	batchCounter atomic.Uint64

	// err is set by the worker before it closes batchChannel
	errMu sync.Mutex
	err   error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	started   bool
}

// NewPrefetcher creates a prefetcher holding up to depth ready batches
// (default 3).
func NewPrefetcher[S any](source BatchSource[S], depth int) (*Prefetcher[S], error) {
	if source == nil {
		return nil, fmt.Errorf("batch source cannot be nil")
	}
	if depth <= 0 {
		depth = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher[S]{
		source:       source,
		depth:        depth,
		batchChannel: make(chan *PrefetchedBatch[S], depth),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins loading in the background. A prefetcher runs once.
func (p *Prefetcher[S]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning || p.started {
		return ErrPrefetcherRunning
	}
	p.wg.Add(1)
	go p.worker()

	p.isRunning = true
	p.started = true
	return nil
}

// Stop cancels loading and discards batches not yet consumed.
func (p *Prefetcher[S]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.isRunning = false
}

// GetBatch blocks until the next batch is ready. It returns io.EOF when the
// source is exhausted, the source's error if it failed and ErrPrefetcherStopped
// after Stop.
func (p *Prefetcher[S]) GetBatch() (*PrefetchedBatch[S], error) {
	select {
	case batch, ok := <-p.batchChannel:
		if ok {
			return batch, nil
		}
		return nil, p.closedErr()
	case <-p.ctx.Done():
		return nil, ErrPrefetcherStopped
	}
}

// TryGetBatch returns the next batch if one is ready, or nil without blocking.
func (p *Prefetcher[S]) TryGetBatch() (*PrefetchedBatch[S], error) {
	select {
	case batch, ok := <-p.batchChannel:
		if ok {
			return batch, nil
		}
		return nil, p.closedErr()
	default:
		return nil, nil
	}
}

// closedErr reports why the batch channel was closed.
func (p *Prefetcher[S]) closedErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err != nil {
		return p.err
	}
	return ErrPrefetcherStopped
}

// Buffered returns the number of batches ready to be consumed.
func (p *Prefetcher[S]) Buffered() int {
	return len(p.batchChannel)
}

func (p *Prefetcher[S]) worker() {
	defer p.wg.Done()
	defer close(p.batchChannel)

	for {
		batch, err := p.source.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				err = fmt.Errorf("prefetch: %w", err)
			}
			p.errMu.Lock()
			p.err = err
			p.errMu.Unlock()
			return
		}

		id := p.batchCounter.Add(1) - 1
		select {
		case p.batchChannel <- &PrefetchedBatch[S]{Batch: batch, BatchID: id}:
		case <-p.ctx.Done():
			return
		}
	}
}
