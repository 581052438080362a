// Package metrics holds the Prometheus collectors for dataset construction and
// batch loading. Collectors register themselves through promauto on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PairsBuilt tracks the size of the most recently built pair index, by kind
	// ("intraclass" or "interclass").
	PairsBuilt = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsne_pairs_built",
			Help: "Number of pairs in the most recently built pair index",
		},
		[]string{"kind"},
	)

	// InterclassAvailable is the interclass population before ratio sampling.
	InterclassAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dsne_interclass_available",
			Help: "Interclass pairs available before ratio sampling",
		},
	)

	// ResampledSamples tracks how many samples each domain kept after per-class capping.
	ResampledSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsne_resampled_samples",
			Help: "Samples kept per domain after class-balanced resampling",
		},
		[]string{"domain"},
	)

	// BuildDuration measures pair dataset construction time.
	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dsne_pair_dataset_build_seconds",
			Help:    "Time spent resampling, pairing and indexing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// BatchesServed counts batches handed out by data loaders.
	BatchesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dsne_batches_served_total",
			Help: "Batches produced by data loaders",
		},
	)

	// EpochsStarted counts loader resets.
	EpochsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dsne_epochs_started_total",
			Help: "Epochs started by data loaders",
		},
	)

	// CacheRequests counts sample cache lookups by result ("hit" or "miss").
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsne_sample_cache_requests_total",
			Help: "Sample cache lookups by result",
		},
		[]string{"result"},
	)
)
