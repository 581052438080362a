package dataset

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tsawler/go-dsne/logging"
	"github.com/tsawler/go-dsne/metrics"
	"github.com/tsawler/go-dsne/vision/pairing"
	"github.com/tsawler/go-dsne/vision/preprocessing"
)

const (
	// DefaultSourceCap keeps every source sample.
	DefaultSourceCap = -1
	// DefaultTargetCap keeps ten target samples per class.
	DefaultTargetCap = 10
	// DefaultRatio keeps three interclass pairs per intraclass pair.
	DefaultRatio = 3
)

// PairOptions configures NewPairDataset. Start from DefaultPairOptions: the zero
// value leaves TargetCap at 0, which keeps every target sample instead of the
// default ten per class, and Ratio at 0, which keeps every interclass pair.
type PairOptions struct {
	// SourceCap and TargetCap limit samples per class; non-positive means no limit.
	SourceCap int
	TargetCap int

	// Ratio is the number of interclass pairs kept per intraclass pair; non-positive
	// keeps every interclass pair.
	Ratio int

	// Transforms are applied in order to each image returned by Get.
	Transforms []preprocessing.Transform

	// Rand drives resampling and interclass sampling. Nil uses a randomly seeded generator.
	Rand *rand.Rand

	// RequirePairs turns an empty pair set into ErrEmptyPairSet instead of a
	// zero-length dataset.
	RequirePairs bool

	Logger *slog.Logger
}

// DefaultPairOptions returns the options used for d-SNE training by default.
func DefaultPairOptions() PairOptions {
	return PairOptions{
		SourceCap: DefaultSourceCap,
		TargetCap: DefaultTargetCap,
		Ratio:     DefaultRatio,
	}
}

// PairDataset pairs samples of a source and a target domain. Pairs are fixed at
// construction; Get only reads, so concurrent Gets are safe.
type PairDataset struct {
	id         uuid.UUID
	source     *Domain
	target     *Domain
	index      *pairing.Index
	transforms []preprocessing.Transform

	intraCount int
	interCount int
	interTotal int
}

// NewPairDataset resamples both domains, pairs them and indexes the pairs.
// The dataset takes ownership of src and tgt; callers must not modify them afterwards.
func NewPairDataset(src, tgt *Domain, opts PairOptions) (*PairDataset, error) {
	if src == nil || tgt == nil {
		return nil, fmt.Errorf("%w: source and target domains are required", ErrConfiguration)
	}
	for i, t := range opts.Transforms {
		if t == nil {
			return nil, fmt.Errorf("%w: transform %d is nil", ErrConfiguration, i)
		}
	}
	for _, d := range []*Domain{src, tgt} {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := logging.OrDiscard(opts.Logger)
	start := time.Now()

	source := Resample(src, opts.SourceCap, rng)
	target := Resample(tgt, opts.TargetCap, rng)

	join := pairing.NewJoin(source.Labels, target.Labels)
	intra := join.Intra()
	inter := pairing.SampleInterclass(join.Interclass(), len(intra), opts.Ratio, rng)
	index := pairing.Build(intra, inter)

	if err := index.Validate(source.Len(), target.Len()); err != nil {
		return nil, fmt.Errorf("pair index is inconsistent: %w", err)
	}
	if index.Len() == 0 && opts.RequirePairs {
		return nil, fmt.Errorf("%w: %d source and %d target samples after resampling",
			ErrEmptyPairSet, source.Len(), target.Len())
	}

	pd := &PairDataset{
		id:         uuid.New(),
		source:     source,
		target:     target,
		index:      index,
		transforms: opts.Transforms,
		intraCount: len(intra),
		interCount: len(inter),
		interTotal: join.InterLen(),
	}

	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	metrics.PairsBuilt.WithLabelValues("intraclass").Set(float64(pd.intraCount))
	metrics.PairsBuilt.WithLabelValues("interclass").Set(float64(pd.interCount))
	metrics.InterclassAvailable.Set(float64(pd.interTotal))
	metrics.ResampledSamples.WithLabelValues("source").Set(float64(source.Len()))
	metrics.ResampledSamples.WithLabelValues("target").Set(float64(target.Len()))

	logger.Info("pair dataset built",
		"id", pd.id,
		"source", source.Len(),
		"target", target.Len(),
		"intraclass", pd.intraCount,
		"interclass", pd.interCount,
		"interclass_available", pd.interTotal,
		"elapsed", time.Since(start))

	return pd, nil
}

// ID identifies this construction in logs.
func (pd *PairDataset) ID() uuid.UUID {
	return pd.id
}

// Len returns the number of pairs.
func (pd *PairDataset) Len() int {
	return pd.index.Len()
}

// Get resolves the pair at position and returns both samples with the transforms
// applied to each image independently.
func (pd *PairDataset) Get(position int) (PairSample, error) {
	pair, err := pd.index.At(position)
	if err != nil {
		return PairSample{}, err
	}

	return PairSample{
		SourceImage: pd.transform(pd.source.Images[pair.Source]),
		SourceLabel: pd.source.Labels[pair.Source],
		TargetImage: pd.transform(pd.target.Images[pair.Target]),
		TargetLabel: pd.target.Labels[pair.Target],
	}, nil
}

func (pd *PairDataset) transform(img preprocessing.Image) preprocessing.Image {
	return preprocessing.Apply(img.Clone(), pd.transforms...)
}

// Source returns the resampled source domain.
func (pd *PairDataset) Source() *Domain {
	return pd.source
}

// Target returns the resampled target domain.
func (pd *PairDataset) Target() *Domain {
	return pd.target
}

// Index returns the sorted pair index.
func (pd *PairDataset) Index() *pairing.Index {
	return pd.index
}

// Counts returns the intraclass and interclass pair counts, and the interclass
// population the ratio sampler drew from.
func (pd *PairDataset) Counts() (intra, inter, interAvailable int) {
	return pd.intraCount, pd.interCount, pd.interTotal
}

// Summary describes the constructed dataset.
func (pd *PairDataset) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("PairDataset %s: %d pairs (%d intraclass, %d of %d interclass), fingerprint %016x\n",
		pd.id, pd.Len(), pd.intraCount, pd.interCount, pd.interTotal, pd.index.Fingerprint()))
	sb.WriteString(fmt.Sprintf("Memory: %s\n", humanize.Bytes(pd.source.Bytes()+pd.target.Bytes())))
	sb.WriteString("Source " + pd.source.String())
	sb.WriteString("Target " + pd.target.String())
	return sb.String()
}
