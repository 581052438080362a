// Package config loads the YAML file that describes a pair dataset run: where the
// two domains live, how they are capped and paired, which transforms apply and how
// batches are served.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/tsawler/go-dsne/logging"
	"github.com/tsawler/go-dsne/vision/dataloader"
	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/preprocessing"
	"github.com/tsawler/go-dsne/vision/storage"
	"gopkg.in/yaml.v3"
)

// Domain locates one domain on disk.
type Domain struct {
	Path      string `yaml:"path"`
	ImagesKey string `yaml:"images_key"`
	LabelsKey string `yaml:"labels_key"`
	// Cap is the per-class sample limit; -1 or 0 keeps everything.
	Cap int `yaml:"cap"`
}

// Loader configures batch serving.
type Loader struct {
	BatchSize int    `yaml:"batch_size"`
	Shuffle   bool   `yaml:"shuffle"`
	Seed      uint64 `yaml:"seed"`
	DropLast  bool   `yaml:"drop_last"`
	CacheSize int    `yaml:"cache_size"`
}

// Config is the full run configuration.
type Config struct {
	Source Domain `yaml:"source"`
	Target Domain `yaml:"target"`

	Ratio        int     `yaml:"ratio"`
	Seed         *uint64 `yaml:"seed"`
	RequirePairs bool    `yaml:"require_pairs"`

	Transforms []preprocessing.Spec `yaml:"transforms"`
	Loader     Loader               `yaml:"loader"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the d-SNE defaults: every source sample, ten target
// samples per class and three interclass pairs per intraclass pair.
func DefaultConfig() Config {
	return Config{
		Source: Domain{
			ImagesKey: storage.DefaultImageKey,
			LabelsKey: storage.DefaultLabelKey,
			Cap:       dataset.DefaultSourceCap,
		},
		Target: Domain{
			ImagesKey: storage.DefaultImageKey,
			LabelsKey: storage.DefaultLabelKey,
			Cap:       dataset.DefaultTargetCap,
		},
		Ratio: dataset.DefaultRatio,
		Loader: Loader{
			BatchSize: 64,
			Shuffle:   true,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults with strict field checking and validates
// the result. Type mismatches such as a fractional cap are configuration errors.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %v", dataset.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges and that every transform can be built.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name string
		dom  Domain
	}{{"source", c.Source}, {"target", c.Target}} {
		if d.dom.Cap < -1 {
			return fmt.Errorf("%w: %s cap must be -1, 0 or positive, got %d", dataset.ErrConfiguration, d.name, d.dom.Cap)
		}
		if d.dom.ImagesKey == "" || d.dom.LabelsKey == "" {
			return fmt.Errorf("%w: %s images and labels keys must not be empty", dataset.ErrConfiguration, d.name)
		}
	}
	if c.Ratio < -1 {
		return fmt.Errorf("%w: ratio must be -1, 0 or positive, got %d", dataset.ErrConfiguration, c.Ratio)
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("%w: loader batch size must be positive, got %d", dataset.ErrConfiguration, c.Loader.BatchSize)
	}
	if c.Loader.CacheSize < 0 {
		return fmt.Errorf("%w: loader cache size must not be negative, got %d", dataset.ErrConfiguration, c.Loader.CacheSize)
	}
	if _, err := c.BuildTransforms(); err != nil {
		return err
	}
	return nil
}

// RequirePaths checks that both domains have a location.
func (c *Config) RequirePaths() error {
	if c.Source.Path == "" || c.Target.Path == "" {
		return fmt.Errorf("%w: source and target paths are required", dataset.ErrConfiguration)
	}
	return nil
}

// BuildTransforms turns the transform specs into transforms.
func (c *Config) BuildTransforms() ([]preprocessing.Transform, error) {
	transforms, err := preprocessing.FromSpecs(c.Transforms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dataset.ErrConfiguration, err)
	}
	return transforms, nil
}

// PairOptions translates the configuration into engine options. A configured seed
// gives a reproducible construction.
func (c *Config) PairOptions() (dataset.PairOptions, error) {
	transforms, err := c.BuildTransforms()
	if err != nil {
		return dataset.PairOptions{}, err
	}

	opts := dataset.PairOptions{
		SourceCap:    c.Source.Cap,
		TargetCap:    c.Target.Cap,
		Ratio:        c.Ratio,
		Transforms:   transforms,
		RequirePairs: c.RequirePairs,
		Logger:       logging.New("dataset", c.LogLevel),
	}
	if c.Seed != nil {
		opts.Rand = rand.New(rand.NewPCG(*c.Seed, *c.Seed))
	}
	return opts, nil
}

// LoaderConfig translates the loader section.
func (c *Config) LoaderConfig() dataloader.Config {
	return dataloader.Config{
		BatchSize: c.Loader.BatchSize,
		Shuffle:   c.Loader.Shuffle,
		Seed:      c.Loader.Seed,
		DropLast:  c.Loader.DropLast,
		CacheSize: c.Loader.CacheSize,
		Logger:    logging.New("loader", c.LogLevel),
	}
}

// LoadDomains reads the source and target domains.
func (c *Config) LoadDomains() (src, tgt *dataset.Domain, err error) {
	if err := c.RequirePaths(); err != nil {
		return nil, nil, err
	}
	src, err = storage.LoadDomain(c.Source.Path, c.Source.ImagesKey, c.Source.LabelsKey)
	if err != nil {
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	tgt, err = storage.LoadDomain(c.Target.Path, c.Target.ImagesKey, c.Target.LabelsKey)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return src, tgt, nil
}
