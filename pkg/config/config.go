// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of a training or evaluation run, loaded from a YAML file
// and ANOMALYTRIGGER_* environment variables with viper.
//
// Example of a configuration file:
//
//	model_name: AE_jets
//	output_dir: plots
//	checkpoint_dir: checkpoints/AE_jets
//	features:
//	  - {name: jetEt, length: 10, scale: 50}
//	  - {name: jetEta, length: 10, scale: 5}
//	cut: {field: jetEt, threshold: 30, min_count: 2}
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/thongonary/AnomalyTrigger/internal/fsutil"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/events/rootio"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"github.com/thongonary/AnomalyTrigger/pkg/samples"
)

// EnvPrefix of the environment variables that override the configuration,
// e.g. ANOMALYTRIGGER_NUM_EPOCHS=10.
const EnvPrefix = "ANOMALYTRIGGER"

// Default values.
const (
	DefaultModelName     = "AE"
	DefaultBatchSize     = 2000
	DefaultNumEpochs     = 100
	DefaultLearningRate  = 1e-3
	DefaultTrainFraction = 0.8
	DefaultLatentDim     = 4
	DefaultConcatPattern = "*.h5"
	DefaultConcatField   = "Particles"
)

// FeatureConfig configures one field of the feature vector.
type FeatureConfig struct {
	Name   string  `mapstructure:"name"`
	Length int     `mapstructure:"length"`
	Scale  float64 `mapstructure:"scale"`
}

// SampleConfig configures one sample. See samples.Entry.
type SampleConfig struct {
	Name     string `mapstructure:"name"`
	Files    string `mapstructure:"files"`
	Label    string `mapstructure:"label"`
	Color    string `mapstructure:"color"`
	HistType string `mapstructure:"hist_type"`
}

// CutConfig selects events with at least MinCount values of Field above Threshold.
// It is disabled if Field is empty.
type CutConfig struct {
	Field     string  `mapstructure:"field"`
	Threshold float64 `mapstructure:"threshold"`
	MinCount  int     `mapstructure:"min_count"`
}

// ConcatConfig configures the HDF5 to .npy concatenation.
type ConcatConfig struct {
	InputDir string `mapstructure:"input_dir"`
	Pattern  string `mapstructure:"pattern"`
	Field    string `mapstructure:"field"`
	Output   string `mapstructure:"output"`

	// Parallelism is the number of files read at the same time, 0 for the number of CPUs.
	Parallelism int `mapstructure:"parallelism"`
}

// Config of a run.
type Config struct {
	ModelName     string  `mapstructure:"model_name"`
	OutputDir     string  `mapstructure:"output_dir"`
	CheckpointDir string  `mapstructure:"checkpoint_dir"`
	TreeName      string  `mapstructure:"tree_name"`
	BatchSize     int     `mapstructure:"batch_size"`
	NumEpochs     int     `mapstructure:"num_epochs"`
	LearningRate  float64 `mapstructure:"learning_rate"`
	TrainFraction float64 `mapstructure:"train_fraction"`
	LatentDim     int     `mapstructure:"latent_dim"`

	// CacheBytes bounds the in-memory events cache. 0 disables the cache.
	CacheBytes int64 `mapstructure:"cache_bytes"`

	Features []FeatureConfig `mapstructure:"features"`

	// Samples to evaluate. If empty, samples.Default() is used.
	Samples []SampleConfig `mapstructure:"samples"`

	Cut    CutConfig    `mapstructure:"cut"`
	Concat ConcatConfig `mapstructure:"concat"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("output_dir", ".")
	v.SetDefault("checkpoint_dir", "")
	v.SetDefault("tree_name", rootio.DefaultTree)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("num_epochs", DefaultNumEpochs)
	v.SetDefault("learning_rate", DefaultLearningRate)
	v.SetDefault("train_fraction", DefaultTrainFraction)
	v.SetDefault("latent_dim", DefaultLatentDim)
	v.SetDefault("cache_bytes", events.DefaultCacheBytes)
	v.SetDefault("cut.field", "")
	v.SetDefault("cut.threshold", 0.0)
	v.SetDefault("cut.min_count", 1)
	v.SetDefault("concat.input_dir", "")
	v.SetDefault("concat.pattern", DefaultConcatPattern)
	v.SetDefault("concat.field", DefaultConcatField)
	v.SetDefault("concat.output", "")
	v.SetDefault("concat.parallelism", 0)
}

// Default returns the configuration with only default values.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load the configuration from the YAML file at path (if not empty), with environment overrides and defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	paths := []*string{&c.OutputDir, &c.CheckpointDir, &c.Concat.InputDir, &c.Concat.Output}
	for ii := range c.Samples {
		paths = append(paths, &c.Samples[ii].Files)
	}
	if err := fsutil.ExpandHomeAll(paths...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate the configuration values. Features, and the cut field against them, are only validated if
// present: commands that need them call FeatureSpec.
func (c *Config) Validate() error {
	switch {
	case c.ModelName == "":
		return errors.New("model_name must be set")
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	case c.NumEpochs < 0:
		return errors.Errorf("num_epochs must be >= 0, got %d", c.NumEpochs)
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be > 0, got %g", c.LearningRate)
	case c.TrainFraction <= 0 || c.TrainFraction >= 1:
		return errors.Errorf("train_fraction must be in (0, 1), got %g", c.TrainFraction)
	case c.LatentDim <= 0:
		return errors.Errorf("latent_dim must be > 0, got %d", c.LatentDim)
	case c.CacheBytes < 0:
		return errors.Errorf("cache_bytes must be >= 0, got %d", c.CacheBytes)
	case c.Cut.Field != "" && c.Cut.MinCount <= 0:
		return errors.Errorf("cut.min_count must be > 0, got %d", c.Cut.MinCount)
	}
	if len(c.Features) > 0 {
		spec, err := c.FeatureSpec()
		if err != nil {
			return err
		}
		if _, found := spec.Offset(c.Cut.Field); c.Cut.Field != "" && !found {
			return errors.Wrapf(features.ErrMissingField, "cut.field %q is not one of the features %q, only features are read",
				c.Cut.Field, spec.Names())
		}
	}
	if len(c.Samples) > 0 {
		if _, err := c.Registry(); err != nil {
			return err
		}
	}
	return nil
}

// FeatureSpec builds the feature spec from the configured features, in the order listed.
func (c *Config) FeatureSpec() (*features.Spec, error) {
	fields := make([]features.Field, len(c.Features))
	for ii, f := range c.Features {
		fields[ii] = features.Field{Name: f.Name, Length: f.Length, Scale: f.Scale}
	}
	spec, err := features.NewSpec(fields...)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid features configuration")
	}
	return spec, nil
}

// Registry builds the sample registry, or returns samples.Default() if no samples are configured.
func (c *Config) Registry() (*samples.Registry, error) {
	if len(c.Samples) == 0 {
		return samples.Default(), nil
	}
	entries := make([]samples.Entry, len(c.Samples))
	for ii, s := range c.Samples {
		entries[ii] = samples.Entry(s)
	}
	r, err := samples.New(entries...)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid samples configuration")
	}
	return r, nil
}

// CutFilter returns the configured cut, or nil if no cut is configured.
func (c *Config) CutFilter() dataset.Filter {
	if c.Cut.Field == "" {
		return nil
	}
	return dataset.CountAtLeast(c.Cut.Field, c.Cut.Threshold, c.Cut.MinCount)
}

// NewCache returns the events cache configured, or nil if disabled.
func (c *Config) NewCache() (*events.Cache, error) {
	if c.CacheBytes == 0 {
		return nil, nil
	}
	return events.NewCache(c.CacheBytes)
}
