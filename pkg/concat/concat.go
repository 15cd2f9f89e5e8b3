// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package concat merges one numeric dataset from many HDF5 files into a single half precision NumPy array.
package concat

import (
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/thongonary/AnomalyTrigger/internal/workerspool"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Defaults for Config.
const (
	DefaultPattern = "*.h5"
	DefaultField   = "Particles"
)

// LogEvery is the number of files between progress log lines.
const LogEvery = 100

// Config of a concatenation.
type Config struct {
	// InputDir is searched (not recursively) for files matching Pattern.
	InputDir string

	// Pattern of the files to concatenate. Defaults to DefaultPattern.
	Pattern string

	// Field is the dataset read from each file. Defaults to DefaultField.
	Field string

	// Output is the path of the .npy file to write.
	Output string

	// Parallelism is the number of files read at the same time. If <= 0, it uses the number of CPUs.
	Parallelism int

	// ProgressBar shows a progress bar on the terminal.
	ProgressBar bool
}

// ArrayReader reads the dataset field from the file in path, as a flat row-major array with its dimensions.
type ArrayReader interface {
	ReadArray(path, field string) (dims []int, data []float64, err error)
}

// Summary of a concatenation.
type Summary struct {
	Files  []string
	Dims   []int
	Output string
}

// Run concatenates, along the first axis, the dataset cfg.Field of every file matching cfg.Pattern in
// cfg.InputDir (in lexical order), rounded to float16, and saves it as a .npy file in cfg.Output.
//
// All arrays must have the same dimensions except the first. There is no resuming: any failure
// aborts the run without writing the output.
func Run(cfg Config, reader ArrayReader) (*Summary, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Field == "" {
		cfg.Field = DefaultField
	}
	if cfg.Output == "" {
		return nil, errors.New("concat: output path not given")
	}
	files, err := filepath.Glob(filepath.Join(cfg.InputDir, cfg.Pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", cfg.Pattern)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(events.ErrNoFiles, "no files matching %q in %q", cfg.Pattern, cfg.InputDir)
	}

	var bar *progressbar.ProgressBar
	if cfg.ProgressBar {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("concatenating"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
		)
	} else {
		bar = progressbar.DefaultSilent(int64(len(files)))
	}
	dims, data, err := Concatenate(files, cfg.Field, reader, cfg.Parallelism, bar)
	if err != nil {
		return nil, err
	}
	_ = bar.Finish()

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %q", cfg.Output)
	}
	t := tensors.FromFlatDataAndDimensions(data, dims...)
	defer t.MustFinalizeAll()
	if err := numpy.ToNpyFile(t, cfg.Output); err != nil {
		return nil, errors.WithMessagef(err, "saving %s to %q", t.Shape(), cfg.Output)
	}
	klog.Infof("saved %d files, shape %v, to %q", len(files), dims, cfg.Output)
	return &Summary{Files: files, Dims: dims, Output: cfg.Output}, nil
}

// Concatenate reads field from every file, up to parallelism files at a time, and appends the values
// in the order of files, rounded to float16 (see ToFloat16), along the first axis. bar, if not nil, is incremented after
// each file is read.
func Concatenate(files []string, field string, reader ArrayReader, parallelism int,
	bar *progressbar.ProgressBar) (dims []int, data []float16.Float16, err error) {
	type array struct {
		dims   []int
		values []float64
	}
	arrays := make([]array, len(files))
	pool := workerspool.New(parallelism)
	for ii, path := range files {
		pool.Go(func() error {
			if ii%LogEvery == 0 {
				klog.Infof("processing file #%d of %d: %q", ii, len(files), path)
			}
			fileDims, values, err := reader.ReadArray(path, field)
			if err != nil {
				return errors.WithMessagef(err, "reading %q from %q", field, path)
			}
			if len(fileDims) == 0 {
				return errors.Errorf("%q in %q is a scalar, can't be concatenated", field, path)
			}
			arrays[ii] = array{dims: fileDims, values: values}
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, nil, err
	}

	for ii, a := range arrays {
		if ii == 0 {
			dims = slices.Clone(a.dims)
			continue
		}
		if !slices.Equal(dims[1:], a.dims[1:]) {
			return nil, nil, errors.Errorf("%q in %q has dimensions %v, incompatible with %v of the previous files",
				field, files[ii], a.dims, dims)
		}
		dims[0] += a.dims[0]
	}
	total := 0
	for _, a := range arrays {
		total += len(a.values)
	}
	data = make([]float16.Float16, 0, total)
	for ii := range arrays {
		for _, v := range arrays[ii].values {
			data = append(data, ToFloat16(v))
		}
		arrays[ii].values = nil
	}
	return dims, data, nil
}

// ToFloat16 rounds v to the nearest float16, ties to even, with a single rounding.
//
// v is first narrowed to float32 rounding to odd: truncated, with the last mantissa bit set if
// inexact. float32 has at least twice the float16 precision plus 2 bits, so rounding that to
// float16 gives the same result as rounding v directly. Values exactly representable in float32
// are converted as they are.
func ToFloat16(v float64) float16.Float16 {
	f := float32(v)
	if float64(f) != v && !math.IsNaN(v) && !math.IsInf(float64(f), 0) {
		if math.Abs(float64(f)) > math.Abs(v) {
			f = math.Nextafter32(f, 0)
		}
		f = math.Float32frombits(math.Float32bits(f) | 1)
	}
	return float16.Fromfloat32(f)
}
