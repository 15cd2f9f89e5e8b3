// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluate runs a reconstruction model over a dataset, in fixed-size batches, and collects
// per-element reconstruction losses and model outputs.
package evaluate

import (
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// DefaultBatchSize used by Run if none is given.
const DefaultBatchSize = 2000

// Model reconstructs a batch of feature vectors.
type Model interface {
	// Reconstruct takes a flat, row-major (numEvents, width) batch and returns the reconstruction,
	// with the same shape.
	Reconstruct(batch []float32, numEvents, width int) ([]float32, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(batch []float32, numEvents, width int) ([]float32, error)

// Reconstruct implements Model.
func (fn ModelFunc) Reconstruct(batch []float32, numEvents, width int) ([]float32, error) {
	return fn(batch, numEvents, width)
}

// LossFn computes the element-wise loss between outputs and inputs, which have the same length.
type LossFn func(outputs, inputs []float32) []float32

// SquaredError is the element-wise squared difference: the mean squared error without reduction.
func SquaredError(outputs, inputs []float32) []float32 {
	losses := make([]float32, len(outputs))
	for ii, out := range outputs {
		d := out - inputs[ii]
		losses[ii] = d * d
	}
	return losses
}

// Options for Run.
type Options struct {
	// Sample name stored in the Result.
	Sample string

	// BatchSize is the number of events per call to the model. Defaults to DefaultBatchSize.
	BatchSize int

	// Loss is the element-wise loss. Defaults to SquaredError.
	Loss LossFn

	// Mask, if not nil, is multiplied into the losses and outputs.
	Mask *dataset.CutMask
}

// Result of the evaluation of one sample.
type Result struct {
	Sample           string
	NumEvents, Width int

	// Losses and Outputs are flat, row-major (NumEvents, Width) arrays.
	Losses, Outputs []float32
}

// Run evaluates the model over every event of ds, in order, in batches.
//
// Any error from the model aborts the run. If a mask is given, it must match the dataset size and width,
// otherwise features.ErrWidthMismatch is returned.
func Run(model Model, ds *dataset.Dataset, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Loss == nil {
		opts.Loss = SquaredError
	}
	if opts.Sample == "" {
		opts.Sample = ds.Name()
	}
	size, err := ds.Size()
	if err != nil {
		return nil, err
	}
	width := ds.Width()
	if opts.Mask != nil && (opts.Mask.NumEvents != size || opts.Mask.Width != width) {
		return nil, errors.Wrapf(features.ErrWidthMismatch, "sample %q: cut mask is (%d, %d), dataset is (%d, %d)",
			opts.Sample, opts.Mask.NumEvents, opts.Mask.Width, size, width)
	}

	r := &Result{
		Sample:    opts.Sample,
		NumEvents: size,
		Width:     width,
		Losses:    make([]float32, 0, size*width),
		Outputs:   make([]float32, 0, size*width),
	}
	for start := 0; start < size; start += opts.BatchSize {
		batch, numEvents, err := ds.Batch(start, opts.BatchSize)
		if err != nil {
			return nil, errors.WithMessagef(err, "sample %q", opts.Sample)
		}
		outputs, err := model.Reconstruct(batch, numEvents, width)
		if err != nil {
			return nil, errors.WithMessagef(err, "sample %q: model failed on batch starting at event %d", opts.Sample, start)
		}
		if len(outputs) != len(batch) {
			return nil, errors.Wrapf(features.ErrWidthMismatch, "sample %q: model returned %d values for a batch of %d",
				opts.Sample, len(outputs), len(batch))
		}
		r.Losses = append(r.Losses, opts.Loss(outputs, batch)...)
		r.Outputs = append(r.Outputs, outputs...)
		klog.V(2).Infof("evaluate %q: %d/%d events", opts.Sample, start+numEvents, size)
	}
	if opts.Mask != nil {
		if err := r.ApplyMask(opts.Mask); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("evaluated %q: %d events of width %d", opts.Sample, size, width)
	return r, nil
}

// ApplyMask multiplies the mask element-wise into the losses and outputs.
func (r *Result) ApplyMask(mask *dataset.CutMask) error {
	if mask.NumEvents != r.NumEvents || mask.Width != r.Width {
		return errors.Wrapf(features.ErrWidthMismatch, "sample %q: cut mask is (%d, %d), result is (%d, %d)",
			r.Sample, mask.NumEvents, mask.Width, r.NumEvents, r.Width)
	}
	for ii, m := range mask.Values {
		r.Losses[ii] *= m
		r.Outputs[ii] *= m
	}
	return nil
}

// EventLosses returns the total loss of each event.
func (r *Result) EventLosses() []float64 {
	sums, err := SumPerEvent(r.Losses, r.Width)
	if err != nil {
		// Losses always have NumEvents*Width elements.
		panic(err)
	}
	return sums
}

// SumPerEvent reshapes the flat array to (-1, width) and sums each row.
func SumPerEvent[T constraints.Float](flat []T, width int) ([]float64, error) {
	if width <= 0 {
		return nil, errors.Wrapf(features.ErrWidthMismatch, "width must be > 0, got %d", width)
	}
	if len(flat)%width != 0 {
		return nil, errors.Wrapf(features.ErrWidthMismatch, "%d elements can't be reshaped to rows of width %d",
			len(flat), width)
	}
	sums := make([]float64, len(flat)/width)
	for ii := range sums {
		var sum float64
		for _, x := range flat[ii*width : (ii+1)*width] {
			sum += float64(x)
		}
		sums[ii] = sum
	}
	return sums, nil
}

// LossMap maps sample names to their evaluation results, keeping insertion order.
type LossMap struct {
	names   []string
	results map[string]*Result
}

// NewLossMap creates an empty LossMap.
func NewLossMap() *LossMap {
	return &LossMap{results: make(map[string]*Result)}
}

// Set the result of a sample. Setting an existing sample replaces it, keeping its position.
func (lm *LossMap) Set(r *Result) {
	if _, found := lm.results[r.Sample]; !found {
		lm.names = append(lm.names, r.Sample)
	}
	lm.results[r.Sample] = r
}

// Get the result of a sample.
func (lm *LossMap) Get(sample string) (*Result, bool) {
	r, found := lm.results[sample]
	return r, found
}

// Names of the samples, in insertion order.
func (lm *LossMap) Names() []string {
	return append([]string(nil), lm.names...)
}

// Len returns the number of samples.
func (lm *LossMap) Len() int { return len(lm.names) }
