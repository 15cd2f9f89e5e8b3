// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset adapts an events.Source to an indexed collection of feature vectors, optionally
// filtered by a selection (a "cut"), and to a GoMLX train.Dataset yielding batches.
//
// Events are read lazily, on the first access that requires them. Size without a filter only reads
// file metadata.
package dataset

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/events/rootio"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"k8s.io/klog/v2"
)

// Filter selects events of a collection: it returns one flag per event.
type Filter func(c *events.Collection) ([]bool, error)

// Dataset of feature vectors, one per (selected) event of a source.
//
// A Dataset and the views created by Split share the loaded events. They are safe for concurrent use.
type Dataset struct {
	name   string
	source events.Source
	spec   *features.Spec
	filter Filter
	shared *shared

	// View over [offset, offset+limit) of the selected events. limit < 0 means all events after offset.
	offset, limit int
}

// shared state between a Dataset and its splits.
type shared struct {
	mu       sync.Mutex
	selected *events.Collection
}

// New creates a Dataset over the source, using spec to extract feature vectors.
func New(name string, source events.Source, spec *features.Spec) *Dataset {
	return &Dataset{
		name:   name,
		source: source,
		spec:   spec,
		shared: &shared{},
		limit:  -1,
	}
}

// Open creates a Dataset reading the tree from the ROOT files matching pattern.
// The branches read are the fields of spec. If cache is not nil, loaded events are kept in it.
func Open(name, pattern, tree string, spec *features.Spec, filter Filter, cache *events.Cache) (*Dataset, error) {
	source, err := rootio.Open(pattern, tree, spec.Names())
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", name)
	}
	return New(name, events.Cached(source, cache), spec).WithFilter(filter), nil
}

// WithFilter returns a new Dataset, over the same source, with only the events selected by filter.
// A nil filter selects all events.
func (ds *Dataset) WithFilter(filter Filter) *Dataset {
	return &Dataset{
		name:   ds.name,
		source: ds.source,
		spec:   ds.spec,
		filter: filter,
		shared: &shared{},
		limit:  -1,
	}
}

// Name of the dataset.
func (ds *Dataset) Name() string { return ds.name }

// Spec used to extract feature vectors.
func (ds *Dataset) Spec() *features.Spec { return ds.spec }

// Width of the feature vectors.
func (ds *Dataset) Width() int { return ds.spec.Width() }

// Size returns the number of (selected) events.
//
// Without a filter, only the file metadata is read. With a filter, events are loaded to evaluate it.
func (ds *Dataset) Size() (int, error) {
	var total int
	if ds.filter == nil && ds.isLazy() {
		var err error
		total, err = ds.source.Size()
		if err != nil {
			return 0, errors.WithMessagef(err, "dataset %q", ds.name)
		}
	} else {
		selected, err := ds.load()
		if err != nil {
			return 0, err
		}
		total = selected.Len()
	}
	return ds.viewSize(total), nil
}

func (ds *Dataset) isLazy() bool {
	ds.shared.mu.Lock()
	defer ds.shared.mu.Unlock()
	return ds.shared.selected == nil
}

func (ds *Dataset) viewSize(total int) int {
	size := max(total-ds.offset, 0)
	if ds.limit >= 0 {
		size = min(size, ds.limit)
	}
	return size
}

// Prefetch loads the events and applies the filter, so later calls don't pay for it.
func (ds *Dataset) Prefetch() error {
	_, err := ds.load()
	return err
}

func (ds *Dataset) load() (*events.Collection, error) {
	ds.shared.mu.Lock()
	defer ds.shared.mu.Unlock()
	if ds.shared.selected != nil {
		return ds.shared.selected, nil
	}
	c, err := ds.source.Load()
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q: failed to load events", ds.name)
	}
	numRead := c.Len()
	if ds.filter != nil {
		mask, err := ds.filter(c)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %q: filter failed", ds.name)
		}
		c, err = c.Select(mask)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %q: filter returned invalid mask", ds.name)
		}
	}
	klog.V(1).Infof("dataset %q: loaded %d events, %d selected", ds.name, numRead, c.Len())
	ds.shared.selected = c
	return c, nil
}

// Get returns the feature vector of the index-th (selected) event. Random and repeated access is allowed.
func (ds *Dataset) Get(index int) ([]float32, error) {
	vector := make([]float32, ds.spec.Width())
	if err := ds.getInto(vector, index); err != nil {
		return nil, err
	}
	return vector, nil
}

func (ds *Dataset) getInto(dst []float32, index int) error {
	selected, err := ds.load()
	if err != nil {
		return err
	}
	size := ds.viewSize(selected.Len())
	if index < 0 || index >= size {
		return errors.Errorf("dataset %q: index %d out of range [0, %d)", ds.name, index, size)
	}
	err = features.ExtractInto(dst, selected.Row(ds.offset+index), ds.spec)
	if err != nil {
		return errors.WithMessagef(err, "dataset %q, event %d", ds.name, index)
	}
	return nil
}

// Batch returns the flat, row-major feature vectors of the count events starting at start.
// The batch is truncated at the end of the dataset.
func (ds *Dataset) Batch(start, count int) (batch []float32, numEvents int, err error) {
	size, err := ds.Size()
	if err != nil {
		return nil, 0, err
	}
	if start < 0 || start > size {
		return nil, 0, errors.Errorf("dataset %q: batch start %d out of range [0, %d]", ds.name, start, size)
	}
	numEvents = min(count, size-start)
	width := ds.spec.Width()
	batch = make([]float32, numEvents*width)
	for ii := range numEvents {
		if err = ds.getInto(batch[ii*width:(ii+1)*width], start+ii); err != nil {
			return nil, 0, err
		}
	}
	return batch, numEvents, nil
}

// Split the dataset in two contiguous views: the first with fraction of the events (rounded down),
// the second with the remaining ones. They share the loaded events with ds.
func (ds *Dataset) Split(fraction float64) (first, second *Dataset, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, errors.Errorf("split fraction must be in (0, 1), got %g", fraction)
	}
	size, err := ds.Size()
	if err != nil {
		return nil, nil, err
	}
	n := int(float64(size) * fraction)
	first = ds.view(ds.name+"-train", ds.offset, n)
	second = ds.view(ds.name+"-validation", ds.offset+n, size-n)
	return first, second, nil
}

func (ds *Dataset) view(name string, offset, limit int) *Dataset {
	return &Dataset{
		name:   name,
		source: ds.source,
		spec:   ds.spec,
		filter: ds.filter,
		shared: ds.shared,
		offset: offset,
		limit:  limit,
	}
}
