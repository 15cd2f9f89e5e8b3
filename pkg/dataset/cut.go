// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
)

// CutMask is the selection of a filter broadcast to the shape of the feature vectors: a row-major
// (NumEvents, Width) matrix whose rows are all ones (event selected) or all zeros.
type CutMask struct {
	NumEvents, Width int
	Values           []float32
}

// NewCutMask broadcasts the selection flags to rows of the given width.
func NewCutMask(selected []bool, width int) *CutMask {
	m := &CutMask{NumEvents: len(selected), Width: width, Values: make([]float32, len(selected)*width)}
	for ii, sel := range selected {
		if !sel {
			continue
		}
		row := m.Values[ii*width : (ii+1)*width]
		for jj := range row {
			row[jj] = 1
		}
	}
	return m
}

// Flat returns the mask as a flat array of NumEvents*Width elements.
func (m *CutMask) Flat() []float32 { return m.Values }

// Row returns the mask values for event i.
func (m *CutMask) Row(i int) []float32 { return m.Values[i*m.Width : (i+1)*m.Width] }

// Selected returns whether event i passes the cut.
func (m *CutMask) Selected(i int) bool {
	return m.Width > 0 && m.Values[i*m.Width] != 0
}

// NumSelected returns the number of events that pass the cut.
func (m *CutMask) NumSelected() int {
	var count int
	for ii := range m.NumEvents {
		if m.Selected(ii) {
			count++
		}
	}
	return count
}

// CutMask evaluates the filter over all events of the source (ignoring the dataset's own filter) and
// broadcasts the result to (number of events, width).
func (ds *Dataset) CutMask(filter Filter) (*CutMask, error) {
	if filter == nil {
		return nil, errors.New("CutMask requires a filter")
	}
	c, err := ds.source.Load()
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q: failed to load events", ds.name)
	}
	selected, err := filter(c)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q: cut failed", ds.name)
	}
	if len(selected) != c.Len() {
		return nil, errors.Errorf("dataset %q: cut returned %d flags for %d events", ds.name, len(selected), c.Len())
	}
	return NewCutMask(selected, ds.spec.Width()), nil
}

// AnyAbove selects events where any value of field is above threshold.
func AnyAbove(field string, threshold float64) Filter {
	return CountAtLeast(field, threshold, 1)
}

// CountAtLeast selects events with at least n values of field above threshold.
func CountAtLeast(field string, threshold float64, n int) Filter {
	return func(c *events.Collection) ([]bool, error) {
		col, found := c.Column(field)
		if !found {
			return nil, errors.Wrapf(features.ErrMissingField, "cut on field %q", field)
		}
		selected := make([]bool, len(col))
		for ii, v := range col {
			var count int
			for _, x := range v.AsSlice() {
				if x > threshold {
					count++
				}
			}
			selected[ii] = count >= n
		}
		return selected, nil
	}
}

// And selects events selected by all filters.
func And(filters ...Filter) Filter {
	return func(c *events.Collection) ([]bool, error) {
		selected := make([]bool, c.Len())
		for ii := range selected {
			selected[ii] = true
		}
		for _, filter := range filters {
			flags, err := filter(c)
			if err != nil {
				return nil, err
			}
			if len(flags) != len(selected) {
				return nil, errors.Errorf("filter returned %d flags for %d events", len(flags), len(selected))
			}
			for ii, flag := range flags {
				selected[ii] = selected[ii] && flag
			}
		}
		return selected, nil
	}
}
