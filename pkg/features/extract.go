// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// DivideAbove is the Scale threshold above which values are divided by Scale.
	DivideAbove = 10.0

	// OffsetAbove is the Scale threshold above which (and up to DivideAbove) Scale is added to values.
	OffsetAbove = 1.0
)

// Extract returns a newly allocated feature vector for the record.
//
// It returns an error wrapping ErrMissingField if any field of the spec is missing in the record.
func Extract(record Record, spec *Spec) ([]float32, error) {
	vector := make([]float32, spec.width)
	if err := ExtractInto(vector, record, spec); err != nil {
		return nil, err
	}
	return vector, nil
}

// ExtractInto writes the feature vector for the record into dst, which must have length spec.Width().
// The contents of dst are undefined if an error is returned.
func ExtractInto(dst []float32, record Record, spec *Spec) error {
	if len(dst) != spec.width {
		return errors.Wrapf(ErrWidthMismatch, "destination has %d elements, spec width is %d", len(dst), spec.width)
	}
	buf := make([]float64, 0, maxLength(spec))
	for ii, f := range spec.fields {
		value, found := record.Field(f.Name)
		if !found {
			return errors.Wrapf(ErrMissingField, "event has no field %q", f.Name)
		}
		buf = window(buf[:0], value.AsSlice(), f.Length)
		rescale(buf, f.Scale)
		out := dst[spec.offsets[ii] : spec.offsets[ii]+f.Length]
		for jj, v := range buf {
			out[jj] = float32(v)
		}
	}
	return nil
}

// window appends to buf exactly length values: the first length values of raw, right-padded with zeros.
func window(buf, raw []float64, length int) []float64 {
	if len(raw) >= length {
		return append(buf, raw[:length]...)
	}
	buf = append(buf, raw...)
	for range length - len(raw) {
		buf = append(buf, 0)
	}
	return buf
}

// rescale applies the Field.Scale policy in place.
func rescale(values []float64, scale float64) {
	switch {
	case scale > DivideAbove:
		floats.Scale(1/scale, values)
	case scale > OffsetAbove:
		floats.AddConst(scale, values)
	}
}

func maxLength(spec *Spec) int {
	var maxLen int
	for _, f := range spec.fields {
		maxLen = max(maxLen, f.Length)
	}
	return maxLen
}
