// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package features converts event records into fixed-width float32 vectors.
//
// A Spec lists, in order, the fields to extract, how many values to keep from each field and how to
// rescale them. Every vector produced for a Spec has exactly Spec.Width() elements, with the fields
// laid out contiguously in the Spec order.
//
// Example:
//
//	spec := features.MustNewSpec(
//		features.Field{Name: "pt", Length: 3, Scale: 50},
//		features.Field{Name: "eta", Length: 2})
//	vector, err := features.Extract(event, spec)
package features

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingField is returned when a field required by the Spec is absent from an event or a file.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidLength is returned when a Field has a non-positive Length.
	ErrInvalidLength = errors.New("invalid field length")

	// ErrWidthMismatch is returned when a feature vector width doesn't match what a model or a
	// cut mask expects.
	ErrWidthMismatch = errors.New("feature width mismatch")
)

// Field describes one observable in the feature vector.
type Field struct {
	// Name of the field in the event record (the branch name in a ROOT tree).
	Name string

	// Length is the fixed number of output values for the field. Longer sequences are truncated
	// (the earliest values are kept) and shorter ones are right-padded with zeros.
	Length int

	// Scale selects the rescaling policy:
	//
	//   - Scale > 10: every value is divided by Scale.
	//   - 1 < Scale <= 10: Scale is added to every value.
	//   - otherwise values are left unchanged.
	Scale float64
}

// Spec is an ordered, immutable list of fields. It is safe for concurrent use.
type Spec struct {
	fields  []Field
	offsets []int
	index   map[string]int
	width   int
}

// NewSpec validates the fields and creates a Spec. Fields are laid out in the order given.
func NewSpec(fields ...Field) (*Spec, error) {
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrInvalidLength, "feature spec has no fields")
	}
	s := &Spec{
		fields:  make([]Field, len(fields)),
		offsets: make([]int, len(fields)),
		index:   make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)
	for ii, f := range s.fields {
		if f.Name == "" {
			return nil, errors.Errorf("feature #%d has no name", ii)
		}
		if f.Length <= 0 {
			return nil, errors.Wrapf(ErrInvalidLength, "feature %q has length %d, it must be >= 1", f.Name, f.Length)
		}
		if _, found := s.index[f.Name]; found {
			return nil, errors.Errorf("feature %q listed more than once", f.Name)
		}
		s.index[f.Name] = ii
		s.offsets[ii] = s.width
		s.width += f.Length
	}
	return s, nil
}

// MustNewSpec is like NewSpec, but panics on error.
func MustNewSpec(fields ...Field) *Spec {
	s, err := NewSpec(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Width is the length of every feature vector: the sum of all field lengths.
func (s *Spec) Width() int { return s.width }

// Fields returns a copy of the fields, in order.
func (s *Spec) Fields() []Field {
	fields := make([]Field, len(s.fields))
	copy(fields, s.fields)
	return fields
}

// Names returns the field names, in order.
func (s *Spec) Names() []string {
	names := make([]string, len(s.fields))
	for ii, f := range s.fields {
		names[ii] = f.Name
	}
	return names
}

// Offset returns the position of the first value of the named field in the feature vector.
func (s *Spec) Offset(name string) (offset int, found bool) {
	ii, found := s.index[name]
	if !found {
		return 0, false
	}
	return s.offsets[ii], true
}

// String implements fmt.Stringer.
func (s *Spec) String() string {
	parts := make([]string, len(s.fields))
	for ii, f := range s.fields {
		parts[ii] = fmt.Sprintf("%s:(%d, %g)", f.Name, f.Length, f.Scale)
	}
	return fmt.Sprintf("{%s} width=%d", strings.Join(parts, ", "), s.width)
}
