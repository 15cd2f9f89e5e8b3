// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package features

import "fmt"

// Value is the content of one field of one event: either a scalar or a variable-length sequence.
//
// The kind is decided once, when the value is read from the file, so the extraction hot path never
// inspects Go types.
type Value struct {
	seq      []float64
	isScalar bool
}

// Scalar creates a Value holding a single number.
func Scalar(v float64) Value {
	return Value{seq: []float64{v}, isScalar: true}
}

// Sequence creates a Value holding a variable-length sequence. The slice is owned by the Value afterward.
func Sequence(values []float64) Value {
	return Value{seq: values}
}

// IsScalar returns whether the value was read as a scalar.
func (v Value) IsScalar() bool { return v.isScalar }

// Len returns the number of elements, 1 for scalars.
func (v Value) Len() int { return len(v.seq) }

// AsSlice returns the elements of the value. A scalar is returned as a length-1 slice.
// The returned slice must not be modified.
func (v Value) AsSlice() []float64 { return v.seq }

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.isScalar {
		return fmt.Sprintf("Scalar(%g)", v.seq[0])
	}
	return fmt.Sprintf("Sequence(%v)", v.seq)
}

// Record is a view of one event exposing its fields by name.
type Record interface {
	// Field returns the value of the named field, and false if the event has no such field.
	Field(name string) (Value, bool)
}
