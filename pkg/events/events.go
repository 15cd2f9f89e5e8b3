// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package events holds collections of collision events read from files, the Source abstraction
// used to (lazily) read them, and an opt-in memory-bound Cache of loaded collections.
package events

import (
	"fmt"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
)

// ErrNoFiles is returned when a glob pattern matches no file.
var ErrNoFiles = errors.New("no files matched")

// ErrRead is matched (with errors.Is) by failures to open, parse or read an existing input file.
var ErrRead = errors.New("failed to read input file")

// WrapRead annotates err with the formatted message, like errors.Wrapf, and marks it as an ErrRead.
// The original error is still reachable with errors.Is and errors.As. It returns nil if err is nil.
func WrapRead(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &readError{err: errors.Wrapf(err, format, args...)}
}

type readError struct {
	err error
}

func (e *readError) Error() string { return e.err.Error() }

func (e *readError) Unwrap() error { return e.err }

func (e *readError) Is(target error) bool { return target == ErrRead }

// Format keeps the stack trace of the wrapped error for "%+v".
func (e *readError) Format(s fmt.State, verb rune) {
	if f, ok := e.err.(fmt.Formatter); ok {
		f.Format(s, verb)
		return
	}
	_, _ = fmt.Fprint(s, e.err.Error())
}

// Event is one collision event: a mapping from field name to its value.
// It implements features.Record.
type Event map[string]features.Value

// Field implements features.Record.
func (e Event) Field(name string) (features.Value, bool) {
	v, found := e[name]
	return v, found
}

// Collection is a columnar set of events: every field holds one value per event.
//
// A Collection is immutable after creation and safe for concurrent reads.
type Collection struct {
	fields  []string
	columns map[string][]features.Value
	numRows int
}

// NewCollection creates a collection from columns of values. All columns must have the same length.
// Fields are ordered by name.
func NewCollection(columns map[string][]features.Value) (*Collection, error) {
	c := &Collection{
		fields:  make([]string, 0, len(columns)),
		columns: make(map[string][]features.Value, len(columns)),
		numRows: -1,
	}
	for name, values := range columns {
		if c.numRows >= 0 && len(values) != c.numRows {
			return nil, errors.Errorf("column %q has %d events, other columns have %d", name, len(values), c.numRows)
		}
		c.numRows = len(values)
		c.fields = append(c.fields, name)
		c.columns[name] = values
	}
	if c.numRows < 0 {
		c.numRows = 0
	}
	sort.Strings(c.fields)
	return c, nil
}

// FromEvents creates a collection from a list of events, which must all have the same fields.
func FromEvents(events []Event) (*Collection, error) {
	if len(events) == 0 {
		return NewCollection(nil)
	}
	columns := make(map[string][]features.Value, len(events[0]))
	for name := range events[0] {
		columns[name] = make([]features.Value, len(events))
	}
	for ii, e := range events {
		if len(e) != len(columns) {
			return nil, errors.Errorf("event #%d has %d fields, event #0 has %d", ii, len(e), len(columns))
		}
		for name, v := range e {
			col, found := columns[name]
			if !found {
				return nil, errors.Wrapf(features.ErrMissingField, "event #0 has no field %q (present in event #%d)", name, ii)
			}
			col[ii] = v
		}
	}
	return NewCollection(columns)
}

// Len returns the number of events.
func (c *Collection) Len() int { return c.numRows }

// Fields returns the names of the fields present, sorted.
func (c *Collection) Fields() []string { return slices.Clone(c.fields) }

// Column returns the values of the named field for all events. It must not be modified.
func (c *Collection) Column(name string) (values []features.Value, found bool) {
	values, found = c.columns[name]
	return
}

// Event returns a newly allocated Event with the values of the i-th event.
func (c *Collection) Event(i int) Event {
	e := make(Event, len(c.columns))
	for name, col := range c.columns {
		e[name] = col[i]
	}
	return e
}

// Row returns a view of the i-th event as a features.Record, without copying it.
func (c *Collection) Row(i int) features.Record {
	return row{c: c, index: i}
}

type row struct {
	c     *Collection
	index int
}

func (r row) Field(name string) (features.Value, bool) {
	col, found := r.c.columns[name]
	if !found {
		return features.Value{}, false
	}
	return col[r.index], true
}

// Select returns a new Collection with only the events whose mask entry is true.
// The values themselves are shared with c.
func (c *Collection) Select(mask []bool) (*Collection, error) {
	if len(mask) != c.numRows {
		return nil, errors.Errorf("selection mask has %d entries for %d events", len(mask), c.numRows)
	}
	indices := make([]int, 0, c.numRows)
	for ii, selected := range mask {
		if selected {
			indices = append(indices, ii)
		}
	}
	columns := make(map[string][]features.Value, len(c.columns))
	for name, col := range c.columns {
		selectedCol := make([]features.Value, len(indices))
		for jj, ii := range indices {
			selectedCol[jj] = col[ii]
		}
		columns[name] = selectedCol
	}
	return &Collection{fields: slices.Clone(c.fields), columns: columns, numRows: len(indices)}, nil
}

const valueOverheadBytes = 32

// MemoryBytes is an estimate of the memory used by the collection.
func (c *Collection) MemoryBytes() int64 {
	var total int64
	for _, col := range c.columns {
		for _, v := range col {
			total += valueOverheadBytes + 8*int64(v.Len())
		}
	}
	return total
}
