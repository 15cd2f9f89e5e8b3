// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package rootio implements an events.Source that reads flat trees from ROOT files, using
// go-hep's groot.
//
// Each requested field is a branch of the tree. Scalar branches become features.Scalar values and
// variable or fixed-size array branches become features.Sequence values; the conversion happens
// once, while reading.
package rootio

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
	"k8s.io/klog/v2"
)

// DefaultTree is the path of the trigger ntuple tree within the files.
const DefaultTree = "l1PhaseIITree/L1PhaseIITree"

// Source of events read from the files matching a glob pattern.
type Source struct {
	pattern string
	tree    string
	fields  []string
	files   []string
}

var _ events.Source = (*Source)(nil)

// Open globs the files matching pattern and returns a Source that reads the given fields (branches)
// of the tree from them. Files are not opened until Size or Load are called.
//
// It returns an error wrapping events.ErrNoFiles if nothing matches. Size and Load return errors
// matching events.ErrRead if a file can't be opened or read.
func Open(pattern, tree string, fields []string) (*Source, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid file pattern %q", pattern)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(events.ErrNoFiles, "pattern %q", pattern)
	}
	if tree == "" {
		tree = DefaultTree
	}
	klog.V(1).Infof("rootio: %d files match %q", len(files), pattern)
	return &Source{pattern: pattern, tree: tree, fields: append([]string(nil), fields...), files: files}, nil
}

// Name implements events.Source.
func (s *Source) Name() string { return s.pattern }

// Files returns the matched files, in glob order.
func (s *Source) Files() []string { return append([]string(nil), s.files...) }

// Key implements events.Source.
func (s *Source) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.tree, strings.Join(s.fields, ","), strings.Join(s.files, ","))
}

// Size implements events.Source: it sums the number of entries of the tree in every file,
// reading only the file metadata.
func (s *Source) Size() (int, error) {
	var total int64
	for _, path := range s.files {
		err := s.withTree(path, func(tree rtree.Tree) error {
			total += tree.Entries()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return int(total), nil
}

// Load implements events.Source: it reads the requested branches of every file, in glob order.
func (s *Source) Load() (*events.Collection, error) {
	columns := make(map[string][]features.Value, len(s.fields))
	for _, field := range s.fields {
		columns[field] = nil
	}
	for _, path := range s.files {
		err := s.withTree(path, func(tree rtree.Tree) error {
			return readTree(path, tree, s.fields, columns)
		})
		if err != nil {
			return nil, err
		}
	}
	return events.NewCollection(columns)
}

func (s *Source) withTree(path string, fn func(tree rtree.Tree) error) error {
	f, err := groot.Open(path)
	if err != nil {
		return events.WrapRead(err, "failed to open ROOT file %q", path)
	}
	defer func() { _ = f.Close() }()
	obj, err := riofs.Dir(f).Get(s.tree)
	if err != nil {
		return events.WrapRead(err, "failed to find tree %q in %q", s.tree, path)
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return errors.Wrapf(events.ErrRead, "object %q in %q is a %s, not a tree", s.tree, path, obj.Class())
	}
	return fn(tree)
}

func readTree(path string, tree rtree.Tree, fields []string, columns map[string][]features.Value) error {
	available := make(map[string]rtree.ReadVar)
	for _, rv := range rtree.NewReadVars(tree) {
		available[rv.Name] = rv
	}
	rvars := make([]rtree.ReadVar, len(fields))
	for ii, field := range fields {
		rv, found := available[field]
		if !found {
			return errors.Wrapf(features.ErrMissingField, "branch %q not in tree %q of %q", field, tree.Name(), path)
		}
		rvars[ii] = rv
	}

	r, err := rtree.NewReader(tree, rvars)
	if err != nil {
		return events.WrapRead(err, "failed to create reader for %q", path)
	}
	defer func() { _ = r.Close() }()
	err = r.Read(func(ctx rtree.RCtx) error {
		for ii, field := range fields {
			v, err := toValue(rvars[ii].Value)
			if err != nil {
				return errors.WithMessagef(err, "field %q, entry %d", field, ctx.Entry)
			}
			columns[field] = append(columns[field], v)
		}
		return nil
	})
	if err != nil {
		return events.WrapRead(err, "failed to read %q", path)
	}
	klog.V(2).Infof("rootio: read %d entries from %q", tree.Entries(), path)
	return nil
}

// toValue converts the pointer filled by the tree reader to a Value, copying the data.
func toValue(ptr any) (features.Value, error) {
	v := reflect.ValueOf(ptr)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		seq := make([]float64, v.Len())
		for ii := range seq {
			x, err := toFloat(v.Index(ii))
			if err != nil {
				return features.Value{}, err
			}
			seq[ii] = x
		}
		return features.Sequence(seq), nil
	default:
		x, err := toFloat(v)
		if err != nil {
			return features.Value{}, err
		}
		return features.Scalar(x), nil
	}
}

func toFloat(v reflect.Value) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errors.Errorf("unsupported branch type %s", v.Type())
	}
}
