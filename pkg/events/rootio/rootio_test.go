// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package rootio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"
)

// writeTree writes a flat tree "ntuple" with the branches n, pt[n] and met.
func writeTree(t *testing.T, path string, pts [][]float32, mets []float32) {
	f, err := groot.Create(path)
	require.NoError(t, err)
	var (
		n   int32
		pt  []float32
		met float32
	)
	wvars := []rtree.WriteVar{
		{Name: "n", Value: &n},
		{Name: "pt", Value: &pt, Count: "n"},
		{Name: "met", Value: &met},
	}
	w, err := rtree.NewWriter(f, "ntuple", wvars)
	require.NoError(t, err)
	for ii := range pts {
		pt = pts[ii]
		n = int32(len(pt))
		met = mets[ii]
		_, err = w.Write()
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestSource(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "a.root"), [][]float32{{10, 20}, {30}}, []float32{1, 2})
	writeTree(t, filepath.Join(dir, "b.root"), [][]float32{{}}, []float32{3})

	source, err := Open(filepath.Join(dir, "*.root"), "ntuple", []string{"pt", "met"})
	require.NoError(t, err)
	assert.Len(t, source.Files(), 2)
	assert.Contains(t, source.Key(), "pt,met")

	size, err := source.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	c, err := source.Load()
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"met", "pt"}, c.Fields())
	e := c.Event(0)
	assert.Equal(t, []float64{10, 20}, e["pt"].AsSlice())
	assert.True(t, e["met"].IsScalar())
	assert.Equal(t, []float64{3}, c.Event(2)["met"].AsSlice())
	assert.Equal(t, 0, c.Event(2)["pt"].Len())

	missing, err := Open(filepath.Join(dir, "*.root"), "ntuple", []string{"eta"})
	require.NoError(t, err)
	_, err = missing.Load()
	assert.True(t, errors.Is(err, features.ErrMissingField))

	wrongTree, err := Open(filepath.Join(dir, "*.root"), "other", []string{"pt"})
	require.NoError(t, err)
	_, err = wrongTree.Size()
	assert.True(t, errors.Is(err, events.ErrRead), "missing tree: %v", err)
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.root")
	require.NoError(t, os.WriteFile(path, []byte("this is not a ROOT file"), 0o644))
	source, err := Open(path, "ntuple", []string{"pt"})
	require.NoError(t, err, "files are only opened on Size or Load")

	_, err = source.Size()
	require.Error(t, err)
	assert.True(t, errors.Is(err, events.ErrRead))
	assert.False(t, errors.Is(err, events.ErrNoFiles))
	assert.Contains(t, err.Error(), "bad.root")
	assert.Contains(t, fmt.Sprintf("%+v", err), "rootio.go", "stack trace is kept")

	_, err = source.Load()
	assert.True(t, errors.Is(err, events.ErrRead))
}

func TestOpenNoFiles(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "*.root"), "", []string{"pt"})
	assert.True(t, errors.Is(err, events.ErrNoFiles))
}

func TestToValue(t *testing.T) {
	f32 := float32(1.5)
	v, err := toValue(&f32)
	require.NoError(t, err)
	assert.True(t, v.IsScalar())
	assert.Equal(t, []float64{1.5}, v.AsSlice())

	ints := []int16{1, -2}
	v, err = toValue(&ints)
	require.NoError(t, err)
	assert.False(t, v.IsScalar())
	assert.Equal(t, []float64{1, -2}, v.AsSlice())

	arr := [3]uint8{1, 2, 3}
	v, err = toValue(&arr)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v.AsSlice())

	b := true
	v, err = toValue(&b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, v.AsSlice())

	s := "x"
	_, err = toValue(&s)
	assert.Error(t, err)
}
