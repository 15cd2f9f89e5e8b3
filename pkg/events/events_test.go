// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
)

func testCollection(t *testing.T) *Collection {
	c, err := FromEvents([]Event{
		{"pt": features.Sequence([]float64{10, 20}), "met": features.Scalar(5)},
		{"pt": features.Sequence([]float64{30}), "met": features.Scalar(6)},
		{"pt": features.Sequence(nil), "met": features.Scalar(7)},
	})
	require.NoError(t, err)
	return c
}

func TestCollection(t *testing.T) {
	c := testCollection(t)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"met", "pt"}, c.Fields())

	col, found := c.Column("met")
	require.True(t, found)
	assert.Len(t, col, 3)
	_, found = c.Column("eta")
	assert.False(t, found)

	e := c.Event(1)
	assert.Equal(t, []float64{30}, e["pt"].AsSlice())
	v, found := c.Row(2).Field("met")
	require.True(t, found)
	assert.True(t, v.IsScalar())
	assert.Equal(t, []float64{7}, v.AsSlice())
	_, found = c.Row(0).Field("eta")
	assert.False(t, found)

	// Rows work as feature records.
	spec := features.MustNewSpec(features.Field{Name: "pt", Length: 2, Scale: 10}, features.Field{Name: "met", Length: 1})
	vector, err := features.Extract(c.Row(0), spec)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 2, 5}, vector, 1e-6)

	assert.Greater(t, c.MemoryBytes(), int64(0))
}

func TestCollectionSelect(t *testing.T) {
	c := testCollection(t)
	selected, err := c.Select([]bool{true, false, true})
	require.NoError(t, err)
	assert.Equal(t, 2, selected.Len())
	assert.Equal(t, []float64{7}, selected.Event(1)["met"].AsSlice())
	assert.Equal(t, 3, c.Len())

	_, err = c.Select([]bool{true})
	assert.Error(t, err)
}

func TestNewCollectionErrors(t *testing.T) {
	_, err := NewCollection(map[string][]features.Value{
		"a": {features.Scalar(1)},
		"b": {features.Scalar(1), features.Scalar(2)},
	})
	assert.Error(t, err)

	_, err = FromEvents([]Event{
		{"a": features.Scalar(1)},
		{"b": features.Scalar(1)},
	})
	assert.Error(t, err)

	empty, err := FromEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestCache(t *testing.T) {
	c := testCollection(t)
	mem := NewMemory("test", c)
	cache, err := NewCache(DefaultCacheBytes)
	require.NoError(t, err)
	defer cache.Close()

	source := Cached(mem, cache)
	assert.Equal(t, "test", source.Name())
	size, err := source.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	first, err := source.Load()
	require.NoError(t, err)
	second, err := source.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, mem.NumLoads())
	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// Without a cache every Load reaches the source.
	assert.Same(t, Source(mem), Cached(mem, nil))
}

func TestCacheTooSmall(t *testing.T) {
	c := testCollection(t)
	mem := NewMemory("test", c)
	cache, err := NewCache(1)
	require.NoError(t, err)
	defer cache.Close()

	source := Cached(mem, cache)
	for range 3 {
		loaded, err := source.Load()
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.Len())
	}
	assert.Equal(t, 3, mem.NumLoads())

	_, err = NewCache(0)
	assert.Error(t, err)
}

func TestWrapRead(t *testing.T) {
	assert.NoError(t, WrapRead(nil, "nothing"))

	err := WrapRead(os.ErrNotExist, "failed to open %q", "a.root")
	assert.True(t, errors.Is(err, ErrRead))
	assert.True(t, errors.Is(err, os.ErrNotExist), "the cause is kept")
	assert.False(t, errors.Is(err, ErrNoFiles))
	assert.Contains(t, err.Error(), `failed to open "a.root"`)
	assert.Contains(t, fmt.Sprintf("%+v", err), "events_test.go", "stack trace is kept")
}
