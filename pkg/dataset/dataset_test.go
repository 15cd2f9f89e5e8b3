// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
)

var testSpec = features.MustNewSpec(
	features.Field{Name: "pt", Length: 2, Scale: 10},
	features.Field{Name: "met", Length: 1})

// newTestSource creates n events with pt=[i, 2i] and met=i.
func newTestSource(t *testing.T, n int) *events.Memory {
	evs := make([]events.Event, n)
	for ii := range evs {
		x := float64(ii)
		evs[ii] = events.Event{
			"pt":  features.Sequence([]float64{x, 2 * x}),
			"met": features.Scalar(x),
		}
	}
	c, err := events.FromEvents(evs)
	require.NoError(t, err)
	return events.NewMemory("test", c)
}

func TestDataset(t *testing.T) {
	source := newTestSource(t, 5)
	ds := New("test", source, testSpec)
	assert.Equal(t, "test", ds.Name())
	assert.Equal(t, 3, ds.Width())

	size, err := ds.Size()
	require.NoError(t, err)
	assert.Equal(t, 5, size)
	assert.Equal(t, 0, source.NumLoads(), "Size without a filter should not load events")

	v, err := ds.Get(3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.3, 0.6, 3}, v, 1e-6)

	// Repeated and random access.
	v2, err := ds.Get(3)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
	_, err = ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 1, source.NumLoads())

	_, err = ds.Get(5)
	assert.Error(t, err)
	_, err = ds.Get(-1)
	assert.Error(t, err)
}

func TestDatasetFilter(t *testing.T) {
	source := newTestSource(t, 6)
	ds := New("test", source, testSpec).WithFilter(AnyAbove("met", 2.5))
	size, err := ds.Size()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	v, err := ds.Get(0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.3, 0.6, 3}, v, 1e-6)

	// CutMask is evaluated on all events, regardless of the dataset filter.
	mask, err := ds.CutMask(AnyAbove("met", 3.5))
	require.NoError(t, err)
	assert.Equal(t, 6, mask.NumEvents)
	assert.Equal(t, 3, mask.Width)
	assert.Len(t, mask.Flat(), 18)
	assert.Equal(t, []float32{0, 0, 0}, mask.Row(3))
	assert.Equal(t, []float32{1, 1, 1}, mask.Row(4))
	assert.False(t, mask.Selected(0))
	assert.True(t, mask.Selected(5))
	assert.Equal(t, 2, mask.NumSelected())

	_, err = ds.CutMask(nil)
	assert.Error(t, err)

	badFilter := func(c *events.Collection) ([]bool, error) { return []bool{true}, nil }
	_, err = ds.CutMask(badFilter)
	assert.Error(t, err)
	_, err = New("bad", source, testSpec).WithFilter(badFilter).Size()
	assert.Error(t, err)
}

func TestFilters(t *testing.T) {
	c, err := events.FromEvents([]events.Event{
		{"pt": features.Sequence([]float64{5, 30, 40})},
		{"pt": features.Sequence([]float64{25})},
		{"pt": features.Sequence(nil)},
	})
	require.NoError(t, err)

	selected, err := AnyAbove("pt", 20)(c)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, selected)

	selected, err = CountAtLeast("pt", 20, 2)(c)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, selected)

	selected, err = And(AnyAbove("pt", 20), CountAtLeast("pt", 0, 3))(c)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, selected)

	_, err = AnyAbove("eta", 0)(c)
	assert.True(t, errors.Is(err, features.ErrMissingField))
}

func TestSplit(t *testing.T) {
	source := newTestSource(t, 10)
	ds := New("test", source, testSpec)
	trainDS, validDS, err := ds.Split(0.8)
	require.NoError(t, err)
	trainSize, err := trainDS.Size()
	require.NoError(t, err)
	validSize, err := validDS.Size()
	require.NoError(t, err)
	assert.Equal(t, 8, trainSize)
	assert.Equal(t, 2, validSize)

	// No overlap: validation starts where training ends.
	last, err := trainDS.Get(7)
	require.NoError(t, err)
	first, err := validDS.Get(0)
	require.NoError(t, err)
	assert.Equal(t, float32(7), last[2])
	assert.Equal(t, float32(8), first[2])
	_, err = validDS.Get(2)
	assert.Error(t, err)

	// Both views share the loaded events.
	assert.Equal(t, 1, source.NumLoads())

	_, _, err = ds.Split(1)
	assert.Error(t, err)
	_, _, err = ds.Split(0)
	assert.Error(t, err)
}

func TestBatch(t *testing.T) {
	ds := New("test", newTestSource(t, 5), testSpec)
	batch, n, err := ds.Batch(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.InDeltaSlice(t, []float32{0.3, 0.6, 3, 0.4, 0.8, 4}, batch, 1e-6)

	_, n, err = ds.Batch(5, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, _, err = ds.Batch(6, 1)
	assert.Error(t, err)
}

func TestBatched(t *testing.T) {
	ds := New("test", newTestSource(t, 5), testSpec)
	batched := ds.Batches(2)
	var sizes []int
	var mets []float32
	for {
		_, inputs, labels, err := batched.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		dims := inputs[0].Shape().Dimensions
		assert.Equal(t, 3, dims[1])
		sizes = append(sizes, dims[0])
		flat := tensors.MustCopyFlatData[float32](inputs[0])
		assert.Equal(t, flat, tensors.MustCopyFlatData[float32](labels[0]))
		for ii := range dims[0] {
			mets = append(mets, flat[ii*3+2])
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []float32{0, 1, 2, 3, 4}, mets)

	// After Reset it yields again; dropping the incomplete batch.
	batched.Reset()
	batched.DropIncompleteBatch(true)
	count := 0
	for {
		_, _, _, err := batched.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestBatchedShuffle(t *testing.T) {
	ds := New("test", newTestSource(t, 20), testSpec)
	batched := ds.Batches(20).Shuffle(42)
	_, inputs, _, err := batched.Yield()
	require.NoError(t, err)
	flat := tensors.MustCopyFlatData[float32](inputs[0])
	seen := make(map[float32]bool)
	for ii := range 20 {
		seen[flat[ii*3+2]] = true
	}
	assert.Len(t, seen, 20, "shuffled epoch must still contain every event once")

	_, _, _, err = batched.Yield()
	assert.Equal(t, io.EOF, err)

	batched.Infinite(true)
	_, _, _, err = batched.Yield()
	assert.NoError(t, err)
}
