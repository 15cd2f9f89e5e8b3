// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"github.com/thongonary/AnomalyTrigger/ui/plots"
)

var testSpec = features.MustNewSpec(
	features.Field{Name: "pt", Length: 3, Scale: 20},
	features.Field{Name: "met", Length: 1},
)

func newTestDataset(t *testing.T, n int) *dataset.Dataset {
	evs := make([]events.Event, n)
	for ii := range evs {
		x := float64(ii % 7)
		evs[ii] = events.Event{
			"pt":  features.Sequence([]float64{x, 2 * x, 3 * x}[:1+ii%3]),
			"met": features.Scalar(0.1 * x),
		}
	}
	coll, err := events.FromEvents(evs)
	require.NoError(t, err)
	return dataset.New("BG", events.NewMemory("BG", coll), testSpec)
}

func testContext() *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamBatchSize:         8,
		ParamNumEpochs:         2,
		"fnn_num_hidden_nodes": 8,
		"learning_rate":        0.01,
	})
	return ctx
}

func TestModelGraph(t *testing.T) {
	backend := backends.MustNew()
	ctx := CreateDefaultContext()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *graph.Node) *graph.Node {
		return ModelGraph(ctx, nil, []*graph.Node{x})[0]
	})
	input := tensors.FromFlatDataAndDimensions(make([]float32, 3*5), 3, 5)
	outputs := exec.MustExec(input)
	require.Len(t, outputs, 1)
	assert.Equal(t, []int{3, 5}, outputs[0].Shape().Dimensions)
}

func TestTrainAndPredict(t *testing.T) {
	backend := backends.MustNew()
	ds := newTestDataset(t, 40)
	trainDS, validDS, err := ds.Split(0.8)
	require.NoError(t, err)

	dir := t.TempDir()
	checkpointDir := filepath.Join(dir, "checkpoint")
	curvePath := filepath.Join(dir, "AE_training.svg")
	ctx := testContext()
	points, err := Train(backend, ctx, trainDS, validDS, TrainOptions{
		CheckpointDir:     checkpointDir,
		TrainingCurvePath: curvePath,
	})
	require.NoError(t, err)
	require.NotEmpty(t, points)
	var maxEpoch, numValidation int
	for _, p := range points {
		maxEpoch = max(maxEpoch, p.Epoch)
		if strings.HasSuffix(p.MetricName, " on BG-validation") {
			numValidation++
		}
	}
	assert.Equal(t, 2, maxEpoch)
	assert.Equal(t, 2, numValidation, "validation loss is recorded every epoch")
	assert.Equal(t, testSpec.Width(), context.GetParamOr(ctx, ParamFeatureWidth, 0))
	assert.FileExists(t, curvePath)
	saved, err := plots.LoadPointsFromCheckpoint(checkpointDir)
	require.NoError(t, err)
	assert.Len(t, saved, len(points))

	predictor, err := NewPredictor(backend, ctx, testSpec.Width())
	require.NoError(t, err)
	batch, numEvents, err := ds.Batch(0, 5)
	require.NoError(t, err)
	outputs, err := predictor.Reconstruct(batch, numEvents, testSpec.Width())
	require.NoError(t, err)
	assert.Len(t, outputs, 5*testSpec.Width())

	_, err = predictor.Reconstruct(batch, numEvents, testSpec.Width()-1)
	require.ErrorIs(t, err, features.ErrWidthMismatch)
	_, err = NewPredictor(backend, ctx, testSpec.Width()+1)
	require.ErrorIs(t, err, features.ErrWidthMismatch)

	// Reloaded from the checkpoint, it reconstructs the same values.
	loaded := CreateDefaultContext()
	require.NoError(t, LoadCheckpoint(loaded, checkpointDir))
	assert.Equal(t, testSpec.Width(), context.GetParamOr(loaded, ParamFeatureWidth, 0))
	reloaded, err := NewPredictor(backend, loaded, testSpec.Width())
	require.NoError(t, err)
	reloadedOutputs, err := reloaded.Reconstruct(batch, numEvents, testSpec.Width())
	require.NoError(t, err)
	assert.InDeltaSlice(t, outputs, reloadedOutputs, 1e-5)
}

func TestLoadCheckpointMissing(t *testing.T) {
	err := LoadCheckpoint(CreateDefaultContext(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPredictorUntrained(t *testing.T) {
	backend := backends.MustNew()
	predictor, err := NewPredictor(backend, CreateDefaultContext(), 4)
	require.NoError(t, err)
	_, err = predictor.Reconstruct(make([]float32, 8), 2, 4)
	assert.Error(t, err, "model variables don't exist before training")
}

func TestTrainErrors(t *testing.T) {
	backend := backends.MustNew()
	ds := newTestDataset(t, 10)
	other := dataset.New("other", events.NewMemory("other", must.M1(events.FromEvents([]events.Event{
		{"pt": features.Scalar(1)},
	}))), features.MustNewSpec(features.Field{Name: "pt", Length: 1}))
	_, err := Train(backend, testContext(), ds, other, TrainOptions{})
	require.ErrorIs(t, err, features.ErrWidthMismatch)

	ctx := testContext()
	ctx.SetParam(ParamBatchSize, 0)
	_, err = Train(backend, ctx, ds, nil, TrainOptions{})
	assert.Error(t, err)

	empty, _, err := ds.WithFilter(func(c *events.Collection) ([]bool, error) {
		return make([]bool, c.Len()), nil
	}).Split(0.5)
	require.NoError(t, err)
	_, err = Train(backend, testContext(), empty, nil, TrainOptions{})
	assert.Error(t, err, "no events to train on")
}
