// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package autoencoder defines the dense autoencoder used as anomaly detector, its training on
// background events and a Predictor that reconstructs batches of events for evaluation.
//
// The model is configured with hyperparameters in a context.Context, see CreateDefaultContext.
package autoencoder

import (
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"github.com/thongonary/AnomalyTrigger/ui/plots"
	"k8s.io/klog/v2"
)

// Hyperparameters, stored in the context.
const (
	ParamBatchSize      = "batch_size"
	ParamNumEpochs      = "num_epochs"
	ParamTrainFraction  = "train_fraction"
	ParamLatentDim      = "latent_dim"
	ParamNumCheckpoints = "num_checkpoints"
	ParamShuffleSeed    = "shuffle_seed"

	// ParamFeatureWidth is set by Train to the width of the feature vectors, and is saved along the
	// checkpoint. It is used to validate the feature spec used with a trained model.
	ParamFeatureWidth = "feature_width"
)

// ParamsExcludedFromSaving are not saved in checkpoints, and can be changed when training is continued.
var ParamsExcludedFromSaving = []string{ParamBatchSize, ParamNumEpochs, ParamNumCheckpoints, ParamShuffleSeed}

// modelScope is the context scope holding the model variables.
const modelScope = "model"

// CreateDefaultContext returns a context with the default hyperparameters of the autoencoder.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		ParamBatchSize:      2000,
		ParamNumEpochs:      100,
		ParamTrainFraction:  0.8,
		ParamNumCheckpoints: 3,
		ParamShuffleSeed:    42,

		// latent_dim is the size of the bottleneck between encoder and decoder.
		ParamLatentDim: 4,

		// Encoder and decoder each use fnn with these settings.
		fnn.ParamNumHiddenLayers:    1,
		fnn.ParamNumHiddenNodes:     32,
		activations.ParamActivation: "relu",

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
	})
	return ctx
}

// ModelGraph implements train.ModelFn: it encodes inputs[0], shaped [batchSize, width], into latent_dim
// values and decodes them back to width values.
func ModelGraph(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
	x := inputs[0]
	if x.Rank() != 2 {
		exceptions.Panicf("autoencoder: input must be shaped [batch_size, width], got %s", x.Shape())
	}
	width := x.Shape().Dimensions[1]
	latentDim := context.GetParamOr(ctx, ParamLatentDim, 4)
	latent := fnn.New(ctx.In("encoder"), x, latentDim).Done()
	reconstructed := fnn.New(ctx.In("decoder"), latent, width).Done()
	return []*graph.Node{reconstructed}
}

// TrainOptions configure Train.
type TrainOptions struct {
	// CheckpointDir, if set, is where checkpoints and the training points are saved. If it already holds a
	// checkpoint, training continues from it.
	CheckpointDir string

	// TrainingCurvePath, if set, is where the SVG with the training curves is written at the end.
	TrainingCurvePath string

	// ProgressBar shows a progress bar on the terminal while training.
	ProgressBar bool
}

// Train the autoencoder on trainDS (inputs are also the labels), for num_epochs epochs, evaluating on validDS
// (if not nil) at the end of every epoch.
//
// It returns the training curve points.
func Train(backend backends.Backend, ctx *context.Context, trainDS, validDS *dataset.Dataset, opts TrainOptions) ([]plots.Point, error) {
	width := trainDS.Width()
	if validDS != nil && validDS.Width() != width {
		return nil, errors.Wrapf(features.ErrWidthMismatch, "train dataset width %d, validation dataset width %d",
			width, validDS.Width())
	}
	trainSize, err := trainDS.Size()
	if err != nil {
		return nil, err
	}
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 2000)
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 100)
	if batchSize <= 0 || numEpochs <= 0 {
		return nil, errors.Errorf("%s (%d) and %s (%d) must be > 0", ParamBatchSize, batchSize, ParamNumEpochs, numEpochs)
	}
	if trainSize == 0 {
		return nil, errors.Errorf("train dataset %q has no events", trainDS.Name())
	}

	var checkpoint *checkpoints.Handler
	if opts.CheckpointDir != "" {
		checkpoint, err = checkpoints.Build(ctx).
			Dir(opts.CheckpointDir).
			Keep(context.GetParamOr(ctx, ParamNumCheckpoints, 3)).
			ExcludeParams(ParamsExcludedFromSaving...).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "checkpoint in %q", opts.CheckpointDir)
		}
		klog.Infof("checkpointing model to %q", checkpoint.Dir())
	}
	if err := checkWidth(ctx, width); err != nil {
		return nil, err
	}
	ctx.SetParam(ParamFeatureWidth, width)

	modelCtx := ctx.In(modelScope)
	trainer := train.NewTrainer(backend, modelCtx, ModelGraph,
		losses.MeanSquaredError,
		optimizers.FromContext(modelCtx),
		nil, // trainMetrics: only the loss.
		nil) // evalMetrics: only the loss.
	if optimizers.GetGlobalStep(ctx) > 0 {
		trainer.SetContext(modelCtx.Reuse())
	}

	loop := train.NewLoop(trainer)
	if opts.ProgressBar {
		commandline.AttachProgressBar(loop)
	}
	stepsPerEpoch := (trainSize + batchSize - 1) / batchSize
	var pointsPath string
	if checkpoint != nil {
		train.EveryNSteps(loop, stepsPerEpoch, "checkpoint", 100, checkpoint.OnStepFn)
		pointsPath = filepath.Join(checkpoint.Dir(), plots.TrainingPlotFileName)
	}
	var evalDatasets []train.Dataset
	if validDS != nil {
		evalDatasets = append(evalDatasets, validDS.Batches(batchSize))
	}
	recorder := plots.AttachRecorder(loop, stepsPerEpoch, pointsPath, evalDatasets...)

	trainBatches := trainDS.Batches(batchSize).Shuffle(int64(context.GetParamOr(ctx, ParamShuffleSeed, 42)))
	_, err = loop.RunEpochs(trainBatches, numEpochs)
	closeErr := recorder.Close()
	if err != nil {
		return nil, errors.WithMessagef(err, "training on %q", trainDS.Name())
	}
	if closeErr != nil {
		return nil, closeErr
	}
	klog.Infof("trained %d epochs of %d steps, global step %d", numEpochs, stepsPerEpoch, trainer.GlobalStep())

	if checkpoint != nil {
		if err := checkpoint.Save(); err != nil {
			return nil, errors.WithMessagef(err, "saving final checkpoint to %q", checkpoint.Dir())
		}
	}
	points := recorder.Points()
	if opts.TrainingCurvePath != "" && len(points) > 0 {
		if err := plots.DrawTrainingCurve(opts.TrainingCurvePath, points); err != nil {
			return nil, err
		}
	}
	return points, nil
}

// LoadCheckpoint loads the model variables and hyperparameters saved in dir into ctx.
// It fails if there is no checkpoint in dir.
func LoadCheckpoint(ctx *context.Context, dir string) error {
	_, err := checkpoints.Load(ctx).Dir(dir).ExcludeParams(ParamsExcludedFromSaving...).Done()
	return errors.WithMessagef(err, "loading checkpoint from %q", dir)
}

// checkWidth verifies that the feature width saved in ctx (if any) matches width.
func checkWidth(ctx *context.Context, width int) error {
	saved := context.GetParamOr(ctx, ParamFeatureWidth, 0)
	if saved != 0 && saved != width {
		return errors.Wrapf(features.ErrWidthMismatch, "model was trained with feature width %d, features now have width %d",
			saved, width)
	}
	return nil
}

// Predictor reconstructs batches of events with a trained autoencoder. It implements evaluate.Model.
type Predictor struct {
	exec  *context.Exec
	width int
}

// NewPredictor creates a Predictor using the model variables in ctx (trained or loaded from a checkpoint).
// width is the feature width of the events to reconstruct: if it doesn't match the width the model was
// trained with, it returns an error wrapping features.ErrWidthMismatch.
func NewPredictor(backend backends.Backend, ctx *context.Context, width int) (*Predictor, error) {
	if err := checkWidth(ctx, width); err != nil {
		return nil, err
	}
	exec, err := context.NewExec(backend, ctx.In(modelScope).Reuse(),
		func(ctx *context.Context, x *graph.Node) *graph.Node {
			return ModelGraph(ctx, nil, []*graph.Node{x})[0]
		})
	if err != nil {
		return nil, errors.WithMessage(err, "creating autoencoder executor")
	}
	return &Predictor{exec: exec, width: width}, nil
}

// Reconstruct implements evaluate.Model.
func (p *Predictor) Reconstruct(batch []float32, numEvents, width int) ([]float32, error) {
	if width != p.width || len(batch) != numEvents*width {
		return nil, errors.Wrapf(features.ErrWidthMismatch, "batch of %d values for %d events of width %d, predictor width %d",
			len(batch), numEvents, width, p.width)
	}
	input := tensors.FromFlatDataAndDimensions(batch, numEvents, width)
	defer input.MustFinalizeAll()
	var output *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var execErr error
		output, execErr = p.exec.Exec1(input)
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "autoencoder failed to reconstruct batch")
	}
	defer output.MustFinalizeAll()
	return tensors.MustCopyFlatData[float32](output), nil
}
