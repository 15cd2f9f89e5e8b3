// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/thongonary/AnomalyTrigger/pkg/autoencoder"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/ui/plots"
	"k8s.io/klog/v2"
)

func newTrainCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the autoencoder on the background sample",
		Long: "Train the autoencoder on the background sample of the configuration, split in training and " +
			"validation events by train_fraction. Checkpoints are saved in checkpoint_dir, and training " +
			"continues from the last checkpoint if there is one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runTrain()
		},
	}
}

func (g *globalOptions) runTrain() error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	spec, err := cfg.FeatureSpec()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	background, found := reg.Background()
	if !found {
		return errors.New("no background sample configured to train on")
	}
	cache, closeCache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	ds, err := dataset.Open(background.Name, background.Files, cfg.TreeName, spec, nil, cache)
	if err != nil {
		return err
	}
	ctx, err := g.modelContext(cfg)
	if err != nil {
		return err
	}
	trainDS, validDS, err := ds.Split(cfg.TrainFraction)
	if err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()

	klog.Infof("training %q on %q with features %s", cfg.ModelName, background.Name, spec)
	points, err := autoencoder.Train(backend, ctx, trainDS, validDS, autoencoder.TrainOptions{
		CheckpointDir:     cfg.CheckpointDir,
		TrainingCurvePath: filepath.Join(cfg.OutputDir, cfg.ModelName+"_training.svg"),
		ProgressBar:       !g.quiet,
	})
	if err != nil {
		return err
	}
	g.printf("%s\n", plots.NewPoints(points).TableForMetrics())
	return nil
}
