// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package cli implements the anomalytrigger command line: train, eval and concat.
package cli

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/thongonary/AnomalyTrigger/internal/fsutil"
	"github.com/thongonary/AnomalyTrigger/pkg/autoencoder"
	"github.com/thongonary/AnomalyTrigger/pkg/config"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"k8s.io/klog/v2"

	// Registers the available backends: XLA if available, and the pure Go one.
	_ "github.com/gomlx/gomlx/backends/default"
)

// globalOptions are the flags shared by all commands.
type globalOptions struct {
	configPath string
	envFile    string
	settings   string
	quiet      bool
	out        io.Writer
}

// NewRootCommand returns the anomalytrigger command with all its subcommands. Output tables are printed
// to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globalOptions{out: out}
	root := &cobra.Command{
		Use:           "anomalytrigger",
		Short:         "Autoencoder anomaly detection for the L1 trigger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			exists, err := fsutil.FileExists(g.envFile)
			if err != nil {
				return err
			}
			if !exists {
				if g.envFile != ".env" {
					return errors.Errorf("environment file %q not found", g.envFile)
				}
				return nil
			}
			if err := godotenv.Load(g.envFile); err != nil {
				return errors.Wrapf(err, "loading environment file %q", g.envFile)
			}
			klog.V(1).Infof("environment loaded from %q", g.envFile)
			return nil
		},
	}
	root.SetOut(out)
	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "YAML configuration file; ANOMALYTRIGGER_* environment variables override it")
	flags.StringVar(&g.envFile, "env", ".env", "file with environment variables to load, if it exists")
	flags.StringVar(&g.settings, "set", "", "hyperparameters of the model, e.g. \"latent_dim=8;fnn_num_hidden_nodes=64\"")
	flags.BoolVar(&g.quiet, "quiet", false, "don't show progress bars")

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	flags.AddGoFlagSet(klogFlags)

	root.AddCommand(newTrainCommand(g), newEvalCommand(g), newConcatCommand(g))
	return root
}

// Execute runs the command line with the process arguments, and returns the exit code.
func Execute() int {
	defer klog.Flush()
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		klog.Errorf("%+v", err)
		return 1
	}
	return 0
}

// loadConfig loads the configuration given by --config.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = filepath.Join(cfg.OutputDir, cfg.ModelName+"_checkpoint")
	}
	return cfg, nil
}

// modelContext creates the model context from the configuration and the --set hyperparameters.
func (g *globalOptions) modelContext(cfg *config.Config) (*context.Context, error) {
	ctx := autoencoder.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		autoencoder.ParamBatchSize:     cfg.BatchSize,
		autoencoder.ParamNumEpochs:     cfg.NumEpochs,
		autoencoder.ParamTrainFraction: cfg.TrainFraction,
		autoencoder.ParamLatentDim:     cfg.LatentDim,
		optimizers.ParamLearningRate:   cfg.LearningRate,
	})
	if _, err := commandline.ParseContextSettings(ctx, g.settings); err != nil {
		return nil, errors.WithMessagef(err, "parsing --set=%q", g.settings)
	}
	klog.V(1).Infof("hyperparameters:\n%s", commandline.SprintContextSettings(ctx))
	return ctx, nil
}

func newBackend() (backends.Backend, error) {
	backend, err := backends.New()
	if err != nil {
		return nil, errors.WithMessage(err, "creating backend")
	}
	klog.V(1).Infof("backend %q: %s", backend.Name(), backend.Description())
	return backend, nil
}

// newCache creates the events cache of the configuration, or nil if disabled. The returned function
// closes it and logs its statistics.
func newCache(cfg *config.Config) (*events.Cache, func(), error) {
	cache, err := cfg.NewCache()
	if err != nil || cache == nil {
		return nil, func() {}, err
	}
	return cache, func() {
		hits, misses := cache.Stats()
		klog.V(1).Infof("events cache: %d hits, %d misses", hits, misses)
		cache.Close()
	}, nil
}

func (g *globalOptions) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(g.out, format, args...)
}
