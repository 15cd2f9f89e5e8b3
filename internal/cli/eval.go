// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/thongonary/AnomalyTrigger/pkg/autoencoder"
	"github.com/thongonary/AnomalyTrigger/pkg/config"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/evaluate"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"github.com/thongonary/AnomalyTrigger/pkg/report"
	"github.com/thongonary/AnomalyTrigger/pkg/roc"
	"github.com/thongonary/AnomalyTrigger/pkg/samples"
	"github.com/thongonary/AnomalyTrigger/ui/plots"
	"k8s.io/klog/v2"
)

func newEvalCommand(g *globalOptions) *cobra.Command {
	var cut bool
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the trained autoencoder on every sample, and draw the losses and ROC curves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runEval(cut)
		},
	}
	cmd.Flags().BoolVar(&cut, "cut", false, "zero the losses of events not passing the configured cut")
	return cmd
}

func (g *globalOptions) runEval(cut bool) error {
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
	var filter dataset.Filter
	if cut {
		if filter = cfg.CutFilter(); filter == nil {
			return errors.New("--cut requires a cut configured (cut.field)")
		}
	}
	cache, closeCache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	ctx, err := g.modelContext(cfg)
	if err != nil {
		return err
	}
	if err := autoencoder.LoadCheckpoint(ctx, cfg.CheckpointDir); err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()
	predictor, err := autoencoder.NewPredictor(backend, ctx, spec.Width())
	if err != nil {
		return err
	}

	lm, masks, err := evaluateSamples(predictor, cfg, spec, reg, filter, cache)
	if err != nil {
		return err
	}
	background, _ := reg.Background()
	curves, err := roc.FromLossMap(lm, background.Name)
	if err != nil {
		return err
	}

	if err := plots.DrawLoss(cfg.OutputDir, cfg.ModelName, lm, reg); err != nil {
		return err
	}
	if err := plots.DrawROC(cfg.OutputDir, cfg.ModelName, curves, reg); err != nil {
		return err
	}
	htmlPath := filepath.Join(cfg.OutputDir, cfg.ModelName+"_ROC.html")
	if err := plots.WriteROCFigure(htmlPath, cfg.ModelName, curves, reg); err != nil {
		return err
	}
	rep := report.New(cfg.ModelName, lm, curves, masks)
	if _, err := rep.WriteAll(cfg.OutputDir); err != nil {
		return err
	}
	klog.Infof("%s written to %q", rep, cfg.OutputDir)
	g.printf("%s\n", plots.AUCTable(curves))
	return nil
}

// evaluateSamples runs the predictor over every sample of the registry, in order.
func evaluateSamples(predictor evaluate.Model, cfg *config.Config, spec *features.Spec, reg *samples.Registry,
	filter dataset.Filter, cache *events.Cache) (*evaluate.LossMap, map[string]*dataset.CutMask, error) {
	lm := evaluate.NewLossMap()
	masks := make(map[string]*dataset.CutMask)
	for _, entry := range reg.Entries() {
		ds, err := dataset.Open(entry.Name, entry.Files, cfg.TreeName, spec, nil, cache)
		if err != nil {
			return nil, nil, err
		}
		opts := evaluate.Options{Sample: entry.Name, BatchSize: cfg.BatchSize}
		if filter != nil {
			if opts.Mask, err = ds.CutMask(filter); err != nil {
				return nil, nil, errors.WithMessagef(err, "cut on sample %q", entry.Name)
			}
			masks[entry.Name] = opts.Mask
			klog.Infof("sample %q: %d of %d events pass the cut", entry.Name, opts.Mask.NumSelected(), opts.Mask.NumEvents)
		}
		result, err := evaluate.Run(predictor, ds, opts)
		if err != nil {
			return nil, nil, err
		}
		lm.Set(result)
	}
	return lm, masks, nil
}
