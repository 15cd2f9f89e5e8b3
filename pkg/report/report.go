// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package report saves the results of an evaluation run: per-event losses as Parquet, the full loss and
// reconstruction arrays as NumPy .npz, and a per-sample summary as CSV.
//
// Every report is tagged with a random run id, written in every row and file.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/dataset"
	"github.com/thongonary/AnomalyTrigger/pkg/evaluate"
	"github.com/thongonary/AnomalyTrigger/pkg/roc"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Report of one evaluation run.
type Report struct {
	RunID     uuid.UUID
	ModelName string
	Losses    *evaluate.LossMap
	Curves    []*roc.Curve

	// Masks holds the cut mask applied to each sample, if any.
	Masks map[string]*dataset.CutMask
}

// New creates a report with a new random run id. masks and curves may be nil.
func New(modelName string, lm *evaluate.LossMap, curves []*roc.Curve, masks map[string]*dataset.CutMask) *Report {
	return &Report{
		RunID:     uuid.New(),
		ModelName: modelName,
		Losses:    lm,
		Curves:    curves,
		Masks:     masks,
	}
}

// LossRow is one event in the Parquet losses file.
type LossRow struct {
	RunID    string  `parquet:"run_id,dict,snappy"`
	Sample   string  `parquet:"sample,dict,snappy"`
	Event    int64   `parquet:"event,snappy"`
	Loss     float64 `parquet:"loss,snappy"`
	Selected bool    `parquet:"selected"`
}

// LossRows returns one row per event of every sample, in loss map order.
func (r *Report) LossRows() []LossRow {
	var rows []LossRow
	runID := r.RunID.String()
	for _, name := range r.Losses.Names() {
		result, _ := r.Losses.Get(name)
		mask := r.Masks[name]
		for ii, loss := range result.EventLosses() {
			rows = append(rows, LossRow{
				RunID:    runID,
				Sample:   name,
				Event:    int64(ii),
				Loss:     loss,
				Selected: mask == nil || mask.Selected(ii),
			})
		}
	}
	return rows
}

// WriteLossesParquet writes the LossRows to a Parquet file.
func (r *Report) WriteLossesParquet(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	writer := parquet.NewGenericWriter[LossRow](f)
	if _, err = writer.Write(r.LossRows()); err == nil {
		err = writer.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "failed to write losses to %q", path)
}

// ReadLossesParquet reads back a file written by WriteLossesParquet.
func ReadLossesParquet(path string) ([]LossRow, error) {
	rows, err := parquet.ReadFile[LossRow](path)
	return rows, errors.Wrapf(err, "failed to read losses from %q", path)
}

// WriteLossesNpz writes, for each sample, the arrays "<sample>_losses" and "<sample>_outputs" shaped
// [num_events, width] and "<sample>_event_losses" shaped [num_events].
func (r *Report) WriteLossesNpz(path string) error {
	arrays := make(map[string]*tensors.Tensor)
	defer func() {
		for _, t := range arrays {
			t.MustFinalizeAll()
		}
	}()
	for _, name := range r.Losses.Names() {
		result, _ := r.Losses.Get(name)
		if result.NumEvents == 0 {
			klog.Warningf("sample %q has no events, not saved to %q", name, path)
			continue
		}
		arrays[name+"_losses"] = tensors.FromFlatDataAndDimensions(result.Losses, result.NumEvents, result.Width)
		arrays[name+"_outputs"] = tensors.FromFlatDataAndDimensions(result.Outputs, result.NumEvents, result.Width)
		arrays[name+"_event_losses"] = tensors.FromFlatDataAndDimensions(result.EventLosses(), result.NumEvents)
	}
	return errors.WithMessagef(numpy.ToNpzFile(arrays, path), "writing losses to %q", path)
}

// Summary returns a data frame with one row per sample: number of events, number of events selected,
// mean event loss and AUC (NaN for samples without a ROC curve, e.g. the background).
func (r *Report) Summary() dataframe.DataFrame {
	names := r.Losses.Names()
	numEvents := make([]int, len(names))
	numSelected := make([]int, len(names))
	meanLoss := make([]float64, len(names))
	auc := make([]float64, len(names))
	aucBySample := make(map[string]float64, len(r.Curves))
	for _, c := range r.Curves {
		aucBySample[c.Sample] = c.AUC
	}
	for ii, name := range names {
		result, _ := r.Losses.Get(name)
		numEvents[ii] = result.NumEvents
		numSelected[ii] = result.NumEvents
		if mask := r.Masks[name]; mask != nil {
			numSelected[ii] = mask.NumSelected()
		}
		meanLoss[ii] = math.NaN()
		if result.NumEvents > 0 {
			meanLoss[ii] = stat.Mean(result.EventLosses(), nil)
		}
		var found bool
		if auc[ii], found = aucBySample[name]; !found {
			auc[ii] = math.NaN()
		}
	}
	runIDs := make([]string, len(names))
	for ii := range runIDs {
		runIDs[ii] = r.RunID.String()
	}
	return dataframe.New(
		series.New(runIDs, series.String, "run_id"),
		series.New(names, series.String, "sample"),
		series.New(numEvents, series.Int, "events"),
		series.New(numSelected, series.Int, "selected"),
		series.New(meanLoss, series.Float, "mean_loss"),
		series.New(auc, series.Float, "auc"),
	)
}

// WriteSummaryCSV writes the Summary to a CSV file.
func (r *Report) WriteSummaryCSV(path string) error {
	df := r.Summary()
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build summary")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	err = df.WriteCSV(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "failed to write summary to %q", path)
}

// WriteAll writes "<model>_losses.parquet", "<model>_losses.npz" and "<model>_summary.csv" to dir,
// and returns their paths.
func (r *Report) WriteAll(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create report directory %q", dir)
	}
	writers := []struct {
		suffix string
		write  func(string) error
	}{
		{"_losses.parquet", r.WriteLossesParquet},
		{"_losses.npz", r.WriteLossesNpz},
		{"_summary.csv", r.WriteSummaryCSV},
	}
	paths := make([]string, 0, len(writers))
	for _, w := range writers {
		path := filepath.Join(dir, r.ModelName+w.suffix)
		if err := w.write(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	klog.V(1).Infof("report %s: %v", r.RunID, paths)
	return paths, nil
}

func (r *Report) String() string {
	return fmt.Sprintf("report %s of %q: %d samples", r.RunID, r.ModelName, r.Losses.Len())
}
