// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/evaluate"
	"github.com/thongonary/AnomalyTrigger/pkg/samples"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"k8s.io/klog/v2"
)

// Loss histogram binning: LossBinEdges evenly spaced edges over [LossMin, LossMax].
const (
	LossMin      = 0.0
	LossMax      = 30.0
	LossBinEdges = 60
)

// Figure size of all static plots.
const (
	FigureWidth  = 8 * vg.Inch
	FigureHeight = 6 * vg.Inch
)

// DensityHistogram bins values in the numEdges-1 bins defined by numEdges evenly spaced edges over [lo, hi].
// The result is normalized so its integral over the range is 1. Values outside the range are ignored.
func DensityHistogram(values []float64, lo, hi float64, numEdges int) []plotter.HistogramBin {
	dividers := make([]float64, numEdges)
	floats.Span(dividers, lo, hi)
	// Include hi in the last bin.
	dividers[numEdges-1] = math.Nextafter(hi, math.Inf(1))

	inRange := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lo && v <= hi {
			inRange = append(inRange, v)
		}
	}
	slices.Sort(inRange)
	counts := stat.Histogram(nil, dividers, inRange, nil)

	width := (hi - lo) / float64(numEdges-1)
	bins := make([]plotter.HistogramBin, len(counts))
	for ii, count := range counts {
		bins[ii] = plotter.HistogramBin{Min: dividers[ii], Max: dividers[ii] + width}
		if len(inRange) > 0 {
			bins[ii].Weight = count / (float64(len(inRange)) * width)
		}
	}
	return bins
}

// DrawLoss draws the histograms of the per-event losses of every sample in lm, with the styles of the
// registry, to "<modelName>_Loss.png" and "<modelName>_LogLoss.png" (log y-axis) in dir.
func DrawLoss(dir, modelName string, lm *evaluate.LossMap, reg *samples.Registry) error {
	if lm.Len() == 0 {
		return errors.New("DrawLoss: no samples to draw")
	}
	for _, logY := range []bool{false, true} {
		var numDrawn int
		p := plot.New()
		p.X.Label.Text = "Reconstruction Loss"
		p.Y.Label.Text = "Density"
		p.Legend.Top = true
		for _, name := range lm.Names() {
			r, _ := lm.Get(name)
			entry := entryOrDefault(reg, name)
			bins := DensityHistogram(r.EventLosses(), LossMin, LossMax, LossBinEdges)
			if logY && !slices.ContainsFunc(bins, func(b plotter.HistogramBin) bool { return b.Weight > 0 }) {
				klog.Warningf("sample %q has no events in the loss range, not drawn in log scale", name)
				continue
			}
			h := &plotter.Histogram{
				Bins:  bins,
				Width: (LossMax - LossMin) / (LossBinEdges - 1),
				LogY:  logY,
			}
			styleHistogram(h, entry)
			p.Add(h)
			p.Legend.Add(entry.Label, h)
			numDrawn++
		}
		if numDrawn == 0 {
			continue
		}
		p.X.Min, p.X.Max = -1, LossMax
		suffix := "_Loss.png"
		if logY {
			p.Y.Scale = plot.LogScale{}
			p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
			suffix = "_LogLoss.png"
		}
		if err := savePlot(p, filepath.Join(dir, modelName+suffix)); err != nil {
			return err
		}
	}
	return nil
}

func styleHistogram(h *plotter.Histogram, entry samples.Entry) {
	c := samples.ColorOf(entry.Color)
	h.LineStyle = draw.LineStyle{Color: c, Width: vg.Points(1.5)}
	if entry.HistType == samples.HistBar {
		h.FillColor = c
		h.LineStyle.Color = color.Black
		h.LineStyle.Width = vg.Points(0.5)
	}
}

// entryOrDefault returns the registry entry of the sample, or a default style if not registered.
func entryOrDefault(reg *samples.Registry, name string) samples.Entry {
	if reg != nil {
		if e, found := reg.Get(name); found {
			return e
		}
	}
	return samples.Entry{Name: name, Label: name, Color: "k", HistType: samples.HistStep}
}

func savePlot(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	if err := p.Save(FigureWidth, FigureHeight, path); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", path)
	}
	klog.V(1).Infof("saved %s", path)
	return nil
}

// legendLabel formats a curve label with its area under the curve.
func legendLabel(label string, auc float64) string {
	return fmt.Sprintf("%s (AUC = %0.2f)", label, auc)
}
