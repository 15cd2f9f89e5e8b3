// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/roc"
	"github.com/thongonary/AnomalyTrigger/pkg/samples"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Zoomed ROC range: trigger rates up to ZoomMaxRateKHz.
const ZoomMaxRateKHz = 300.0

// ReferenceRatesKHz are the trigger rates at which AUCTable reports the signal efficiency.
var ReferenceRatesKHz = []float64{10, 100}

func rocPoints(c *roc.Curve) plotter.XYs {
	rates := c.TriggerRate()
	xys := make(plotter.XYs, len(rates))
	for ii := range rates {
		xys[ii].X = rates[ii]
		xys[ii].Y = c.TPR[ii]
	}
	return xys
}

// DrawROC draws the signal efficiency as a function of the trigger rate (kHz) for each curve, to
// "<modelName>_ROC.png" and, zoomed in rates up to ZoomMaxRateKHz with a grid, "<modelName>_ROCZoom.png".
func DrawROC(dir, modelName string, curves []*roc.Curve, reg *samples.Registry) error {
	if len(curves) == 0 {
		return errors.New("DrawROC: no ROC curves to draw")
	}
	for _, zoom := range []bool{false, true} {
		p := plot.New()
		p.X.Label.Text = "Rate (kHz)"
		p.Y.Label.Text = "Signal Efficiency"
		p.Legend.Top = true
		p.Legend.Left = zoom
		if zoom {
			p.Add(plotter.NewGrid())
		}
		for _, c := range curves {
			entry := entryOrDefault(reg, c.Sample)
			line, err := plotter.NewLine(rocPoints(c))
			if err != nil {
				return errors.Wrapf(err, "ROC curve of %q", c.Sample)
			}
			line.Color = samples.ColorOf(entry.Color)
			line.Width = vg.Points(2)
			p.Add(line)
			p.Legend.Add(legendLabel(entry.Label, c.AUC), line)
		}
		suffix := "_ROC.png"
		if zoom {
			p.X.Min, p.X.Max = 0, ZoomMaxRateKHz
			p.Y.Min, p.Y.Max = 0, 1
			suffix = "_ROCZoom.png"
		}
		if err := savePlot(p, filepath.Join(dir, modelName+suffix)); err != nil {
			return err
		}
	}
	return nil
}

// ROCFigure returns an interactive plotly figure with the ROC curves.
func ROCFigure(title string, curves []*roc.Curve, reg *samples.Registry) *grob.Fig {
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{Text: ptypes.S(title)},
			Xaxis: &grob.LayoutXaxis{
				Title:    &grob.LayoutXaxisTitle{Text: ptypes.S("Rate (kHz)")},
				Showgrid: ptypes.B(true),
				Type:     grob.LayoutXaxisTypeLog,
			},
			Yaxis: &grob.LayoutYaxis{
				Title:    &grob.LayoutYaxisTitle{Text: ptypes.S("Signal Efficiency")},
				Showgrid: ptypes.B(true),
			},
		},
	}
	for _, c := range curves {
		entry := entryOrDefault(reg, c.Sample)
		col := samples.ColorOf(entry.Color)
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(legendLabel(entry.Label, c.AUC)),
			Mode: "lines",
			Line: &grob.ScatterLine{
				Shape: grob.ScatterLineShapeLinear,
				Color: ptypes.C(fmt.Sprintf("#%02x%02x%02x", col.R, col.G, col.B)),
			},
			X: ptypes.DataArray(c.TriggerRate()),
			Y: ptypes.DataArray(c.TPR),
		})
	}
	return fig
}

var rocPageTemplate = template.Must(template.New("roc").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://cdn.plot.ly/plotly-2.34.0.min.js"></script>
</head>
<body>
<div id="roc" style="width:100%;height:90vh;"></div>
<script>
const fig = {{.Figure}};
Plotly.newPlot("roc", fig.data, fig.layout);
</script>
</body>
</html>
`))

// WriteROCFigure writes the ROC curves as a standalone interactive HTML page, using plotly.js.
func WriteROCFigure(path, title string, curves []*roc.Curve, reg *samples.Registry) error {
	figJSON, err := json.Marshal(ROCFigure(title, curves, reg))
	if err != nil {
		return errors.Wrap(err, "failed to encode ROC figure")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	err = rocPageTemplate.Execute(f, struct {
		Title  string
		Figure template.JS
	}{title, template.JS(figJSON)})
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

// AUCTable returns a table with the AUC of each curve, and the signal efficiency at ReferenceRatesKHz.
func AUCTable(curves []*roc.Curve) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	headers := []string{"Sample", "AUC"}
	for _, rate := range ReferenceRatesKHz {
		headers = append(headers, fmt.Sprintf("Eff@%gkHz", rate))
	}
	table.Headers(headers...)
	for _, c := range curves {
		row := []string{c.Sample, fmt.Sprintf("%.4f", c.AUC)}
		for _, rate := range ReferenceRatesKHz {
			row = append(row, fmt.Sprintf("%.4f", c.EfficiencyAtRate(rate)))
		}
		table.Row(row...)
	}
	return table.String()
}
