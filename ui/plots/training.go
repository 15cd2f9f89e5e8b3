// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
)

// Size of the training curve SVG, in pixels.
const (
	TrainingCurveWidth  = 800
	TrainingCurveHeight = 500
)

// TrainingCurveSVG renders the points of the given metric type ("loss" if empty) as a SVG line plot,
// one line per metric name, as a function of the epoch. Points are plotted in step order.
func TrainingCurveSVG(points []Point, metricType string) ([]byte, error) {
	if metricType == "" {
		metricType = "loss"
	}
	selected := NewPoints(points)
	selected.Filter(func(p Point) bool { return p.MetricType == metricType })
	perName := make(map[string]*mg.Series)
	var names []string
	allPoints := mg.NewSeries()
	for _, p := range selected.Extract() {
		s, found := perName[p.MetricName]
		if !found {
			s = mg.NewSeries(mg.Titled(p.MetricName))
			perName[p.MetricName] = s
			names = append(names, p.MetricName)
		}
		v := mg.MakeValue(float64(p.Epoch), p.Value)
		s.Add(v)
		allPoints.Add(v)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no training points of type %q to plot", metricType)
	}
	allSeries := make([]*mg.Series, len(names))
	for ii, name := range names {
		allSeries[ii] = perName[name]
	}
	diagram := mg.New(TrainingCurveWidth, TrainingCurveHeight,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 4, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("Training %s", metricType))
	diagram.Legend(mg.BottomLeft)

	buf := bytes.NewBuffer(nil)
	if err := diagram.Render(buf); err != nil {
		return nil, errors.Wrapf(err, "failed to render training curve of %q", metricType)
	}
	return buf.Bytes(), nil
}

// DrawTrainingCurve writes the loss training curve as a SVG file.
func DrawTrainingCurve(path string, points []Point) error {
	svg, err := TrainingCurveSVG(points, "loss")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	return errors.Wrapf(os.WriteFile(path, svg, 0o644), "failed to write training curve %q", path)
}
