// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package plots draws the anomaly detection results to image files: reconstruction loss histograms,
// ROC curves (static PNG and interactive HTML) and training curves.
//
// It also defines Point and Points, the training curve values collected while training and saved
// along the checkpoints.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the file name within a checkpoint directory where training points are saved.
const TrainingPlotFileName = "training_plot_points.json"

// Point of a training curve.
type Point struct {
	// MetricName of this point, e.g.: "Train: Moving Average Loss".
	MetricName string

	// Short name, used in tables.
	Short string

	// MetricType groups metrics drawn in the same plot, typically "loss".
	MetricType string

	// Step is the global training step when the metric was measured.
	Step float64

	// Epoch when the metric was measured, starting from 1.
	Epoch int

	// Value of the metric.
	Value float64
}

// Recorder collects training curve points at the end of every epoch of a train.Loop, and optionally
// saves them to a file.
type Recorder struct {
	points        []Point
	evalDatasets  []train.Dataset
	stepsPerEpoch int
	pointWriter   chan<- Point
	errReport     <-chan error
}

// AttachRecorder attaches a Recorder to the loop. stepsPerEpoch is the number of batches in an epoch.
// At the end of each epoch, it records the training metrics and the evaluation metrics on evalDatasets.
//
// If filePath is not empty, points are also appended to it: call Close at the end of training.
func AttachRecorder(loop *train.Loop, stepsPerEpoch int, filePath string, evalDatasets ...train.Dataset) *Recorder {
	r := &Recorder{evalDatasets: evalDatasets, stepsPerEpoch: max(stepsPerEpoch, 1)}
	if filePath != "" {
		r.pointWriter, r.errReport = CreatePointsWriter(filePath)
	}
	loop.OnStep("plots.Recorder", 200, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		stepInRun := loop.LoopStep - loop.StartStep + 1
		if stepInRun%r.stepsPerEpoch != 0 {
			return nil
		}
		return r.record(loop, stepInRun/r.stepsPerEpoch, metrics)
	})
	return r
}

func (r *Recorder) record(loop *train.Loop, epoch int, trainMetrics []*tensors.Tensor) error {
	step := float64(loop.Trainer.GlobalStep())
	for ii, desc := range loop.Trainer.TrainMetrics() {
		if desc.Name() == "Batch Loss" {
			// Too noisy: the trainer also reports the moving average.
			continue
		}
		r.add(Point{
			MetricName: "Train: " + desc.Name(),
			Short:      "T/" + desc.ShortName(),
			MetricType: desc.MetricType(),
			Step:       step,
			Epoch:      epoch,
			Value:      metricValue(trainMetrics[ii]),
		})
	}
	for _, ds := range r.evalDatasets {
		evalMetrics, err := loop.Trainer.Eval(ds)
		ds.Reset()
		if err != nil {
			return errors.WithMessagef(err, "evaluating %q at the end of epoch %d", ds.Name(), epoch)
		}
		for ii, desc := range loop.Trainer.EvalMetrics() {
			r.add(Point{
				MetricName: fmt.Sprintf("%s on %s", desc.Name(), ds.Name()),
				Short:      fmt.Sprintf("%s(%s)", desc.ShortName(), ds.Name()),
				MetricType: desc.MetricType(),
				Step:       step,
				Epoch:      epoch,
				Value:      metricValue(evalMetrics[ii]),
			})
		}
	}
	return nil
}

func (r *Recorder) add(p Point) {
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		klog.Warningf("skipping invalid training point %q=%g at step %g", p.MetricName, p.Value, p.Step)
		return
	}
	r.points = append(r.points, p)
	if r.pointWriter != nil {
		r.pointWriter <- p
	}
}

// Points returns the points recorded so far.
func (r *Recorder) Points() []Point { return slices.Clone(r.points) }

// Close the points file, if one is being written, and reports any error writing it.
func (r *Recorder) Close() error {
	if r.pointWriter == nil {
		return nil
	}
	close(r.pointWriter)
	r.pointWriter = nil
	return <-r.errReport
}

// metricValue converts a scalar metric tensor to float64.
func metricValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return math.NaN()
	}
}

// LoadPointsFromCheckpoint loads the points saved during training in TrainingPlotFileName
// in a checkpoint directory.
func LoadPointsFromCheckpoint(checkpointDir string) ([]Point, error) {
	return LoadPoints(filepath.Join(checkpointDir, TrainingPlotFileName))
}

// LoadPoints parses all points saved in the given file (one JSON object per line).
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read training points file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding training points file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter creates a channel to append Point values to the given file.
// The errReport channel reports an error (or nil) once pointWriter is closed.
// If any error occurs, it stops writing.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	errChan := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open training points file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		var enc *json.Encoder
		if f != nil {
			enc = json.NewEncoder(f)
		}
		for point := range pointChan {
			if err != nil {
				continue // Drain the channel.
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to encode point %v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return pointChan, errChan
}

// Points organizes Point values by their Step.
type Points map[float64][]Point

// NewPoints creates a Points from individual points.
func NewPoints(rawPoints []Point) Points {
	points := make(Points)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Steps returns the steps with points, sorted.
func (points Points) Steps() []float64 {
	return slices.Sorted(maps.Keys(points))
}

// Map executes fn on all points, in Step order.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range points.Steps() {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Filter keeps only the points for which fn returns true.
func (points Points) Filter(fn func(p Point) bool) {
	for _, step := range points.Steps() {
		kept := slices.DeleteFunc(points[step], func(p Point) bool { return !fn(p) })
		if len(kept) == 0 {
			delete(points, step)
		} else {
			points[step] = kept
		}
	}
}

// Extract converts back to a list of points, sorted by Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// MetricsNames returns the metric names present, sorted by type and then by name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := slices.Sorted(maps.Keys(nameToType))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// TableForMetrics returns a table with the Step in the first column, followed by one column per metric.
// If metrics is empty, all metrics are included.
func (points Points) TableForMetrics(metrics ...string) string {
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
	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	table.Headers(append([]string{"Step"}, metrics...)...)
	for _, step := range points.Steps() {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			if idx := slices.Index(metrics, pt.MetricName); idx != -1 {
				row[idx+1] = fmt.Sprintf("%f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
