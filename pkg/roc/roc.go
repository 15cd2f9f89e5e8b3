// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package roc computes receiver operating characteristic curves of anomaly scores (per-event
// reconstruction losses), separating a signal sample from the background.
//
// The false positive rate is the fraction of background events triggered, which, scaled by the
// collision rate, is the trigger rate.
package roc

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/evaluate"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// CollisionRateKHz is the LHC bunch crossing rate of 40MHz, in kHz.
const CollisionRateKHz = 40 * 1000

// Curve is the ROC curve of one signal sample against the background.
type Curve struct {
	Sample string

	// FPR (background efficiency) and TPR (signal efficiency) for each threshold. FPR is non-decreasing.
	FPR, TPR, Thresholds []float64

	// AUC is the area under the curve.
	AUC float64
}

// Compute the ROC curve of the signal scores against the background scores: events with scores
// above the threshold are selected.
func Compute(sample string, background, signal []float64) (*Curve, error) {
	if len(background) == 0 || len(signal) == 0 {
		return nil, errors.Errorf("ROC of %q requires background and signal events, got %d and %d",
			sample, len(background), len(signal))
	}
	scores := make([]float64, 0, len(background)+len(signal))
	scores = append(scores, background...)
	scores = append(scores, signal...)
	classes := make([]bool, len(scores))
	for ii := len(background); ii < len(classes); ii++ {
		classes[ii] = true
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, thresholds := stat.ROC(nil, scores, classes, nil)
	return &Curve{
		Sample:     sample,
		FPR:        fpr,
		TPR:        tpr,
		Thresholds: thresholds,
		AUC:        integrate.Trapezoidal(fpr, tpr),
	}, nil
}

// TriggerRate returns the trigger rate, in kHz, for each point of the curve.
func (c *Curve) TriggerRate() []float64 {
	rates := slices.Clone(c.FPR)
	for ii := range rates {
		rates[ii] *= CollisionRateKHz
	}
	return rates
}

// EfficiencyAtRate returns the signal efficiency at the largest trigger rate (kHz) not above rateKHz.
func (c *Curve) EfficiencyAtRate(rateKHz float64) float64 {
	var eff float64
	for ii, fpr := range c.FPR {
		if fpr*CollisionRateKHz > rateKHz {
			break
		}
		eff = c.TPR[ii]
	}
	return eff
}

// FromLossMap computes one curve per non-background sample of the loss map, in its order, using the
// per-event losses as scores.
func FromLossMap(lm *evaluate.LossMap, background string) ([]*Curve, error) {
	bg, found := lm.Get(background)
	if !found {
		return nil, errors.Errorf("background sample %q not in the loss map (samples: %v)", background, lm.Names())
	}
	bgLosses := bg.EventLosses()
	var curves []*Curve
	for _, name := range lm.Names() {
		if name == background {
			continue
		}
		sig, _ := lm.Get(name)
		curve, err := Compute(name, bgLosses, sig.EventLosses())
		if err != nil {
			return nil, err
		}
		curves = append(curves, curve)
	}
	return curves, nil
}
