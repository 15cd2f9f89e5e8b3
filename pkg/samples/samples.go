// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package samples defines the registry of named samples (background and signals): where their files
// are and how they are drawn.
package samples

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/colornames"
)

// BackgroundName is the name of the background sample, against which signals are compared.
const BackgroundName = "BG"

// Histogram drawing styles.
const (
	// HistBar draws a filled histogram.
	HistBar = "bar"

	// HistStep draws only the outline of the histogram.
	HistStep = "step"
)

// Entry describes one sample.
type Entry struct {
	// Name is the key of the sample.
	Name string

	// Files is a glob pattern of the ROOT files of the sample.
	Files string

	// Label used in plot legends.
	Label string

	// Color name: a single letter alias ("r", "g", "b", ...), a SVG color name or "#rrggbb".
	Color string

	// HistType is HistBar or HistStep.
	HistType string
}

// Registry of samples, in insertion order. It is immutable after creation.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// New creates a Registry with the given entries, validating them.
// Missing labels default to the name, and missing histogram types to HistStep.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make([]Entry, 0, len(entries)), index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, errors.New("sample with empty name")
		}
		if _, found := r.index[e.Name]; found {
			return nil, errors.Errorf("sample %q defined more than once", e.Name)
		}
		if e.Files == "" {
			return nil, errors.Errorf("sample %q has no files", e.Name)
		}
		if e.Label == "" {
			e.Label = e.Name
		}
		switch e.HistType {
		case "":
			e.HistType = HistStep
		case HistBar, HistStep:
		default:
			return nil, errors.Errorf("sample %q: invalid histogram type %q, valid values are %q and %q",
				e.Name, e.HistType, HistBar, HistStep)
		}
		if e.Color != "" {
			if _, err := ParseColor(e.Color); err != nil {
				return nil, errors.WithMessagef(err, "sample %q", e.Name)
			}
		}
		r.index[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Get returns the entry of the named sample.
func (r *Registry) Get(name string) (Entry, bool) {
	ii, found := r.index[name]
	if !found {
		return Entry{}, false
	}
	return r.entries[ii], true
}

// Entries returns a copy of all entries, in order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Names of the samples, in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for ii, e := range r.entries {
		names[ii] = e.Name
	}
	return names
}

// Background returns the background entry, if registered.
func (r *Registry) Background() (Entry, bool) {
	return r.Get(BackgroundName)
}

// Signals returns all entries except the background, in order.
func (r *Registry) Signals() []Entry {
	signals := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Name != BackgroundName {
			signals = append(signals, e)
		}
	}
	return signals
}

const (
	defaultBackgroundDir = "/eos/cms/store/group/cmst3/group/l1tr/cepeda/triggerntuples10X/NeutrinoGun_E_10GeV"
	defaultSignalDir     = "/eos/cms/store/user/dsperka"
)

// Default returns the registry with the Phase-2 L1 trigger ntuple samples: neutrino gun background
// and three Higgs signals.
func Default() *Registry {
	r, err := New(
		Entry{
			Name:     BackgroundName,
			Files:    defaultBackgroundDir + "/NeutrinoGun_E_10GeV_V7_5_2_MERGED.root",
			Label:    "BG",
			Color:    "yellow",
			HistType: HistBar,
		},
		Entry{
			Name:     "HtoInvisible",
			Files:    defaultSignalDir + "/VBF_HToInvisible_M125_14TeV_pythia8_PU200_V7_4_2.root",
			Label:    "HtoInvisible",
			Color:    "r",
			HistType: HistStep,
		},
		Entry{
			Name:     "VBFHToBB",
			Files:    defaultSignalDir + "/VBFHToBB_M-125_14TeV_powheg_pythia8_weightfix_V_7_5_2.root",
			Label:    "VBFHToBB",
			Color:    "g",
			HistType: HistStep,
		},
		Entry{
			Name:     "GluGlutoHHto4B",
			Files:    defaultSignalDir + "/GluGluToHHTo4B_node_SM_14TeV-madgraph_V7_5_2.root",
			Label:    "GluGlutoHHto4B",
			Color:    "b",
			HistType: HistStep,
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Single letter color aliases, as used by matplotlib.
var colorAliases = map[string]color.RGBA{
	"b": {R: 0, G: 0, B: 255, A: 255},
	"g": {R: 0, G: 128, B: 0, A: 255},
	"r": {R: 255, G: 0, B: 0, A: 255},
	"c": {R: 0, G: 191, B: 191, A: 255},
	"m": {R: 191, G: 0, B: 191, A: 255},
	"y": {R: 191, G: 191, B: 0, A: 255},
	"k": {R: 0, G: 0, B: 0, A: 255},
	"w": {R: 255, G: 255, B: 255, A: 255},
}

// ParseColor converts a color name to a color: single letter aliases ("r", "g", "b", "c", "m", "y",
// "k", "w"), SVG 1.1 color names ("yellow", "darkorange", ...) or hexadecimal "#rrggbb".
func ParseColor(name string) (color.RGBA, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if c, found := colorAliases[name]; found {
		return c, nil
	}
	if c, found := colornames.Map[name]; found {
		return c, nil
	}
	if hex, found := strings.CutPrefix(name, "#"); found && len(hex) == 6 {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err == nil {
			return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
		}
	}
	return color.RGBA{}, errors.Errorf("unknown color %q", name)
}

// ColorOf is like ParseColor, but returns black for unknown or empty colors.
func ColorOf(name string) color.RGBA {
	c, err := ParseColor(name)
	if err != nil {
		return colornames.Black
	}
	return c
}
