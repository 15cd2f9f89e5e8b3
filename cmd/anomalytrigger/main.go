// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// anomalytrigger trains and evaluates an autoencoder to select anomalous events at the L1 trigger.
//
//	anomalytrigger train --config config.yaml
//	anomalytrigger eval --config config.yaml --cut
//	anomalytrigger concat --input dir --output particles.npy
package main

import (
	"os"

	"github.com/thongonary/AnomalyTrigger/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
