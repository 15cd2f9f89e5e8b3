// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/thongonary/AnomalyTrigger/internal/hdf5"
	"github.com/thongonary/AnomalyTrigger/pkg/concat"
)

// arrayReader used by the concat command.
var arrayReader concat.ArrayReader = hdf5.Reader{}

func newConcatCommand(g *globalOptions) *cobra.Command {
	var flagsCfg concat.Config
	cmd := &cobra.Command{
		Use:   "concat",
		Short: "Concatenate a dataset of many HDF5 files into one float16 .npy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			concatCfg := concat.Config{
				InputDir:    cfg.Concat.InputDir,
				Pattern:     cfg.Concat.Pattern,
				Field:       cfg.Concat.Field,
				Output:      cfg.Concat.Output,
				Parallelism: cfg.Concat.Parallelism,
				ProgressBar: !g.quiet,
			}
			flags := cmd.Flags()
			if flags.Changed("input") {
				concatCfg.InputDir = flagsCfg.InputDir
			}
			if flags.Changed("pattern") {
				concatCfg.Pattern = flagsCfg.Pattern
			}
			if flags.Changed("field") {
				concatCfg.Field = flagsCfg.Field
			}
			if flags.Changed("output") {
				concatCfg.Output = flagsCfg.Output
			}
			if flags.Changed("parallelism") {
				concatCfg.Parallelism = flagsCfg.Parallelism
			}
			summary, err := concat.Run(concatCfg, arrayReader)
			if err != nil {
				return err
			}
			g.printf("Saved %s files, shape %v, to %s\n",
				humanize.Comma(int64(len(summary.Files))), summary.Dims, summary.Output)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&flagsCfg.InputDir, "input", "", "directory with the HDF5 files (default concat.input_dir)")
	flags.StringVar(&flagsCfg.Pattern, "pattern", concat.DefaultPattern, "pattern of the files to concatenate")
	flags.StringVar(&flagsCfg.Field, "field", concat.DefaultField, "dataset to read from each file")
	flags.StringVar(&flagsCfg.Output, "output", "", "output .npy file (default concat.output)")
	flags.IntVar(&flagsCfg.Parallelism, "parallelism", 0, "number of files read at the same time, 0 for the number of CPUs")
	return cmd
}
