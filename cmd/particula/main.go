// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command particula estimates Bayesian structural time-series models with
// a Sequential Monte Carlo sampler.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/particula/pkg/logging"
)

var (
	logger *logging.Logger

	verbose bool
	quiet   bool
	logDir  string

	rootCmd = &cobra.Command{
		Use:   "particula",
		Short: "Sequential Monte Carlo estimation for structural time-series models",
		Long: `Particula estimates the posterior distribution of structural
time-series model parameters by moving a weighted particle population
through a tempered posterior sequence: correction, selection, mutation.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress console logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{
			Level:   level,
			LogDir:  logDir,
			Service: "particula",
			Quiet:   quiet,
		})
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	}
}
