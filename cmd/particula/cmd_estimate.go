// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/particula/pkg/artifacts"
	"github.com/AleutianAI/particula/pkg/smc"
)

var (
	estimateScenarioPath string
	estimateOutputPath   string
	estimateRunID        string

	estimateCmd = &cobra.Command{
		Use:   "estimate",
		Short: "Run an SMC estimation described by a scenario file",
		Long: `Loads the scenario, reads the observation data, and runs the
full tempered-posterior sequence. Stage diagnostics stream to the log;
the posterior summary prints to stdout and can be written to JSON.`,
		RunE: runEstimate,
	}
)

func init() {
	estimateCmd.Flags().StringVarP(&estimateScenarioPath, "scenario", "s", "", "scenario YAML file (required)")
	estimateCmd.Flags().StringVarP(&estimateOutputPath, "output", "o", "", "write the result summary JSON to this file")
	estimateCmd.Flags().StringVar(&estimateRunID, "run-id", "", "override the generated run identifier")
	estimateCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(estimateCmd)
}

// newRunID builds the run identifier: {scenario}_{uuid8}_{timestamp}.
func newRunID(scenario string) string {
	return fmt.Sprintf("%s_%s_%s", scenario, uuid.NewString()[:8], time.Now().Format("20060102T150405"))
}

// validateRunID rejects identifiers that would collide with the run store's
// slash-delimited key scheme.
func validateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run identifier must not be empty")
	}
	if strings.ContainsRune(id, '/') {
		return fmt.Errorf("run identifier %q must not contain '/'", id)
	}
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	sc, err := LoadScenario(estimateScenarioPath)
	if err != nil {
		return err
	}
	m, err := sc.BuildModel()
	if err != nil {
		return err
	}
	data, err := sc.LoadData()
	if err != nil {
		return err
	}
	series, periods := data.Dims()

	runID := estimateRunID
	if runID == "" {
		runID = newRunID(sc.Name)
	}
	if err := validateRunID(runID); err != nil {
		return err
	}
	runLogger := logger.With("run_id", runID)
	runLogger.Info("estimation starting",
		"scenario", sc.Name,
		"model", sc.Model,
		"series", series,
		"periods", periods,
		"particles", sc.Sampler.Particles,
		"stages", sc.Sampler.Stages,
	)

	opts := []smc.Option{
		smc.WithRunID(runID),
		smc.WithReporter(smc.LogReporter{Logger: runLogger}),
	}

	var store *artifacts.RunStore
	if sc.StorePath != "" {
		store, err = OpenStoreForRun(sc.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, smc.WithCheckpoint(func(stage int, snap *smc.Snapshot) error {
			return store.SaveCheckpoint(runID, stage, snap)
		}))
	}

	sampler, err := smc.New(m, sc.Sampler, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := sampler.Run(ctx, data)
	if err != nil {
		runLogger.Error("estimation failed", "error", err)
		return err
	}
	runLogger.Info("estimation finished",
		"duration", result.Duration.Round(time.Millisecond).String(),
		"resamples", result.Resamples,
	)

	if store != nil {
		if err := store.SaveResult(runID, result); err != nil {
			return err
		}
	}

	printResult(result)

	if estimateOutputPath != "" {
		doc, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if err := os.WriteFile(estimateOutputPath, append(doc, '\n'), 0640); err != nil {
			return fmt.Errorf("write result %s: %w", estimateOutputPath, err)
		}
		fmt.Printf("\nresult written to %s\n", estimateOutputPath)
	}
	return nil
}

// OpenStoreForRun opens the scenario's run store with the CLI logger wired
// into BadgerDB's internal logging.
func OpenStoreForRun(path string) (*artifacts.RunStore, error) {
	cfg := artifacts.DefaultStoreConfig(path)
	if logger != nil {
		cfg.Logger = logger.Slog()
	}
	return artifacts.OpenStore(cfg)
}

func printResult(result *smc.Result) {
	fmt.Printf("run %s\n\n", result.RunID)
	fmt.Printf("%-14s %12s %12s\n", "parameter", "mean", "std")
	for i, name := range result.ParameterNames {
		fmt.Printf("%-14s %12.6f %12.6f\n", name, result.PosteriorMean[i], result.PosteriorStd[i])
	}
	fmt.Printf("\nstages %d, resamples %d, final ESS %.1f, elapsed %s\n",
		len(result.ESSPath), result.Resamples,
		result.ESSPath[len(result.ESSPath)-1],
		result.Duration.Round(time.Millisecond))
}
