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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/particula/pkg/smc"
)

var (
	runsStorePath string

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Browse checkpointed estimation runs",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the run IDs in the store",
		RunE:  runRunsList,
	}
	runsStagesCmd = &cobra.Command{
		Use:   "stages [run-id]",
		Short: "List a run's checkpointed stages",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsStages,
	}
	runsShowCmd = &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print a run's stored result summary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
)

func init() {
	runsCmd.PersistentFlags().StringVar(&runsStorePath, "store", "", "run store directory (required)")
	runsCmd.MarkPersistentFlagRequired("store")
	runsCmd.AddCommand(runsListCmd, runsStagesCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := OpenStoreForRun(runsStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs in store")
		return nil
	}
	for _, id := range runs {
		stages, err := store.ListStages(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s  (%d checkpointed stages)\n", id, len(stages))
	}
	return nil
}

func runRunsStages(cmd *cobra.Command, args []string) error {
	store, err := OpenStoreForRun(runsStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	stages, err := store.ListStages(args[0])
	if err != nil {
		return err
	}
	for _, stage := range stages {
		var snap smc.Snapshot
		if err := store.LoadCheckpoint(args[0], stage, &snap); err != nil {
			return err
		}
		phi := 0.0
		if stage < len(snap.Schedule) {
			phi = snap.Schedule[stage]
		}
		fmt.Printf("stage %4d  phi=%.6f  ess=%8.1f  accept=%.3f  scale=%.4f\n",
			stage, phi, snap.ESS, snap.AcceptRate, snap.Scale)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := OpenStoreForRun(runsStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var result json.RawMessage
	if err := store.LoadResult(args[0], &result); err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(result, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
