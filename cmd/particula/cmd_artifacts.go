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
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/particula/pkg/artifacts"
)

var (
	artifactsCmd = &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect and validate mode artifacts",
	}
	artifactsValidateCmd = &cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a mode artifact is well-formed",
		Args:  cobra.ExactArgs(1),
		RunE:  runArtifactsValidate,
	}
	artifactsInspectCmd = &cobra.Command{
		Use:   "inspect [path]",
		Short: "Print a mode artifact's parameters and curvature summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runArtifactsInspect,
	}
)

func init() {
	artifactsCmd.AddCommand(artifactsValidateCmd, artifactsInspectCmd)
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifactsValidate(cmd *cobra.Command, args []string) error {
	art, err := artifacts.LoadMode(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid mode artifact, %d parameters\n", args[0], len(art.Params))
	return nil
}

func runArtifactsInspect(cmd *cobra.Command, args []string) error {
	art, err := artifacts.LoadMode(args[0])
	if err != nil {
		return err
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(art.HessianMatrix(), false); !ok {
		return fmt.Errorf("hessian eigendecomposition failed for %s", args[0])
	}
	vals := eig.Values(nil)

	fmt.Printf("mode artifact %s\n\n", args[0])
	fmt.Printf("%-6s %14s\n", "index", "mode")
	for i, v := range art.Params {
		fmt.Printf("%-6d %14.6f\n", i, v)
	}
	fmt.Printf("\nhessian eigenvalues (ascending):\n")
	flat := 0
	for _, v := range vals {
		fmt.Printf("  %.6e\n", v)
		if v <= 1e-6 {
			flat++
		}
	}
	if flat > 0 {
		fmt.Printf("\n%d flat direction(s): initialization will pin them to the mode\n", flat)
	}
	return nil
}
