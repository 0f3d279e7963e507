// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts persists the sampler's estimation artifacts: the
// posterior mode and Hessian used for Laplace-approximation initialization,
// and per-stage run checkpoints in an embedded BadgerDB store.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// ModeArtifact is the persisted posterior-mode approximation: the mode
// vector and the Hessian of the negative log-posterior at the mode.
//
// The JSON document uses the keys "params" and "hessian"; the Hessian is
// stored row-major.
type ModeArtifact struct {
	Params  []float64   `json:"params"`
	Hessian [][]float64 `json:"hessian"`
}

// Validate checks internal consistency: a square Hessian whose dimension
// matches the parameter vector.
func (a *ModeArtifact) Validate() error {
	n := len(a.Params)
	if n == 0 {
		return errors.New("mode artifact has an empty parameter vector")
	}
	if len(a.Hessian) != n {
		return fmt.Errorf("hessian has %d rows, want %d", len(a.Hessian), n)
	}
	for i, row := range a.Hessian {
		if len(row) != n {
			return fmt.Errorf("hessian row %d has %d columns, want %d", i, len(row), n)
		}
	}
	return nil
}

// HessianMatrix returns the Hessian as a symmetric matrix, averaging with
// its transpose to absorb round-trip asymmetry from serialization.
func (a *ModeArtifact) HessianMatrix() *mat.SymDense {
	n := len(a.Params)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (a.Hessian[i][j]+a.Hessian[j][i])/2)
		}
	}
	return out
}

// LoadMode reads a mode artifact from path.
//
// Description:
//
//	Absence or corruption of the artifact is a fatal condition for
//	mode-based initialization, so errors always identify the attempted
//	path. There is no fallback and no retry.
//
// Inputs:
//
//	path - Artifact file location.
//
// Outputs:
//
//	*ModeArtifact - The validated artifact.
//	error - Non-nil if the file is missing, unreadable, malformed, or
//	  internally inconsistent.
func LoadMode(path string) (*ModeArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mode artifact %s: %w", path, err)
	}
	var a ModeArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse mode artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mode artifact %s: %w", path, err)
	}
	return &a, nil
}

// SaveMode writes a mode artifact atomically (temp file plus rename).
func SaveMode(path string, a *ModeArtifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid mode artifact: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mode artifact: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".mode-*.json")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write mode artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install mode artifact %s: %w", path, err)
	}
	return nil
}
