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
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/particula/pkg/model"
	"github.com/AleutianAI/particula/pkg/smc"
)

// Scenario is the on-disk description of an estimation run: which model,
// which priors, which data file, and the sampler settings.
type Scenario struct {
	// Name labels the run in logs and the run store.
	Name string `yaml:"name" validate:"required"`

	// Model selects the structural model. Currently "ar1".
	Model string `yaml:"model" validate:"required,oneof=ar1"`

	// AR1 holds the AR(1) prior hyperparameters. Omitted fields use the
	// defaults.
	AR1 *model.AR1Config `yaml:"ar1,omitempty"`

	// DataPath locates the observation CSV: one row per period, one
	// column per observed series, optional header row.
	DataPath string `yaml:"data" validate:"required"`

	// Sampler holds the SMC settings. Omitted fields use the defaults.
	Sampler smc.Settings `yaml:"sampler"`

	// StorePath enables run checkpointing to an embedded store at this
	// directory.
	StorePath string `yaml:"store,omitempty"`
}

var scenarioValidator = validator.New()

// LoadScenario reads and validates a scenario file, filling unset sampler
// fields from DefaultSettings.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	sc := &Scenario{Sampler: smc.DefaultSettings()}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := scenarioValidator.Struct(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	if err := sc.Sampler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler settings in %s: %w", path, err)
	}
	return sc, nil
}

// BuildModel constructs the scenario's structural model.
func (sc *Scenario) BuildModel() (model.Model, error) {
	switch sc.Model {
	case "ar1":
		cfg := model.DefaultAR1Config()
		if sc.AR1 != nil {
			cfg = *sc.AR1
		}
		return model.NewAR1(cfg)
	default:
		return nil, fmt.Errorf("unknown model %q", sc.Model)
	}
}

// LoadData reads the scenario's observation CSV into a series × periods
// matrix. Rows are periods in the file; the matrix is transposed so that
// column t holds period t.
func (sc *Scenario) LoadData() (*mat.Dense, error) {
	return loadCSVData(sc.DataPath)
}

func loadCSVData(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse data file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}

	// Skip a header row if the first field is not numeric.
	start := 0
	if _, err := strconv.ParseFloat(records[0][0], 64); err != nil {
		start = 1
	}
	periods := len(records) - start
	if periods < 2 {
		return nil, fmt.Errorf("data file %s has %d usable periods, need at least 2", path, periods)
	}
	series := len(records[start])

	out := mat.NewDense(series, periods, nil)
	for t := 0; t < periods; t++ {
		row := records[start+t]
		if len(row) != series {
			return nil, fmt.Errorf("data file %s row %d has %d fields, want %d", path, start+t+1, len(row), series)
		}
		for s := 0; s < series; s++ {
			v, err := strconv.ParseFloat(row[s], 64)
			if err != nil {
				return nil, fmt.Errorf("data file %s row %d field %d: %w", path, start+t+1, s+1, err)
			}
			out.Set(s, t, v)
		}
	}
	return out, nil
}
