// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package smc

import (
	"time"

	"github.com/AleutianAI/particula/pkg/logging"
)

// StageReport is the per-stage diagnostic summary handed to reporters.
type StageReport struct {
	RunID      string
	Stage      int
	NStages    int
	Phi        float64
	ESS        float64
	AcceptRate float64
	Scale      float64
	Resampled  bool
	Resamples  int
	Duration   time.Duration
}

// StageReporter receives stage diagnostics from the driver. The driver
// holds no global console state; all reporting flows through injected
// reporters.
type StageReporter interface {
	ReportStage(r StageReport)
}

// LogReporter writes stage diagnostics through the structured logger.
type LogReporter struct {
	Logger *logging.Logger
}

// ReportStage implements StageReporter.
func (lr LogReporter) ReportStage(r StageReport) {
	lr.Logger.Info("tempering stage complete",
		"run_id", r.RunID,
		"stage", r.Stage,
		"n_stages", r.NStages,
		"phi", r.Phi,
		"ess", r.ESS,
		"accept_rate", r.AcceptRate,
		"scale", r.Scale,
		"resampled", r.Resampled,
		"resamples", r.Resamples,
		"duration_ms", r.Duration.Milliseconds(),
	)
}
