// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the structural-model abstraction the SMC sampler
// estimates, plus a Gaussian AR(1) reference implementation.
//
// A model carries a settable parameter vector with a sampleable, evaluable
// prior, and evaluates the log-likelihood of a data matrix at the current
// parameters. The sampler never inspects model internals; everything flows
// through this interface.
package model

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Model is the structural model whose posterior the sampler estimates.
//
// # Data convention
//
// Data matrices are observed-series × periods: column t is the observation
// vector for period t. Prior sample matrices are parameters × draws:
// column i is draw i. Both match the sampler's particle-column convention.
//
// # Failure semantics
//
// SetParameters rejects vectors outside the parameter support.
// LogLikelihood may fail for numerically infeasible parameters even inside
// the support. Callers treat both as "this draw is infeasible", not as
// fatal errors.
//
// # Thread Safety
//
// Implementations are stateful (SetParameters then evaluate) and need not
// be safe for concurrent use. Parallel callers must work on Clone()d
// copies, one per goroutine.
type Model interface {
	// NParameters returns the length of the parameter vector.
	NParameters() int

	// ParameterNames returns the ordered parameter names.
	ParameterNames() []string

	// SamplePrior draws n independent parameter vectors from the prior,
	// one column per draw.
	SamplePrior(n int, rng *rand.Rand) *mat.Dense

	// SetParameters installs a parameter vector. Returns a non-nil error
	// if the vector lies outside the parameter support.
	SetParameters(theta []float64) error

	// Parameters returns a copy of the current parameter vector.
	Parameters() []float64

	// LogLikelihood evaluates the full-sample log-likelihood of data at
	// the current parameters.
	LogLikelihood(data *mat.Dense) (float64, error)

	// LogPrior evaluates the log prior density at the current parameters.
	LogPrior() (float64, error)

	// Clone returns an independent copy sharing no mutable state.
	Clone() Model
}

// ForecastErrorProvider is an optional model surface consumed by the
// sampler's per-period weight updates.
//
// Models that can express their likelihood through one-period forecast
// errors with a Gaussian measurement error expose the errors and the
// measurement covariance here; the sampler then combines the tempered
// per-period densities across periods instead of using the full-sample
// log-likelihood difference directly.
type ForecastErrorProvider interface {
	// ForecastErrors returns the one-period forecast errors at the current
	// parameters, observed-series × usable-periods. The columns align with
	// the trailing columns of data (leading periods consumed by lags or
	// state initialization produce no error column).
	ForecastErrors(data *mat.Dense) (*mat.Dense, error)

	// MeasurementCov returns the measurement error covariance EE at the
	// current parameters.
	MeasurementCov() *mat.SymDense
}
