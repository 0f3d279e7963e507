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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestIncrementalWeight_EqualExponentsGiveExactlyOne(t *testing.T) {
	yt := mat.NewVecDense(2, []float64{1, 2})
	perror := mat.NewVecDense(2, []float64{0.3, -0.7})
	ee := mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1})

	for _, phi := range []float64{0.1, 0.5, 1} {
		w, err := IncrementalWeight(phi, phi, yt, perror, ee, false)
		require.NoError(t, err)
		assert.Equal(t, 1.0, w, "phi=%v", phi)

		lw, err := LogIncrementalWeight(phi, phi, yt, perror, ee, false)
		require.NoError(t, err)
		assert.Equal(t, 0.0, lw)
	}
}

func TestIncrementalWeight_RegularBranchClosedForm(t *testing.T) {
	// Scalar case: (φn/φo)^(1/2) · exp(−½·e²·(φn−φo)/v).
	e, v := 0.8, 2.0
	phiNew, phiOld := 0.6, 0.2
	yt := mat.NewVecDense(1, []float64{1})
	perror := mat.NewVecDense(1, []float64{e})
	ee := mat.NewSymDense(1, []float64{v})

	w, err := IncrementalWeight(phiNew, phiOld, yt, perror, ee, false)
	require.NoError(t, err)

	want := math.Sqrt(phiNew/phiOld) * math.Exp(-0.5*e*e*(phiNew-phiOld)/v)
	assert.InDelta(t, want, w, 1e-14)
}

func TestIncrementalWeight_InitializeBranchIsNormalizedDensity(t *testing.T) {
	// With EE = I and φ = 1 the bootstrap weight is the standard bivariate
	// normal density at the forecast error.
	yt := mat.NewVecDense(2, []float64{0, 0})
	perror := mat.NewVecDense(2, []float64{0.5, -1.2})
	ee := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	w, err := IncrementalWeight(1, 0, yt, perror, ee, true)
	require.NoError(t, err)

	norm := 0.5*0.5 + 1.2*1.2
	want := math.Exp(-norm/2) / (2 * math.Pi)
	assert.InDelta(t, want, w, 1e-14)
}

func TestIncrementalWeight_InitializeBranchScalesWithPhi(t *testing.T) {
	// N(0, EE/φ) at e, scalar: sqrt(φ/(2πv))·exp(−φe²/(2v)).
	e, v, phi := 1.1, 3.0, 0.25
	yt := mat.NewVecDense(1, []float64{0})
	perror := mat.NewVecDense(1, []float64{e})
	ee := mat.NewSymDense(1, []float64{v})

	w, err := IncrementalWeight(phi, 0, yt, perror, ee, true)
	require.NoError(t, err)

	want := math.Sqrt(phi/(2*math.Pi*v)) * math.Exp(-phi*e*e/(2*v))
	assert.InDelta(t, want, w, 1e-14)
}

func TestIncrementalWeight_InputValidation(t *testing.T) {
	yt := mat.NewVecDense(1, []float64{0})
	perror := mat.NewVecDense(1, []float64{0.5})
	ee := mat.NewSymDense(1, []float64{1})

	_, err := IncrementalWeight(0, 0.1, yt, perror, ee, false)
	assert.Error(t, err, "phiNew must be positive")

	_, err = IncrementalWeight(0.5, 0, yt, perror, ee, false)
	assert.Error(t, err, "regular branch needs positive phiOld")

	_, err = IncrementalWeight(0.5, 0.1, yt, mat.NewVecDense(2, nil), ee, false)
	assert.Error(t, err, "length mismatch")

	_, err = IncrementalWeight(0.5, 0.1, yt, perror, mat.NewSymDense(2, nil), false)
	assert.Error(t, err, "covariance dimension mismatch")

	bad := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	_, err = IncrementalWeight(0.5, 0.1, mat.NewVecDense(2, nil), mat.NewVecDense(2, nil), bad, false)
	assert.Error(t, err, "indefinite covariance")
}

func TestLogIncrementalWeight_MonotoneInErrorMagnitude(t *testing.T) {
	// Raising the exponent penalizes large errors: the weight must shrink
	// as the forecast error grows.
	yt := mat.NewVecDense(1, []float64{0})
	ee := mat.NewSymDense(1, []float64{1})

	small, err := LogIncrementalWeight(0.6, 0.2, yt, mat.NewVecDense(1, []float64{0.1}), ee, false)
	require.NoError(t, err)
	large, err := LogIncrementalWeight(0.6, 0.2, yt, mat.NewVecDense(1, []float64{2}), ee, false)
	require.NoError(t, err)
	assert.Greater(t, small, large)
}
