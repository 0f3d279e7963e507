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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093454835606594728112352797227949472756

// IncrementalWeight computes the per-period multiplicative weight update for
// one tempering transition.
//
// Description:
//
//	In the regular case the returned value is the incremental
//	tempered-likelihood ratio for a single time period between stages
//	phiOld and phiNew:
//
//	  (φn/φo)^(Ty/2) · exp(−½·eᵀ·(φn−φo)·EE⁻¹·e)
//
//	where e is the period's forecast error and Ty the number of observed
//	series. The caller combines this value across all time periods
//	(preferably in log space; see LogIncrementalWeight) to form the
//	full-sample incremental weight.
//
//	With initialize set, phiOld is meaningless and the returned value is
//	the proper normalized density used to bootstrap importance weights at
//	the very first stage: a zero-mean Gaussian with covariance EE/φn
//	evaluated at the forecast error,
//
//	  (φn/2π)^(Ty/2) · |EE|^(−½) · exp(−½·eᵀ·φn·EE⁻¹·e)
//
//	Pure function: no state, no side effects.
//
// Inputs:
//
//	phiNew - Current tempering exponent, must be positive.
//	phiOld - Previous tempering exponent; ignored when initialize is set,
//	  must be positive otherwise (the ratio form is undefined at zero).
//	yt - Observed data vector for the period; used only for its length Ty.
//	perror - Forecast/measurement error vector, length Ty.
//	ee - Ty×Ty measurement error covariance, positive definite.
//	initialize - Selects the bootstrap branch for the first stage.
//
// Outputs:
//
//	float64 - The scalar weight update.
//	error - Non-nil on dimension mismatch, non-positive exponents, or a
//	  covariance that is not positive definite.
func IncrementalWeight(phiNew, phiOld float64, yt, perror *mat.VecDense, ee *mat.SymDense, initialize bool) (float64, error) {
	logw, err := LogIncrementalWeight(phiNew, phiOld, yt, perror, ee, initialize)
	if err != nil {
		return 0, err
	}
	return math.Exp(logw), nil
}

// LogIncrementalWeight is the log-space form of IncrementalWeight. Use it
// when accumulating weights across many periods to avoid underflow.
func LogIncrementalWeight(phiNew, phiOld float64, yt, perror *mat.VecDense, ee *mat.SymDense, initialize bool) (float64, error) {
	if phiNew <= 0 {
		return 0, fmt.Errorf("tempering exponent must be positive, got %v", phiNew)
	}
	ty := yt.Len()
	if perror.Len() != ty {
		return 0, fmt.Errorf("forecast error length %d does not match observation length %d", perror.Len(), ty)
	}
	if ee.SymmetricDim() != ty {
		return 0, fmt.Errorf("measurement covariance dimension %d does not match observation length %d", ee.SymmetricDim(), ty)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ee); !ok {
		return 0, errors.New("measurement covariance is not positive definite")
	}

	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, perror); err != nil {
		return 0, fmt.Errorf("solve measurement covariance system: %w", err)
	}
	quad := mat.Dot(perror, &solved)

	if initialize {
		// Bootstrap branch: density of N(0, EE/φn) at the forecast error.
		return float64(ty)/2*(math.Log(phiNew)-log2Pi) - chol.LogDet()/2 - phiNew*quad/2, nil
	}

	if phiOld <= 0 {
		return 0, fmt.Errorf("previous tempering exponent must be positive, got %v", phiOld)
	}
	return float64(ty)/2*(math.Log(phiNew)-math.Log(phiOld)) - (phiNew-phiOld)*quad/2, nil
}
