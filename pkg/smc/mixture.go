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

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidMixtureWeight reports a mixture weight outside [0, 1].
var ErrInvalidMixtureWeight = errors.New("mixture weight must be in [0, 1]")

// MixtureDraw generates a Metropolis-Hastings candidate from a
// three-component Gaussian combination.
//
// Description:
//
//	Three Gaussian sampling contexts are built around the current particle:
//
//	  - full: mean p, covariance cov (adapts to local correlation)
//	  - diagonal: mean p, covariance restricted to the diagonal of cov
//	    (same marginal variances, zero cross-correlation; able to escape
//	    narrow, badly-scaled regions)
//	  - alternate: mean propMean with covariance cov when supplied (pulls
//	    draws toward a reference point such as the weighted posterior
//	    mean); without propMean it reuses the diagonal component's
//	    parameters, contributing a second independent diagonal draw
//
//	One independent standard-normal vector is drawn per component, each is
//	scaled by cc and its component's exact Cholesky square root, and the
//	result is the deterministic convex combination
//
//	  α·x_full + (1−α)/2·x_diag + (1−α)/2·x_alt
//
//	Note that this is a weighted sum of three independent draws, not a
//	categorical mixture that selects one component per sample. The
//	weighted-sum form is the intended proposal kernel; do not replace it
//	with stochastic component selection.
//
// Inputs:
//
//	p - Current particle, length n.
//	cov - n×n symmetric positive definite proposal covariance.
//	cc - Step-size scale, must be positive.
//	alpha - Weight of the full-covariance component, in [0, 1].
//	propMean - Optional alternate mean for the third component. nil means
//	  absent, in which case the third component falls back to the diagonal
//	  component's parameters (mean p, diagonal covariance).
//	rng - Random source; draws for the three components are independent.
//
// Outputs:
//
//	*mat.VecDense - The proposal, length n.
//	error - ErrInvalidMixtureWeight for alpha outside [0, 1]; non-nil for
//	  non-positive cc, dimension mismatch, or non-positive-definite cov.
func MixtureDraw(p *mat.VecDense, cov *mat.SymDense, cc, alpha float64, propMean *mat.VecDense, rng *rand.Rand) (*mat.VecDense, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidMixtureWeight, alpha)
	}
	if cc <= 0 {
		return nil, fmt.Errorf("proposal scale must be positive, got %v", cc)
	}
	n := p.Len()
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("covariance dimension %d does not match particle length %d", cov.SymmetricDim(), n)
	}
	if propMean != nil && propMean.Len() != n {
		return nil, fmt.Errorf("alternate mean length %d does not match particle length %d", propMean.Len(), n)
	}

	full, err := newCholeskyNormal(p, cov)
	if err != nil {
		return nil, fmt.Errorf("full-covariance component: %w", err)
	}

	diagCov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		diagCov.SetSym(i, i, cov.At(i, i))
	}
	diag, err := newCholeskyNormal(p, diagCov)
	if err != nil {
		return nil, fmt.Errorf("diagonal component: %w", err)
	}

	alt := diag
	if propMean != nil {
		alt, err = newCholeskyNormal(propMean, cov)
		if err != nil {
			return nil, fmt.Errorf("alternate-mean component: %w", err)
		}
	}

	xFull := full.ScaledRand(cc, rng)
	xDiag := diag.ScaledRand(cc, rng)
	xAlt := alt.ScaledRand(cc, rng)

	out := mat.NewVecDense(n, nil)
	out.ScaleVec(alpha, xFull)
	out.AddScaledVec(out, (1-alpha)/2, xDiag)
	out.AddScaledVec(out, (1-alpha)/2, xAlt)
	return out, nil
}
