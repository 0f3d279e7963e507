// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package smc implements the numerical kernels of a Sequential Monte Carlo
// sampler for Bayesian estimation of structural time-series models.
//
// The sampler maintains a weighted population of parameter draws (a particle
// cloud) and moves it through a sequence of tempered posteriors
// φ₀ < φ₁ < ... < 1, where φ gradually turns on the likelihood's influence
// relative to the prior. Each stage performs three phases:
//
//   - Correction: reweight particles by the incremental tempered likelihood
//   - Selection: resample when the effective sample size degenerates
//   - Mutation: move each particle with random-walk Metropolis-Hastings
//
// The package provides the particle cloud, the degenerate multivariate
// normal used for Laplace-approximation initialization, the three-component
// Gaussian proposal used by mutation, the tempering density used for weight
// updates, and the stage driver that ties them together.
package smc

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// hessianEigenTolerance is the eigenvalue threshold below which a direction
// of the Hessian is treated as numerically flat (unidentified). Such
// directions contribute zero sampling spread.
const hessianEigenTolerance = 1e-6

// DegenerateMvNormal is a multivariate normal distribution that supports a
// singular or rank-deficient covariance.
//
// Description:
//
//	The distribution is parameterized by a mean vector μ and a
//	square-root-of-covariance factor σ, such that a sample is μ + σ·z for
//	a standard normal vector z. σ need not be full rank: flat directions
//	simply receive zero spread, so every draw lies on the affine subspace
//	μ + range(σ).
//
// Thread Safety: Immutable after construction; safe for concurrent reads.
// Rand and RandBatch are only as safe as the *rand.Rand passed to them.
type DegenerateMvNormal struct {
	mu    *mat.VecDense
	sigma *mat.Dense
}

// NewDegenerateMvNormal builds a distribution from a mean and an
// already-reduced square-root factor.
//
// Inputs:
//
//	mu - Mean vector, length n.
//	sigma - n×n square-root factor; the covariance is sigma·sigmaᵀ.
//
// Outputs:
//
//	*DegenerateMvNormal - The distribution.
//	error - Non-nil on dimension mismatch.
func NewDegenerateMvNormal(mu *mat.VecDense, sigma *mat.Dense) (*DegenerateMvNormal, error) {
	if mu == nil || sigma == nil {
		return nil, errors.New("mean and square-root factor must not be nil")
	}
	r, c := sigma.Dims()
	if r != c {
		return nil, fmt.Errorf("square-root factor must be square, got %dx%d", r, c)
	}
	if mu.Len() != r {
		return nil, fmt.Errorf("mean length %d does not match factor dimension %d", mu.Len(), r)
	}
	return &DegenerateMvNormal{
		mu:    mat.VecDenseCopyOf(mu),
		sigma: mat.DenseCopyOf(sigma),
	}, nil
}

// NewLaplaceApproximation builds the sampling distribution of a Laplace
// (mode plus curvature) approximation to a posterior.
//
// Description:
//
//	Given the posterior mode and the Hessian of the negative log-posterior
//	at that mode, the covariance of the approximation is the inverse
//	Hessian. Near-singular curvature is handled by eigendecomposing the
//	Hessian, discarding eigenvalues at or below 1e-6, and inverting only
//	the retained ones. The resulting factor is a pseudo-square-root:
//	σ = U·sqrt(S⁻), where S⁻ carries reciprocals of the retained
//	eigenvalues and zeros elsewhere. Directions of flat curvature get zero
//	sampling spread rather than infinite variance.
//
//	If no eigenvalue exceeds the threshold, σ is the zero matrix and every
//	draw collapses to the mode exactly. That is a valid, if degenerate,
//	outcome and is not an error.
//
// Inputs:
//
//	mode - Posterior mode vector, length n.
//	hessian - n×n symmetric Hessian of the negative log-posterior.
//
// Outputs:
//
//	*DegenerateMvNormal - Distribution centered on the mode.
//	error - Non-nil on dimension mismatch or eigendecomposition failure.
func NewLaplaceApproximation(mode []float64, hessian *mat.SymDense) (*DegenerateMvNormal, error) {
	if hessian == nil {
		return nil, errors.New("hessian must not be nil")
	}
	n := hessian.SymmetricDim()
	if len(mode) != n {
		return nil, fmt.Errorf("mode length %d does not match hessian dimension %d", len(mode), n)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(hessian, true); !ok {
		return nil, errors.New("hessian eigendecomposition failed")
	}

	// Eigenvalues come back in ascending order, so the retained (largest)
	// ones occupy the last rank positions.
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	sqrtSInv := mat.NewDense(n, n, nil)
	for i, v := range vals {
		if v > hessianEigenTolerance {
			sqrtSInv.Set(i, i, math.Sqrt(1/v))
		}
	}

	sigma := mat.NewDense(n, n, nil)
	sigma.Mul(&vecs, sqrtSInv)

	return NewDegenerateMvNormal(mat.NewVecDense(n, mode), sigma)
}

// newCholeskyNormal builds a distribution whose factor is the exact lower
// Cholesky root of a positive definite covariance. Used by the mixture
// proposal, which requires a non-pseudo-inverse square root.
func newCholeskyNormal(mu *mat.VecDense, cov *mat.SymDense) (*DegenerateMvNormal, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.New("covariance is not positive definite")
	}
	n := cov.SymmetricDim()
	lower := mat.NewTriDense(n, mat.Lower, nil)
	chol.LTo(lower)

	sigma := mat.NewDense(n, n, nil)
	sigma.Copy(lower)
	return NewDegenerateMvNormal(mu, sigma)
}

// Dim returns the dimension of the distribution.
func (d *DegenerateMvNormal) Dim() int {
	return d.mu.Len()
}

// Mean returns a copy of the mean vector.
func (d *DegenerateMvNormal) Mean() []float64 {
	out := make([]float64, d.mu.Len())
	copy(out, d.mu.RawVector().Data)
	return out
}

// SigmaFactor returns a copy of the square-root-of-covariance factor σ.
// The covariance matrix is σ·σᵀ.
func (d *DegenerateMvNormal) SigmaFactor() *mat.Dense {
	out := mat.NewDense(d.Dim(), d.Dim(), nil)
	out.Copy(d.sigma)
	return out
}

// Rand draws a single sample μ + σ·z using the provided random source.
//
// Inputs:
//
//	rng - Random source; must not be nil.
//
// Outputs:
//
//	*mat.VecDense - The draw, length Dim().
func (d *DegenerateMvNormal) Rand(rng *rand.Rand) *mat.VecDense {
	n := d.Dim()
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, rng.NormFloat64())
	}

	out := mat.NewVecDense(n, nil)
	out.MulVec(d.sigma, z)
	out.AddVec(out, d.mu)
	return out
}

// RandBatch draws m independent samples into an n×m matrix, one column per
// draw. Column order is the draw order.
func (d *DegenerateMvNormal) RandBatch(m int, rng *rand.Rand) *mat.Dense {
	n := d.Dim()
	out := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		draw := d.Rand(rng)
		out.SetCol(j, draw.RawVector().Data)
	}
	return out
}

// ScaledRand draws μ + scale·σ·z, the form used by proposal generation
// where a step-size scale multiplies the square-root factor.
func (d *DegenerateMvNormal) ScaledRand(scale float64, rng *rand.Rand) *mat.VecDense {
	n := d.Dim()
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, rng.NormFloat64())
	}

	out := mat.NewVecDense(n, nil)
	out.MulVec(d.sigma, z)
	out.ScaleVec(scale, out)
	out.AddVec(out, d.mu)
	return out
}
