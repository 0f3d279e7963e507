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
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/particula/pkg/model"
)

// MutationOptions configures the random-walk Metropolis-Hastings move
// applied to every particle at a tempering stage.
type MutationOptions struct {
	// Steps is the number of MH steps per particle. Default: 1.
	Steps int

	// Alpha is the mixture weight of the full-covariance proposal
	// component, in [0, 1]. Default: 1 (full-covariance only).
	Alpha float64

	// Scale is the proposal step-size scale c. Must be positive.
	Scale float64

	// PropMean is the optional alternate mean for the proposal's third
	// component, typically the cloud's weighted posterior mean. nil means
	// absent.
	PropMean *mat.VecDense

	// Workers caps the parallel mutation goroutines.
	// Default: GOMAXPROCS.
	Workers int

	// Seed seeds the per-particle random streams.
	Seed uint64
}

// Mutate applies Steps random-walk Metropolis-Hastings moves to each
// particle against the tempered posterior prior·likelihood^phi.
//
// Description:
//
//	Candidates come from MixtureDraw centered on the particle's current
//	position with the supplied proposal covariance. A candidate whose
//	evaluation fails (outside support, numerical failure) counts as a
//	rejection; an invalid mixture weight or a proposal covariance that is
//	not positive definite aborts the whole mutation. Accepted moves
//	update the particle's draw, log-likelihood, and log-posterior in
//	place, weights are untouched.
//
// Outputs:
//
//	float64 - Acceptance rate over all particles and steps.
//	error - Non-nil on invalid configuration or proposal failure.
func Mutate(ctx context.Context, m model.Model, data *mat.Dense, cloud *Cloud, phi float64, cov *mat.SymDense, opts MutationOptions) (float64, error) {
	if phi <= 0 {
		return 0, fmt.Errorf("tempering exponent must be positive, got %v", phi)
	}
	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	nParticles := cloud.NumParticles()
	nParams := cloud.NumParameters()

	// Fail fast on proposal configuration before spawning workers: a probe
	// draw exercises the same validation every worker would hit.
	probe := rand.New(rand.NewSource(opts.Seed))
	if _, err := MixtureDraw(mat.NewVecDense(nParams, cloud.Draw(0)), cov, opts.Scale, opts.Alpha, opts.PropMean, probe); err != nil {
		return 0, fmt.Errorf("proposal configuration: %w", err)
	}

	logLik := cloud.LogLikelihoods()
	logPost := cloud.LogPosteriors()

	var accepted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < nParticles; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(opts.Seed ^ (uint64(i+1) * 0x9e3779b97f4a7c15)))
			clone := m.Clone()

			draw := cloud.Draw(i)
			curLL := logLik[i]
			curPrior := logPost[i] - curLL

			for s := 0; s < steps; s++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				prop, err := MixtureDraw(mat.NewVecDense(nParams, draw), cov, opts.Scale, opts.Alpha, opts.PropMean, rng)
				if err != nil {
					return fmt.Errorf("particle %d proposal: %w", i, err)
				}
				cand := prop.RawVector().Data
				if err := clone.SetParameters(cand); err != nil {
					continue // out of support, reject
				}
				ll, err := clone.LogLikelihood(data)
				if err != nil {
					continue
				}
				lp, err := clone.LogPrior()
				if err != nil {
					continue
				}
				logRatio := (lp + phi*ll) - (curPrior + phi*curLL)
				if logRatio >= 0 || math.Log(rng.Float64()) < logRatio {
					copy(draw, cand)
					curLL = ll
					curPrior = lp
					accepted.Add(1)
				}
			}

			// Each worker owns exactly its particle's column and vector
			// entries; no two workers touch the same index.
			cloud.draws.SetCol(i, draw)
			logLik[i] = curLL
			logPost[i] = curPrior + curLL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return float64(accepted.Load()) / float64(nParticles*steps), nil
}

// conditionCovariance returns a positive definite version of cov, inflating
// the diagonal geometrically until Cholesky succeeds. The particle
// covariance can go numerically singular when the cloud concentrates.
func conditionCovariance(cov *mat.SymDense) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	var meanDiag float64
	for i := 0; i < n; i++ {
		meanDiag += cov.At(i, i)
	}
	meanDiag /= float64(n)
	if meanDiag <= 0 || math.IsNaN(meanDiag) {
		return nil, errors.New("particle covariance has a non-positive diagonal")
	}

	out := mat.NewSymDense(n, nil)
	out.CopySym(cov)
	jitter := meanDiag * 1e-10
	var chol mat.Cholesky
	for attempt := 0; attempt < 10; attempt++ {
		if chol.Factorize(out) {
			return out, nil
		}
		for i := 0; i < n; i++ {
			out.SetSym(i, i, out.At(i, i)+jitter)
		}
		jitter *= 10
	}
	return nil, errors.New("particle covariance could not be conditioned to positive definite")
}
