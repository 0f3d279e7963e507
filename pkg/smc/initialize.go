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
	"runtime"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/particula/pkg/artifacts"
	"github.com/AleutianAI/particula/pkg/model"
)

// DrawSource selects where the initial particle population is drawn from.
type DrawSource string

const (
	// DrawSourcePrior samples the initial population from the model prior.
	DrawSourcePrior DrawSource = "prior"

	// DrawSourceLaplace samples from a Laplace approximation built from a
	// persisted posterior mode and Hessian.
	DrawSourceLaplace DrawSource = "normal"
)

// ErrInitRetriesExhausted reports that a particle could not produce a
// feasible draw within the configured retry limit.
var ErrInitRetriesExhausted = errors.New("initial draw retries exhausted")

// defaultMaxInitRetries bounds the per-particle repair loop. A draw source
// whose support barely intersects the feasible region should fail loudly,
// not hang.
const defaultMaxInitRetries = 1000

// InitialDrawOptions configures cloud initialization.
type InitialDrawOptions struct {
	// Source selects prior or Laplace-approximation sampling.
	// Default: DrawSourcePrior.
	Source DrawSource

	// ModeArtifactPath locates the persisted mode/Hessian artifact.
	// Required when Source is DrawSourceLaplace; ignored otherwise.
	ModeArtifactPath string

	// MaxRetries bounds the per-particle resample-on-infeasible loop.
	// Default: 1000.
	MaxRetries int

	// Workers caps the parallel evaluation goroutines.
	// Default: GOMAXPROCS.
	Workers int

	// Seed seeds the random sources. Each particle gets an independent
	// stream derived from it, so results are reproducible regardless of
	// worker scheduling.
	Seed uint64
}

// InitialDraw populates the cloud's first-stage particle population.
//
// Description:
//
//	Draws an n_particles-wide batch from the configured source, then
//	evaluates each draw independently: install the parameters in a model
//	clone, evaluate log-likelihood and log-prior. A draw that fails
//	evaluation (outside support, numerical failure) is discarded and
//	replaced by a fresh draw from the same source, up to MaxRetries
//	attempts per particle. Accepted draws, log-likelihoods, and
//	log-posteriors are written into the cloud in bulk, column/entry i
//	corresponding to particle i.
//
//	A missing or unreadable mode artifact is fatal and is reported, with
//	the attempted path, before any particle work begins; the cloud is
//	left untouched. The cloud is also left untouched when any particle
//	exhausts its retry limit.
//
//	Per-particle work runs in parallel with one model clone and one
//	random stream per particle, so evaluation failures and retries in one
//	particle never perturb another particle's draws.
//
// Inputs:
//
//	ctx - Cancels outstanding particle evaluation.
//	m - The structural model; cloned per worker, never mutated directly.
//	data - Observed data matrix, series × periods.
//	cloud - The cloud to populate in place.
//	opts - See InitialDrawOptions.
//
// Outputs:
//
//	error - Non-nil on artifact failure, retry exhaustion, dimension
//	  mismatch, or context cancellation.
func InitialDraw(ctx context.Context, m model.Model, data *mat.Dense, cloud *Cloud, opts InitialDrawOptions) error {
	nParams := m.NParameters()
	nParticles := cloud.NumParticles()
	if cloud.NumParameters() != nParams {
		return fmt.Errorf("cloud has %d parameters, model has %d", cloud.NumParameters(), nParams)
	}

	source := opts.Source
	if source == "" {
		source = DrawSourcePrior
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxInitRetries
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Resolve the draw source up front: artifact problems must surface
	// before any particle evaluation.
	var laplace *DegenerateMvNormal
	switch source {
	case DrawSourcePrior:
	case DrawSourceLaplace:
		art, err := artifacts.LoadMode(opts.ModeArtifactPath)
		if err != nil {
			return err
		}
		if len(art.Params) != nParams {
			return fmt.Errorf("mode artifact %s has %d parameters, model has %d", opts.ModeArtifactPath, len(art.Params), nParams)
		}
		laplace, err = NewLaplaceApproximation(art.Params, art.HessianMatrix())
		if err != nil {
			return fmt.Errorf("build Laplace approximation from %s: %w", opts.ModeArtifactPath, err)
		}
	default:
		return fmt.Errorf("unknown draw source %q", source)
	}

	drawOne := func(rng *rand.Rand, mm model.Model, dst []float64) {
		if laplace != nil {
			copy(dst, laplace.Rand(rng).RawVector().Data)
			return
		}
		batch := mm.SamplePrior(1, rng)
		mat.Col(dst, 0, batch)
	}

	// Scratch buffers; installed into the cloud only after every particle
	// succeeds.
	draws := mat.NewDense(nParams, nParticles, nil)
	logLik := make([]float64, nParticles)
	logPost := make([]float64, nParticles)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < nParticles; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(opts.Seed + uint64(i)*2654435761))
			clone := m.Clone()
			draw := make([]float64, nParams)
			for attempt := 0; attempt < maxRetries; attempt++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				drawOne(rng, clone, draw)
				if err := clone.SetParameters(draw); err != nil {
					continue
				}
				ll, err := clone.LogLikelihood(data)
				if err != nil {
					continue
				}
				lp, err := clone.LogPrior()
				if err != nil {
					continue
				}
				draws.SetCol(i, draw)
				logLik[i] = ll
				logPost[i] = lp + ll
				return nil
			}
			return fmt.Errorf("no feasible draw for particle %d after %d attempts: %w", i, maxRetries, ErrInitRetriesExhausted)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := cloud.SetDraws(draws); err != nil {
		return err
	}
	if err := cloud.SetLogLikelihoods(logLik); err != nil {
		return err
	}
	return cloud.SetLogPosteriors(logPost)
}
