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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Particle is one weighted parameter draw of the cloud.
type Particle struct {
	// Draw is the ordered parameter vector.
	Draw []float64

	// LogLikelihood is the full-sample log-likelihood at Draw.
	LogLikelihood float64

	// LogPosterior is the log prior plus log likelihood at Draw.
	LogPosterior float64

	// Weight is the particle's importance weight, normalized to mean one
	// across the cloud.
	Weight float64
}

// Cloud is an ordered population of particles plus the stage metadata the
// driver maintains across tempering transitions.
//
// Description:
//
//	Draws are stored as an n_params × n_particles matrix: column i holds
//	particle i's parameter vector. Bulk setters preserve that positional
//	correspondence, and so do the log-likelihood, log-posterior, and
//	weight vectors.
//
// Thread Safety: Not safe for concurrent mutation. The driver owns the
// cloud and mutates it from a single goroutine; parallel workers write into
// scratch buffers that are installed in bulk.
type Cloud struct {
	// Stage is the index of the current tempering stage.
	Stage int

	// NStages is the total number of tempering stages.
	NStages int

	// Schedule is the ordered tempering schedule φ₀..φ_NStages.
	Schedule []float64

	// Scale is the current proposal step-size scale c.
	Scale float64

	// AcceptRate is the latest mutation acceptance rate.
	AcceptRate float64

	// ESS is the latest effective sample size.
	ESS float64

	// Resamples counts resampling events so far.
	Resamples int

	draws   *mat.Dense
	logLik  []float64
	logPost []float64
	weights []float64

	nParams    int
	nParticles int
}

// NewCloud allocates a cloud for nParams parameters and nParticles
// particles. Weights start at one (mean-one convention).
func NewCloud(nParams, nParticles int) (*Cloud, error) {
	if nParams <= 0 || nParticles <= 0 {
		return nil, fmt.Errorf("cloud dimensions must be positive, got %d params, %d particles", nParams, nParticles)
	}
	c := &Cloud{
		draws:      mat.NewDense(nParams, nParticles, nil),
		logLik:     make([]float64, nParticles),
		logPost:    make([]float64, nParticles),
		weights:    make([]float64, nParticles),
		nParams:    nParams,
		nParticles: nParticles,
	}
	for i := range c.weights {
		c.weights[i] = 1
	}
	return c, nil
}

// NumParameters returns the parameter dimension.
func (c *Cloud) NumParameters() int { return c.nParams }

// NumParticles returns the particle count.
func (c *Cloud) NumParticles() int { return c.nParticles }

// Draws returns the n_params × n_particles draws matrix. The matrix is the
// cloud's own storage; callers must not resize it.
func (c *Cloud) Draws() *mat.Dense { return c.draws }

// Draw returns a copy of particle i's parameter vector.
func (c *Cloud) Draw(i int) []float64 {
	out := make([]float64, c.nParams)
	mat.Col(out, i, c.draws)
	return out
}

// Particle returns a snapshot of particle i.
func (c *Cloud) Particle(i int) Particle {
	return Particle{
		Draw:          c.Draw(i),
		LogLikelihood: c.logLik[i],
		LogPosterior:  c.logPost[i],
		Weight:        c.weights[i],
	}
}

// SetDraws installs a full draws matrix, column i corresponding to particle
// i. The matrix is copied.
func (c *Cloud) SetDraws(draws *mat.Dense) error {
	r, cols := draws.Dims()
	if r != c.nParams || cols != c.nParticles {
		return fmt.Errorf("draws matrix is %dx%d, want %dx%d", r, cols, c.nParams, c.nParticles)
	}
	c.draws.Copy(draws)
	return nil
}

// SetDraw installs particle i's parameter vector.
func (c *Cloud) SetDraw(i int, draw []float64) error {
	if len(draw) != c.nParams {
		return fmt.Errorf("draw length %d, want %d", len(draw), c.nParams)
	}
	c.draws.SetCol(i, draw)
	return nil
}

// LogLikelihoods returns the cloud's log-likelihood vector, indexed by
// particle position.
func (c *Cloud) LogLikelihoods() []float64 { return c.logLik }

// LogPosteriors returns the cloud's log-posterior vector, indexed by
// particle position.
func (c *Cloud) LogPosteriors() []float64 { return c.logPost }

// SetLogLikelihoods installs the full log-likelihood vector.
func (c *Cloud) SetLogLikelihoods(v []float64) error {
	if len(v) != c.nParticles {
		return fmt.Errorf("log-likelihood vector length %d, want %d", len(v), c.nParticles)
	}
	copy(c.logLik, v)
	return nil
}

// SetLogPosteriors installs the full log-posterior vector.
func (c *Cloud) SetLogPosteriors(v []float64) error {
	if len(v) != c.nParticles {
		return fmt.Errorf("log-posterior vector length %d, want %d", len(v), c.nParticles)
	}
	copy(c.logPost, v)
	return nil
}

// Weights returns the mean-one weight vector.
func (c *Cloud) Weights() []float64 { return c.weights }

// UpdateWeights multiplies each particle's weight by exp(logIncr[i] − max),
// then renormalizes to mean one. Shifting by the maximum keeps the update
// stable when the incremental log-weights are large in magnitude.
func (c *Cloud) UpdateWeights(logIncr []float64) error {
	if len(logIncr) != c.nParticles {
		return fmt.Errorf("incremental weight vector length %d, want %d", len(logIncr), c.nParticles)
	}
	maxLog := math.Inf(-1)
	for _, lw := range logIncr {
		if lw > maxLog {
			maxLog = lw
		}
	}
	if math.IsInf(maxLog, -1) {
		return fmt.Errorf("all incremental weights are zero")
	}
	for i := range c.weights {
		c.weights[i] *= math.Exp(logIncr[i] - maxLog)
	}
	return c.normalize()
}

// normalize rescales weights to mean one.
func (c *Cloud) normalize() error {
	var sum float64
	for _, w := range c.weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) {
		return fmt.Errorf("degenerate weight sum %v", sum)
	}
	scale := float64(c.nParticles) / sum
	for i := range c.weights {
		c.weights[i] *= scale
	}
	return nil
}

// EffectiveSampleSize computes 1/Σŵᵢ² over the normalized-to-one weights.
// Ranges from 1 (full degeneracy) to the particle count (uniform weights).
func (c *Cloud) EffectiveSampleSize() float64 {
	var sum, sumSq float64
	for _, w := range c.weights {
		sum += w
		sumSq += w * w
	}
	if sumSq == 0 {
		return 0
	}
	return sum * sum / sumSq
}

// ResetWeights sets every weight back to one. Called after resampling.
func (c *Cloud) ResetWeights() {
	for i := range c.weights {
		c.weights[i] = 1
	}
}

// Reorder rebuilds the cloud from the given particle indices, in order.
// Used by selection: index j of the new population is a copy of old
// particle indices[j]. Weights are reset to one.
func (c *Cloud) Reorder(indices []int) error {
	if len(indices) != c.nParticles {
		return fmt.Errorf("index vector length %d, want %d", len(indices), c.nParticles)
	}
	newDraws := mat.NewDense(c.nParams, c.nParticles, nil)
	newLogLik := make([]float64, c.nParticles)
	newLogPost := make([]float64, c.nParticles)
	col := make([]float64, c.nParams)
	for j, idx := range indices {
		if idx < 0 || idx >= c.nParticles {
			return fmt.Errorf("resample index %d out of range [0, %d)", idx, c.nParticles)
		}
		mat.Col(col, idx, c.draws)
		newDraws.SetCol(j, col)
		newLogLik[j] = c.logLik[idx]
		newLogPost[j] = c.logPost[idx]
	}
	c.draws = newDraws
	c.logLik = newLogLik
	c.logPost = newLogPost
	c.ResetWeights()
	return nil
}

// WeightedMean returns the weighted posterior mean of each parameter.
func (c *Cloud) WeightedMean() []float64 {
	mean := make([]float64, c.nParams)
	var wsum float64
	for _, w := range c.weights {
		wsum += w
	}
	col := make([]float64, c.nParams)
	for i := 0; i < c.nParticles; i++ {
		mat.Col(col, i, c.draws)
		for p := range mean {
			mean[p] += c.weights[i] * col[p]
		}
	}
	for p := range mean {
		mean[p] /= wsum
	}
	return mean
}

// WeightedStd returns the weighted posterior standard deviation of each
// parameter.
func (c *Cloud) WeightedStd() []float64 {
	mean := c.WeightedMean()
	variance := make([]float64, c.nParams)
	var wsum float64
	for _, w := range c.weights {
		wsum += w
	}
	col := make([]float64, c.nParams)
	for i := 0; i < c.nParticles; i++ {
		mat.Col(col, i, c.draws)
		for p := range variance {
			d := col[p] - mean[p]
			variance[p] += c.weights[i] * d * d
		}
	}
	out := make([]float64, c.nParams)
	for p := range out {
		out[p] = math.Sqrt(variance[p] / wsum)
	}
	return out
}

// Snapshot is the JSON-stable serialized form of a cloud, used for run
// checkpointing.
type Snapshot struct {
	NParams    int         `json:"n_params"`
	NParticles int         `json:"n_particles"`
	Draws      [][]float64 `json:"draws"` // one row per particle
	LogLik     []float64   `json:"log_likelihoods"`
	LogPost    []float64   `json:"log_posteriors"`
	Weights    []float64   `json:"weights"`
	Stage      int         `json:"stage"`
	NStages    int         `json:"n_stages"`
	Schedule   []float64   `json:"schedule"`
	Scale      float64     `json:"scale"`
	AcceptRate float64     `json:"accept_rate"`
	ESS        float64     `json:"ess"`
	Resamples  int         `json:"resamples"`
}

// Snapshot captures the cloud's full state.
func (c *Cloud) Snapshot() *Snapshot {
	draws := make([][]float64, c.nParticles)
	for i := range draws {
		draws[i] = c.Draw(i)
	}
	s := &Snapshot{
		NParams:    c.nParams,
		NParticles: c.nParticles,
		Draws:      draws,
		LogLik:     append([]float64(nil), c.logLik...),
		LogPost:    append([]float64(nil), c.logPost...),
		Weights:    append([]float64(nil), c.weights...),
		Stage:      c.Stage,
		NStages:    c.NStages,
		Schedule:   append([]float64(nil), c.Schedule...),
		Scale:      c.Scale,
		AcceptRate: c.AcceptRate,
		ESS:        c.ESS,
		Resamples:  c.Resamples,
	}
	return s
}

// RestoreSnapshot rebuilds a cloud from its serialized form.
func RestoreSnapshot(s *Snapshot) (*Cloud, error) {
	c, err := NewCloud(s.NParams, s.NParticles)
	if err != nil {
		return nil, err
	}
	if len(s.Draws) != s.NParticles {
		return nil, fmt.Errorf("snapshot has %d draw rows, want %d", len(s.Draws), s.NParticles)
	}
	for i, draw := range s.Draws {
		if err := c.SetDraw(i, draw); err != nil {
			return nil, fmt.Errorf("particle %d: %w", i, err)
		}
	}
	if err := c.SetLogLikelihoods(s.LogLik); err != nil {
		return nil, err
	}
	if err := c.SetLogPosteriors(s.LogPost); err != nil {
		return nil, err
	}
	if len(s.Weights) != s.NParticles {
		return nil, fmt.Errorf("snapshot weight vector length %d, want %d", len(s.Weights), s.NParticles)
	}
	copy(c.weights, s.Weights)
	c.Stage = s.Stage
	c.NStages = s.NStages
	c.Schedule = append([]float64(nil), s.Schedule...)
	c.Scale = s.Scale
	c.AcceptRate = s.AcceptRate
	c.ESS = s.ESS
	c.Resamples = s.Resamples
	return c, nil
}
