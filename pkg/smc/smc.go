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
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/particula/pkg/model"
)

// Settings configures an estimation run.
type Settings struct {
	// Particles is the particle count n_part.
	Particles int `yaml:"particles" validate:"gte=2"`

	// Stages is the number of tempering stages NΦ.
	Stages int `yaml:"stages" validate:"gte=2"`

	// Bend shapes the tempering schedule φ_k = (k/NΦ)^Bend.
	Bend float64 `yaml:"bend" validate:"gte=1"`

	// MHSteps is the number of Metropolis-Hastings steps per particle per
	// stage.
	MHSteps int `yaml:"mh_steps" validate:"gte=1"`

	// MixtureAlpha is the weight of the full-covariance proposal
	// component, in [0, 1].
	MixtureAlpha float64 `yaml:"mixture_alpha" validate:"gte=0,lte=1"`

	// InitialScale is the starting proposal step-size scale c.
	InitialScale float64 `yaml:"initial_scale" validate:"gt=0"`

	// TargetAccept is the acceptance rate the adaptive scale steers
	// toward.
	TargetAccept float64 `yaml:"target_accept" validate:"gt=0,lt=1"`

	// ESSThreshold triggers resampling when ESS falls below
	// ESSThreshold·Particles.
	ESSThreshold float64 `yaml:"ess_threshold" validate:"gt=0,lte=1"`

	// Resampler selects the resampling scheme: "systematic" or
	// "multinomial".
	Resampler string `yaml:"resampler" validate:"omitempty,oneof=systematic multinomial"`

	// Source selects the initial draw source: "prior" or "normal".
	Source DrawSource `yaml:"source" validate:"omitempty,oneof=prior normal"`

	// ModeArtifactPath locates the mode/Hessian artifact for
	// mode-based initialization.
	ModeArtifactPath string `yaml:"mode_artifact"`

	// MaxInitRetries bounds the initializer's per-particle repair loop.
	MaxInitRetries int `yaml:"max_init_retries" validate:"gte=0"`

	// Workers caps parallel per-particle goroutines. 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`

	// Seed makes the run reproducible.
	Seed uint64 `yaml:"seed"`
}

// DefaultSettings returns the stock configuration: 1000 particles over 50
// stages with a quadratic schedule bend, single-step mutation with the
// full-covariance proposal, resampling at half the particle count.
func DefaultSettings() Settings {
	return Settings{
		Particles:    1000,
		Stages:       50,
		Bend:         2,
		MHSteps:      1,
		MixtureAlpha: 1,
		InitialScale: 0.5,
		TargetAccept: 0.25,
		ESSThreshold: 0.5,
		Resampler:    "systematic",
		Source:       DrawSourcePrior,
	}
}

// Validate checks settings consistency.
func (s Settings) Validate() error {
	if s.Particles < 2 {
		return fmt.Errorf("particles must be >= 2, got %d", s.Particles)
	}
	if s.Stages < 2 {
		return fmt.Errorf("stages must be >= 2, got %d", s.Stages)
	}
	if s.Bend < 1 {
		return fmt.Errorf("schedule bend must be >= 1, got %v", s.Bend)
	}
	if s.MHSteps < 1 {
		return fmt.Errorf("mh_steps must be >= 1, got %d", s.MHSteps)
	}
	if s.MixtureAlpha < 0 || s.MixtureAlpha > 1 {
		return fmt.Errorf("%w, got %v", ErrInvalidMixtureWeight, s.MixtureAlpha)
	}
	if s.InitialScale <= 0 {
		return fmt.Errorf("initial_scale must be positive, got %v", s.InitialScale)
	}
	if s.TargetAccept <= 0 || s.TargetAccept >= 1 {
		return fmt.Errorf("target_accept must be in (0, 1), got %v", s.TargetAccept)
	}
	if s.ESSThreshold <= 0 || s.ESSThreshold > 1 {
		return fmt.Errorf("ess_threshold must be in (0, 1], got %v", s.ESSThreshold)
	}
	if s.Source == DrawSourceLaplace && s.ModeArtifactPath == "" {
		return fmt.Errorf("mode_artifact is required when source is %q", DrawSourceLaplace)
	}
	if _, err := NewResampler(s.Resampler); err != nil {
		return err
	}
	return nil
}

// Result summarizes a finished estimation run.
type Result struct {
	RunID          string    `json:"run_id"`
	ParameterNames []string  `json:"parameter_names"`
	PosteriorMean  []float64 `json:"posterior_mean"`
	PosteriorStd   []float64 `json:"posterior_std"`
	Schedule       []float64 `json:"schedule"`
	ESSPath        []float64 `json:"ess_path"`
	AcceptPath     []float64 `json:"accept_path"`
	Resamples      int       `json:"resamples"`
	Duration       time.Duration `json:"duration_ns"`

	// Cloud is the final particle population. Not serialized; use
	// Cloud.Snapshot for persistence.
	Cloud *Cloud `json:"-"`
}

// CheckpointFunc receives the cloud snapshot after every stage. A non-nil
// return aborts the run.
type CheckpointFunc func(stage int, snap *Snapshot) error

// Sampler drives a full SMC estimation: initialization, then per stage
// correction, selection, and mutation.
type Sampler struct {
	model      model.Model
	settings   Settings
	resampler  Resampler
	reporters  []StageReporter
	checkpoint CheckpointFunc
	runID      string
}

// Option customizes a Sampler.
type Option func(*Sampler)

// WithReporter registers a stage diagnostics reporter. Multiple reporters
// may be registered; all receive every stage report.
func WithReporter(r StageReporter) Option {
	return func(s *Sampler) {
		if r != nil {
			s.reporters = append(s.reporters, r)
		}
	}
}

// WithCheckpoint registers a per-stage checkpoint sink.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(s *Sampler) { s.checkpoint = fn }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Sampler) {
		if id != "" {
			s.runID = id
		}
	}
}

// New creates a sampler for a model.
func New(m model.Model, settings Settings, opts ...Option) (*Sampler, error) {
	if m == nil {
		return nil, fmt.Errorf("model must not be nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	resampler, err := NewResampler(settings.Resampler)
	if err != nil {
		return nil, err
	}
	s := &Sampler{
		model:     m,
		settings:  settings,
		resampler: resampler,
		runID:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunID returns the run identifier.
func (s *Sampler) RunID() string { return s.runID }

// Run executes the full estimation against a data matrix.
//
// Description:
//
//	Initializes the cloud from the configured source, then iterates the
//	tempering schedule. Each stage reweights particles by the incremental
//	tempered likelihood, resamples when the effective sample size falls
//	below the threshold, adapts the proposal scale toward the target
//	acceptance rate, and mutates every particle with MH steps proposed
//	from the cloud's weighted moments.
//
// Outputs:
//
//	*Result - Posterior summary plus the final cloud.
//	error - Non-nil on initialization failure, numerical breakdown, or
//	  context cancellation.
func (s *Sampler) Run(ctx context.Context, data *mat.Dense) (*Result, error) {
	start := time.Now()
	cfg := s.settings

	schedule, err := TemperingSchedule(cfg.Stages, cfg.Bend)
	if err != nil {
		return nil, err
	}

	cloud, err := NewCloud(s.model.NParameters(), cfg.Particles)
	if err != nil {
		return nil, err
	}
	cloud.NStages = cfg.Stages
	cloud.Schedule = schedule
	cloud.Scale = cfg.InitialScale

	err = InitialDraw(ctx, s.model, data, cloud, InitialDrawOptions{
		Source:           cfg.Source,
		ModeArtifactPath: cfg.ModeArtifactPath,
		MaxRetries:       cfg.MaxInitRetries,
		Workers:          cfg.Workers,
		Seed:             cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize particle cloud: %w", err)
	}

	resampleRng := rand.New(rand.NewSource(cfg.Seed ^ 0xda3e39cb94b95bdb))
	essPath := make([]float64, 0, cfg.Stages)
	acceptPath := make([]float64, 0, cfg.Stages)

	for k := 1; k <= cfg.Stages; k++ {
		stageStart := time.Now()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		phiNew, phiOld := schedule[k], schedule[k-1]

		// Correction: incremental tempered-likelihood weights.
		logIncr, err := s.incrementalLogWeights(ctx, data, cloud, phiNew, phiOld, k == 1)
		if err != nil {
			return nil, fmt.Errorf("stage %d correction: %w", k, err)
		}
		if err := cloud.UpdateWeights(logIncr); err != nil {
			return nil, fmt.Errorf("stage %d correction: %w", k, err)
		}
		cloud.ESS = cloud.EffectiveSampleSize()

		// Selection: resample on weight degeneracy.
		resampled := false
		if cloud.ESS < cfg.ESSThreshold*float64(cfg.Particles) {
			norm := make([]float64, cfg.Particles)
			var sum float64
			for _, w := range cloud.Weights() {
				sum += w
			}
			for i, w := range cloud.Weights() {
				norm[i] = w / sum
			}
			indices, err := s.resampler.Resample(norm, resampleRng)
			if err != nil {
				return nil, fmt.Errorf("stage %d selection: %w", k, err)
			}
			if err := cloud.Reorder(indices); err != nil {
				return nil, fmt.Errorf("stage %d selection: %w", k, err)
			}
			cloud.Resamples++
			resampled = true
		}

		// Adapt the proposal scale from the previous stage's acceptance.
		if k > 1 {
			e := math.Exp(16 * (cloud.AcceptRate - cfg.TargetAccept))
			cloud.Scale *= 0.95 + 0.10*e/(1+e)
		}

		// Mutation: MH moves proposed from the cloud's weighted moments.
		propMean := mat.NewVecDense(cloud.NumParameters(), cloud.WeightedMean())
		rawCov := mat.NewSymDense(cloud.NumParameters(), nil)
		stat.CovarianceMatrix(rawCov, cloud.Draws().T(), cloud.Weights())
		cov, err := conditionCovariance(rawCov)
		if err != nil {
			return nil, fmt.Errorf("stage %d proposal covariance: %w", k, err)
		}
		accept, err := Mutate(ctx, s.model, data, cloud, phiNew, cov, MutationOptions{
			Steps:    cfg.MHSteps,
			Alpha:    cfg.MixtureAlpha,
			Scale:    cloud.Scale,
			PropMean: propMean,
			Workers:  cfg.Workers,
			Seed:     cfg.Seed + uint64(k)*7919,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %d mutation: %w", k, err)
		}
		cloud.AcceptRate = accept
		cloud.Stage = k

		essPath = append(essPath, cloud.ESS)
		acceptPath = append(acceptPath, accept)

		report := StageReport{
			RunID:      s.runID,
			Stage:      k,
			NStages:    cfg.Stages,
			Phi:        phiNew,
			ESS:        cloud.ESS,
			AcceptRate: accept,
			Scale:      cloud.Scale,
			Resampled:  resampled,
			Resamples:  cloud.Resamples,
			Duration:   time.Since(stageStart),
		}
		for _, r := range s.reporters {
			r.ReportStage(report)
		}
		if s.checkpoint != nil {
			if err := s.checkpoint(k, cloud.Snapshot()); err != nil {
				return nil, fmt.Errorf("stage %d checkpoint: %w", k, err)
			}
		}
	}

	return &Result{
		RunID:          s.runID,
		ParameterNames: s.model.ParameterNames(),
		PosteriorMean:  cloud.WeightedMean(),
		PosteriorStd:   cloud.WeightedStd(),
		Schedule:       schedule,
		ESSPath:        essPath,
		AcceptPath:     acceptPath,
		Resamples:      cloud.Resamples,
		Duration:       time.Since(start),
		Cloud:          cloud,
	}, nil
}

// incrementalLogWeights computes each particle's incremental log-weight
// for one tempering transition.
//
// Models exposing per-period forecast errors get the tempered per-period
// density combined across periods in log space; other models use the
// tempered log-likelihood difference directly. At the first transition the
// bootstrap forms apply (the proper normalized density, or φ₁·loglh from a
// prior-initialized cloud). With a Laplace-approximation draw source the
// bootstrap weights carry no importance correction for drawing from the
// approximation rather than the prior; the discrepancy is treated as part
// of the initial importance distribution and washes out over the tempering
// sequence.
func (s *Sampler) incrementalLogWeights(ctx context.Context, data *mat.Dense, cloud *Cloud, phiNew, phiOld float64, initialize bool) ([]float64, error) {
	n := cloud.NumParticles()
	out := make([]float64, n)

	if _, ok := s.model.(model.ForecastErrorProvider); !ok {
		logLik := cloud.LogLikelihoods()
		for i := 0; i < n; i++ {
			if initialize {
				out[i] = phiNew * logLik[i]
			} else {
				out[i] = (phiNew - phiOld) * logLik[i]
			}
		}
		return out, nil
	}

	workers := s.settings.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	_, dataPeriods := data.Dims()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			clone := s.model.Clone()
			if err := clone.SetParameters(cloud.Draw(i)); err != nil {
				return fmt.Errorf("particle %d parameters: %w", i, err)
			}
			provider := clone.(model.ForecastErrorProvider)
			ferr, err := provider.ForecastErrors(data)
			if err != nil {
				return fmt.Errorf("particle %d forecast errors: %w", i, err)
			}
			ee := provider.MeasurementCov()

			ty, periods := ferr.Dims()
			offset := dataPeriods - periods
			ytBuf := make([]float64, ty)
			peBuf := make([]float64, ty)
			var total float64
			for t := 0; t < periods; t++ {
				mat.Col(ytBuf, offset+t, data)
				mat.Col(peBuf, t, ferr)
				lw, err := LogIncrementalWeight(phiNew, phiOld,
					mat.NewVecDense(ty, ytBuf), mat.NewVecDense(ty, peBuf), ee, initialize)
				if err != nil {
					return fmt.Errorf("particle %d period %d: %w", i, t, err)
				}
				total += lw
			}
			out[i] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
