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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/particula/pkg/model"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []StageReport
}

func (r *recordingReporter) ReportStage(report StageReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func TestSettings_Validate(t *testing.T) {
	valid := DefaultSettings()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"particles below 2", func(s *Settings) { s.Particles = 1 }},
		{"stages below 2", func(s *Settings) { s.Stages = 1 }},
		{"bend below 1", func(s *Settings) { s.Bend = 0.5 }},
		{"zero mh steps", func(s *Settings) { s.MHSteps = 0 }},
		{"alpha above 1", func(s *Settings) { s.MixtureAlpha = 1.5 }},
		{"negative alpha", func(s *Settings) { s.MixtureAlpha = -0.1 }},
		{"zero scale", func(s *Settings) { s.InitialScale = 0 }},
		{"target accept at 1", func(s *Settings) { s.TargetAccept = 1 }},
		{"ess threshold above 1", func(s *Settings) { s.ESSThreshold = 1.1 }},
		{"unknown resampler", func(s *Settings) { s.Resampler = "stratified" }},
		{"laplace without artifact", func(s *Settings) {
			s.Source = DrawSourceLaplace
			s.ModeArtifactPath = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestNew_Validation(t *testing.T) {
	m, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)

	_, err = New(nil, DefaultSettings())
	assert.Error(t, err)

	bad := DefaultSettings()
	bad.Particles = 0
	_, err = New(m, bad)
	assert.Error(t, err)
}

func TestNew_RunIDOptions(t *testing.T) {
	m, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)

	a, err := New(m, DefaultSettings())
	require.NoError(t, err)
	b, err := New(m, DefaultSettings())
	require.NoError(t, err)
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())

	c, err := New(m, DefaultSettings(), WithRunID("fixed-id"))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", c.RunID())
}

func smcTestSettings() Settings {
	s := DefaultSettings()
	s.Particles = 300
	s.Stages = 12
	s.MixtureAlpha = 0.9
	s.Seed = 2024
	return s
}

func TestSampler_RunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end estimation")
	}

	truth, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)
	require.NoError(t, truth.SetParameters([]float64{0.7, 0.5, 1}))
	data, err := truth.Simulate(300, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	m, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)

	reporter := &recordingReporter{}
	checkpoints := 0
	sampler, err := New(m, smcTestSettings(),
		WithReporter(reporter),
		WithCheckpoint(func(stage int, snap *Snapshot) error {
			checkpoints++
			require.Equal(t, stage, snap.Stage)
			return nil
		}),
	)
	require.NoError(t, err)

	result, err := sampler.Run(context.Background(), data)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, sampler.RunID(), result.RunID)
	assert.Equal(t, []string{"persistence", "intercept", "variance"}, result.ParameterNames)
	require.Len(t, result.PosteriorMean, 3)
	require.Len(t, result.PosteriorStd, 3)

	// The posterior should concentrate near the generating parameters.
	assert.InDelta(t, 0.7, result.PosteriorMean[0], 0.15, "persistence")
	assert.InDelta(t, 1.0, result.PosteriorMean[2], 0.4, "innovation variance")
	for p, sd := range result.PosteriorStd {
		assert.Greater(t, sd, 0.0, "parameter %d posterior std", p)
	}

	assert.Len(t, result.ESSPath, 12)
	assert.Len(t, result.AcceptPath, 12)
	assert.Equal(t, 0.0, result.Schedule[0])
	assert.Equal(t, 1.0, result.Schedule[len(result.Schedule)-1])
	assert.Greater(t, result.Duration.Nanoseconds(), int64(0))

	require.Len(t, reporter.reports, 12)
	for k, rep := range reporter.reports {
		assert.Equal(t, k+1, rep.Stage)
		assert.Equal(t, result.RunID, rep.RunID)
		assert.GreaterOrEqual(t, rep.ESS, 1.0)
		assert.LessOrEqual(t, rep.ESS, 300.0+1e-9)
	}
	assert.Equal(t, 12, checkpoints)

	// Final cloud invariants: weights mean one, metadata at the last stage.
	var wsum float64
	for _, w := range result.Cloud.Weights() {
		wsum += w
	}
	assert.InDelta(t, 1.0, wsum/300, 1e-9)
	assert.Equal(t, 12, result.Cloud.Stage)
}

func TestSampler_RunPerPeriodAndFallbackPathsAgree(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end estimation")
	}

	// plainModel hides the forecast-error surface so the driver takes the
	// tempered log-likelihood fallback. Both paths estimate the same
	// posterior, so the means should land close together.
	truth, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)
	require.NoError(t, truth.SetParameters([]float64{0.6, 0.2, 1}))
	data, err := truth.Simulate(250, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	base, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)

	run := func(m model.Model) *Result {
		sampler, err := New(m, smcTestSettings())
		require.NoError(t, err)
		res, err := sampler.Run(context.Background(), data)
		require.NoError(t, err)
		return res
	}

	perPeriod := run(base)
	fallback := run(&plainModel{inner: base})

	assert.InDelta(t, perPeriod.PosteriorMean[0], fallback.PosteriorMean[0], 0.1)
	assert.InDelta(t, perPeriod.PosteriorMean[2], fallback.PosteriorMean[2], 0.3)
}

func TestSampler_RunCancellation(t *testing.T) {
	m, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)
	require.NoError(t, m.SetParameters([]float64{0.5, 0, 1}))
	data, err := m.Simulate(100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	sampler, err := New(m, smcTestSettings())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sampler.Run(ctx, data)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampler_CheckpointErrorAborts(t *testing.T) {
	m, err := model.NewAR1(model.DefaultAR1Config())
	require.NoError(t, err)
	require.NoError(t, m.SetParameters([]float64{0.5, 0, 1}))
	data, err := m.Simulate(100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	sampler, err := New(m, smcTestSettings(), WithCheckpoint(func(stage int, snap *Snapshot) error {
		return assert.AnError
	}))
	require.NoError(t, err)

	_, err = sampler.Run(context.Background(), data)
	assert.ErrorIs(t, err, assert.AnError)
}

// plainModel wraps a Model while deliberately not implementing
// ForecastErrorProvider.
type plainModel struct {
	inner model.Model
}

func (p *plainModel) NParameters() int { return p.inner.NParameters() }

func (p *plainModel) ParameterNames() []string { return p.inner.ParameterNames() }

func (p *plainModel) Parameters() []float64 { return p.inner.Parameters() }

func (p *plainModel) LogPrior() (float64, error) { return p.inner.LogPrior() }

func (p *plainModel) SamplePrior(n int, rng *rand.Rand) *mat.Dense {
	return p.inner.SamplePrior(n, rng)
}

func (p *plainModel) SetParameters(theta []float64) error {
	return p.inner.SetParameters(theta)
}

func (p *plainModel) LogLikelihood(data *mat.Dense) (float64, error) {
	return p.inner.LogLikelihood(data)
}

func (p *plainModel) Clone() model.Model {
	return &plainModel{inner: p.inner.Clone()}
}
