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

func newTestCloud(t *testing.T, draws []float64, nParams, nParticles int) *Cloud {
	t.Helper()
	c, err := NewCloud(nParams, nParticles)
	require.NoError(t, err)
	require.NoError(t, c.SetDraws(mat.NewDense(nParams, nParticles, draws)))
	return c
}

func TestNewCloud_StartsWithUnitWeights(t *testing.T) {
	c, err := NewCloud(3, 5)
	require.NoError(t, err)

	for _, w := range c.Weights() {
		assert.Equal(t, 1.0, w)
	}
	assert.InDelta(t, 5.0, c.EffectiveSampleSize(), 1e-12, "uniform weights give full ESS")
}

func TestNewCloud_RejectsBadDimensions(t *testing.T) {
	_, err := NewCloud(0, 5)
	assert.Error(t, err)
	_, err = NewCloud(3, 0)
	assert.Error(t, err)
}

func TestCloud_UpdateWeightsMeanOneInvariant(t *testing.T) {
	c, err := NewCloud(1, 4)
	require.NoError(t, err)

	require.NoError(t, c.UpdateWeights([]float64{-1, 0, 2, 0.5}))

	var sum float64
	for _, w := range c.Weights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum/4, 1e-12, "weights normalize to mean one")
}

func TestCloud_UpdateWeightsShiftInvariant(t *testing.T) {
	// Adding a constant to every incremental log-weight must not change
	// the normalized weights.
	a, err := NewCloud(1, 3)
	require.NoError(t, err)
	b, err := NewCloud(1, 3)
	require.NoError(t, err)

	require.NoError(t, a.UpdateWeights([]float64{-700, -701, -699}))
	require.NoError(t, b.UpdateWeights([]float64{0, -1, 1}))

	for i := range a.Weights() {
		assert.InDelta(t, b.Weights()[i], a.Weights()[i], 1e-12)
	}
}

func TestCloud_UpdateWeightsRejectsDegenerateInput(t *testing.T) {
	c, err := NewCloud(1, 2)
	require.NoError(t, err)

	assert.Error(t, c.UpdateWeights([]float64{0}), "length mismatch")
	assert.Error(t, c.UpdateWeights([]float64{math.Inf(-1), math.Inf(-1)}), "all-zero weights")
}

func TestCloud_EffectiveSampleSizeDegeneracy(t *testing.T) {
	c, err := NewCloud(1, 4)
	require.NoError(t, err)

	// One particle dominates: ESS collapses toward 1.
	require.NoError(t, c.UpdateWeights([]float64{100, 0, 0, 0}))
	assert.InDelta(t, 1.0, c.EffectiveSampleSize(), 1e-6)
}

func TestCloud_Reorder(t *testing.T) {
	c := newTestCloud(t, []float64{
		1, 2, 3,
		10, 20, 30,
	}, 2, 3)
	require.NoError(t, c.SetLogLikelihoods([]float64{-1, -2, -3}))
	require.NoError(t, c.SetLogPosteriors([]float64{-4, -5, -6}))
	require.NoError(t, c.UpdateWeights([]float64{0, 1, 2}))

	require.NoError(t, c.Reorder([]int{2, 2, 0}))

	assert.Equal(t, []float64{3, 30}, c.Draw(0))
	assert.Equal(t, []float64{3, 30}, c.Draw(1))
	assert.Equal(t, []float64{1, 10}, c.Draw(2))
	assert.Equal(t, []float64{-3, -3, -1}, c.LogLikelihoods())
	assert.Equal(t, []float64{-6, -6, -4}, c.LogPosteriors())
	for _, w := range c.Weights() {
		assert.Equal(t, 1.0, w, "resampling resets weights")
	}
}

func TestCloud_ReorderRejectsBadIndices(t *testing.T) {
	c, err := NewCloud(1, 3)
	require.NoError(t, err)

	assert.Error(t, c.Reorder([]int{0, 1}), "length mismatch")
	assert.Error(t, c.Reorder([]int{0, 1, 3}), "index out of range")
	assert.Error(t, c.Reorder([]int{0, 1, -1}), "negative index")
}

func TestCloud_WeightedMoments(t *testing.T) {
	c := newTestCloud(t, []float64{
		0, 2,
	}, 1, 2)
	// Weight particle 1 three times particle 0: mean = 1.5.
	require.NoError(t, c.UpdateWeights([]float64{math.Log(1), math.Log(3)}))

	mean := c.WeightedMean()
	require.Len(t, mean, 1)
	assert.InDelta(t, 1.5, mean[0], 1e-12)

	std := c.WeightedStd()
	// var = 0.25·(0−1.5)² + 0.75·(2−1.5)² = 0.75
	assert.InDelta(t, math.Sqrt(0.75), std[0], 1e-12)
}

func TestCloud_SnapshotRoundTrip(t *testing.T) {
	c := newTestCloud(t, []float64{
		1, 2, 3,
		4, 5, 6,
	}, 2, 3)
	require.NoError(t, c.SetLogLikelihoods([]float64{-1, -2, -3}))
	require.NoError(t, c.SetLogPosteriors([]float64{-7, -8, -9}))
	require.NoError(t, c.UpdateWeights([]float64{0.1, 0.2, 0.3}))
	c.Stage = 4
	c.NStages = 10
	c.Schedule = []float64{0, 0.25, 1}
	c.Scale = 0.4
	c.AcceptRate = 0.3
	c.ESS = 2.5
	c.Resamples = 1

	restored, err := RestoreSnapshot(c.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, c.Draw(0), restored.Draw(0))
	assert.Equal(t, c.Draw(2), restored.Draw(2))
	assert.Equal(t, c.LogLikelihoods(), restored.LogLikelihoods())
	assert.Equal(t, c.LogPosteriors(), restored.LogPosteriors())
	assert.Equal(t, c.Weights(), restored.Weights())
	assert.Equal(t, c.Stage, restored.Stage)
	assert.Equal(t, c.NStages, restored.NStages)
	assert.Equal(t, c.Schedule, restored.Schedule)
	assert.Equal(t, c.Scale, restored.Scale)
	assert.Equal(t, c.AcceptRate, restored.AcceptRate)
	assert.Equal(t, c.ESS, restored.ESS)
	assert.Equal(t, c.Resamples, restored.Resamples)
}

func TestRestoreSnapshot_RejectsCorruptShape(t *testing.T) {
	snap := &Snapshot{
		NParams:    2,
		NParticles: 2,
		Draws:      [][]float64{{1, 2}},
		LogLik:     []float64{0, 0},
		LogPost:    []float64{0, 0},
		Weights:    []float64{1, 1},
	}
	_, err := RestoreSnapshot(snap)
	assert.Error(t, err)
}
