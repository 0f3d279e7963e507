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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestMixtureDraw_InvalidWeight(t *testing.T) {
	p := mat.NewVecDense(2, []float64{0, 0})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	rng := rand.New(rand.NewSource(1))

	for _, alpha := range []float64{-0.1, 1.1, 2} {
		_, err := MixtureDraw(p, cov, 1, alpha, nil, rng)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidMixtureWeight), "alpha=%v should map to the sentinel", alpha)
	}
}

func TestMixtureDraw_InvalidScale(t *testing.T) {
	p := mat.NewVecDense(1, []float64{0})
	cov := mat.NewSymDense(1, []float64{1})
	rng := rand.New(rand.NewSource(1))

	_, err := MixtureDraw(p, cov, 0, 0.5, nil, rng)
	assert.Error(t, err)
	_, err = MixtureDraw(p, cov, -1, 0.5, nil, rng)
	assert.Error(t, err)
}

func TestMixtureDraw_DimensionChecks(t *testing.T) {
	p := mat.NewVecDense(2, []float64{0, 0})
	rng := rand.New(rand.NewSource(1))

	_, err := MixtureDraw(p, mat.NewSymDense(3, nil), 1, 0.5, nil, rng)
	assert.Error(t, err, "covariance dimension mismatch")

	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	_, err = MixtureDraw(p, cov, 1, 0.5, mat.NewVecDense(3, nil), rng)
	assert.Error(t, err, "alternate mean dimension mismatch")
}

func TestMixtureDraw_NonPositiveDefiniteCovariance(t *testing.T) {
	p := mat.NewVecDense(2, []float64{0, 0})
	cov := mat.NewSymDense(2, []float64{1, 2, 2, 1}) // indefinite
	rng := rand.New(rand.NewSource(1))

	_, err := MixtureDraw(p, cov, 1, 0.5, nil, rng)
	assert.Error(t, err)
}

func TestMixtureDraw_FullWeightDistribution(t *testing.T) {
	// alpha = 1 zeroes the other two components, so the proposal is
	// N(p, cc²·cov). Check first and second moments.
	p := mat.NewVecDense(2, []float64{1, -2})
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 1})
	cc := 0.5
	rng := rand.New(rand.NewSource(42))

	const n = 50000
	var sum0, sum1, sq0, sq1 float64
	for i := 0; i < n; i++ {
		x, err := MixtureDraw(p, cov, cc, 1, nil, rng)
		require.NoError(t, err)
		d0 := x.AtVec(0) - 1
		d1 := x.AtVec(1) + 2
		sum0 += d0
		sum1 += d1
		sq0 += d0 * d0
		sq1 += d1 * d1
	}
	assert.InDelta(t, 0, sum0/n, 0.02)
	assert.InDelta(t, 0, sum1/n, 0.01)
	assert.InDelta(t, cc*cc*4, sq0/n, 0.05)
	assert.InDelta(t, cc*cc*1, sq1/n, 0.02)
}

func TestMixtureDraw_IsWeightedSumOfComponents(t *testing.T) {
	// With a negligible step scale every component collapses to its mean,
	// so the output exposes the convex-combination structure:
	// α·p + (1−α)/2·p + (1−α)/2·propMean.
	p := mat.NewVecDense(2, []float64{2, 4})
	propMean := mat.NewVecDense(2, []float64{6, 8})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	rng := rand.New(rand.NewSource(9))

	alpha := 0.6
	x, err := MixtureDraw(p, cov, 1e-12, alpha, propMean, rng)
	require.NoError(t, err)

	want0 := alpha*2 + (1-alpha)/2*2 + (1-alpha)/2*6
	want1 := alpha*4 + (1-alpha)/2*4 + (1-alpha)/2*8
	assert.InDelta(t, want0, x.AtVec(0), 1e-9)
	assert.InDelta(t, want1, x.AtVec(1), 1e-9)
}

func TestMixtureDraw_NilPropMeanFallsBackToParticle(t *testing.T) {
	p := mat.NewVecDense(2, []float64{3, -1})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	rng := rand.New(rand.NewSource(9))

	// All three component means equal p, so a negligible scale returns p.
	x, err := MixtureDraw(p, cov, 1e-12, 0.3, nil, rng)
	require.NoError(t, err)
	assert.InDelta(t, 3, x.AtVec(0), 1e-9)
	assert.InDelta(t, -1, x.AtVec(1), 1e-9)
}

func TestMixtureDraw_NilPropMeanUsesDiagonalCovariance(t *testing.T) {
	// With alpha = 0 and no alternate mean, both surviving components are
	// diagonal, so a strongly correlated cov must leave no trace in the
	// empirical cross-covariance of the draws.
	p := mat.NewVecDense(2, []float64{0, 0})
	cov := mat.NewSymDense(2, []float64{1, 0.95, 0.95, 1})
	rng := rand.New(rand.NewSource(55))

	const n = 100000
	var cross float64
	for i := 0; i < n; i++ {
		x, err := MixtureDraw(p, cov, 1, 0, nil, rng)
		require.NoError(t, err)
		cross += x.AtVec(0) * x.AtVec(1)
	}
	assert.InDelta(t, 0, cross/n, 0.02)
}

func TestMixtureDraw_ConsumesThreeIndependentDraws(t *testing.T) {
	// A categorical mixture would consume one component draw per call;
	// the weighted-sum kernel consumes three. With alpha = 1 the output
	// equals the full component's draw, which advances the stream past
	// the other two components: two consecutive calls on one stream must
	// differ from two single calls on fresh streams at the same seed.
	p := mat.NewVecDense(1, []float64{0})
	cov := mat.NewSymDense(1, []float64{1})

	shared := rand.New(rand.NewSource(77))
	first, err := MixtureDraw(p, cov, 1, 1, nil, shared)
	require.NoError(t, err)
	second, err := MixtureDraw(p, cov, 1, 1, nil, shared)
	require.NoError(t, err)

	fresh := rand.New(rand.NewSource(77))
	firstFresh, err := MixtureDraw(p, cov, 1, 1, nil, fresh)
	require.NoError(t, err)

	assert.Equal(t, firstFresh.AtVec(0), first.AtVec(0), "same seed, same first draw")
	assert.NotEqual(t, first.AtVec(0), second.AtVec(0))
}
