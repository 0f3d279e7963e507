// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// AR1Config holds the prior hyperparameters of the Gaussian AR(1) model.
//
// The parameter vector is [persistence, intercept, variance]:
//
//	y_t = intercept + persistence·y_{t−1} + ε_t,  ε_t ~ N(0, variance)
//
// with priors Beta(PersistenceAlpha, PersistenceBeta) on persistence,
// N(InterceptMean, InterceptStd²) on the intercept, and
// InverseGamma(VarianceShape, VarianceScale) on the innovation variance.
type AR1Config struct {
	PersistenceAlpha float64 `yaml:"persistence_alpha" validate:"gt=0"`
	PersistenceBeta  float64 `yaml:"persistence_beta" validate:"gt=0"`
	InterceptMean    float64 `yaml:"intercept_mean"`
	InterceptStd     float64 `yaml:"intercept_std" validate:"gt=0"`
	VarianceShape    float64 `yaml:"variance_shape" validate:"gt=0"`
	VarianceScale    float64 `yaml:"variance_scale" validate:"gt=0"`
}

// DefaultAR1Config returns weakly informative priors: Beta(2, 2) on
// persistence, N(0, 25) on the intercept, InverseGamma(3, 2) on the
// innovation variance.
func DefaultAR1Config() AR1Config {
	return AR1Config{
		PersistenceAlpha: 2,
		PersistenceBeta:  2,
		InterceptMean:    0,
		InterceptStd:     5,
		VarianceShape:    3,
		VarianceScale:    2,
	}
}

// AR1 is a Gaussian first-order autoregression, the reference structural
// model shipped with the toolkit. It implements both Model and
// ForecastErrorProvider.
//
// Thread Safety: Not safe for concurrent use; parallel callers must Clone().
type AR1 struct {
	cfg AR1Config

	persistence float64
	intercept   float64
	variance    float64
}

var ar1Names = []string{"persistence", "intercept", "variance"}

// NewAR1 builds the model with the given priors and parameters at the
// prior means.
func NewAR1(cfg AR1Config) (*AR1, error) {
	if cfg.PersistenceAlpha <= 0 || cfg.PersistenceBeta <= 0 {
		return nil, errors.New("persistence prior shape parameters must be positive")
	}
	if cfg.InterceptStd <= 0 {
		return nil, errors.New("intercept prior standard deviation must be positive")
	}
	if cfg.VarianceShape <= 0 || cfg.VarianceScale <= 0 {
		return nil, errors.New("variance prior parameters must be positive")
	}
	m := &AR1{
		cfg:         cfg,
		persistence: cfg.PersistenceAlpha / (cfg.PersistenceAlpha + cfg.PersistenceBeta),
		intercept:   cfg.InterceptMean,
	}
	// Inverse-gamma mean exists for shape > 1; fall back to the scale.
	if cfg.VarianceShape > 1 {
		m.variance = cfg.VarianceScale / (cfg.VarianceShape - 1)
	} else {
		m.variance = cfg.VarianceScale
	}
	return m, nil
}

// NParameters implements Model.
func (m *AR1) NParameters() int { return 3 }

// ParameterNames implements Model.
func (m *AR1) ParameterNames() []string {
	return append([]string(nil), ar1Names...)
}

// SamplePrior implements Model.
func (m *AR1) SamplePrior(n int, rng *rand.Rand) *mat.Dense {
	rho := distuv.Beta{Alpha: m.cfg.PersistenceAlpha, Beta: m.cfg.PersistenceBeta, Src: rng}
	c := distuv.Normal{Mu: m.cfg.InterceptMean, Sigma: m.cfg.InterceptStd, Src: rng}
	v := distuv.InverseGamma{Alpha: m.cfg.VarianceShape, Beta: m.cfg.VarianceScale, Src: rng}

	out := mat.NewDense(3, n, nil)
	for i := 0; i < n; i++ {
		out.Set(0, i, rho.Rand())
		out.Set(1, i, c.Rand())
		out.Set(2, i, v.Rand())
	}
	return out
}

// SetParameters implements Model. The support is persistence in (0, 1) and
// a positive innovation variance.
func (m *AR1) SetParameters(theta []float64) error {
	if len(theta) != 3 {
		return fmt.Errorf("parameter vector length %d, want 3", len(theta))
	}
	for i, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s is not finite", ar1Names[i])
		}
	}
	if theta[0] <= 0 || theta[0] >= 1 {
		return fmt.Errorf("persistence %v outside support (0, 1)", theta[0])
	}
	if theta[2] <= 0 {
		return fmt.Errorf("variance %v outside support (0, inf)", theta[2])
	}
	m.persistence = theta[0]
	m.intercept = theta[1]
	m.variance = theta[2]
	return nil
}

// Parameters implements Model.
func (m *AR1) Parameters() []float64 {
	return []float64{m.persistence, m.intercept, m.variance}
}

// LogLikelihood implements Model. The likelihood conditions on the first
// observation; data must be a single series with at least two periods.
func (m *AR1) LogLikelihood(data *mat.Dense) (float64, error) {
	r, t := data.Dims()
	if r != 1 {
		return 0, fmt.Errorf("AR(1) expects a single observed series, got %d", r)
	}
	if t < 2 {
		return 0, fmt.Errorf("AR(1) needs at least 2 periods, got %d", t)
	}
	var ll float64
	for i := 1; i < t; i++ {
		e := data.At(0, i) - m.intercept - m.persistence*data.At(0, i-1)
		ll += -0.5*(log2Pi+math.Log(m.variance)) - e*e/(2*m.variance)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 1) {
		return 0, errors.New("log-likelihood is not finite")
	}
	return ll, nil
}

// LogPrior implements Model.
func (m *AR1) LogPrior() (float64, error) {
	rho := distuv.Beta{Alpha: m.cfg.PersistenceAlpha, Beta: m.cfg.PersistenceBeta}
	c := distuv.Normal{Mu: m.cfg.InterceptMean, Sigma: m.cfg.InterceptStd}
	v := distuv.InverseGamma{Alpha: m.cfg.VarianceShape, Beta: m.cfg.VarianceScale}

	lp := rho.LogProb(m.persistence) + c.LogProb(m.intercept) + v.LogProb(m.variance)
	if math.IsNaN(lp) {
		return 0, errors.New("log prior is not finite")
	}
	return lp, nil
}

// Clone implements Model.
func (m *AR1) Clone() Model {
	clone := *m
	return &clone
}

// ForecastErrors implements ForecastErrorProvider: e_t = y_t − intercept −
// persistence·y_{t−1}, one column per period from the second onward.
func (m *AR1) ForecastErrors(data *mat.Dense) (*mat.Dense, error) {
	r, t := data.Dims()
	if r != 1 {
		return nil, fmt.Errorf("AR(1) expects a single observed series, got %d", r)
	}
	if t < 2 {
		return nil, fmt.Errorf("AR(1) needs at least 2 periods, got %d", t)
	}
	out := mat.NewDense(1, t-1, nil)
	for i := 1; i < t; i++ {
		out.Set(0, i-1, data.At(0, i)-m.intercept-m.persistence*data.At(0, i-1))
	}
	return out, nil
}

// MeasurementCov implements ForecastErrorProvider.
func (m *AR1) MeasurementCov() *mat.SymDense {
	return mat.NewSymDense(1, []float64{m.variance})
}

const log2Pi = 1.8378770664093454835606594728112352797227949472756

// Simulate generates a sample path from the model's current parameters,
// useful for tests and synthetic scenarios. The path starts at the
// stationary mean.
func (m *AR1) Simulate(periods int, rng *rand.Rand) (*mat.Dense, error) {
	if periods < 2 {
		return nil, fmt.Errorf("need at least 2 periods, got %d", periods)
	}
	eps := distuv.Normal{Mu: 0, Sigma: math.Sqrt(m.variance), Src: rng}
	out := mat.NewDense(1, periods, nil)
	out.Set(0, 0, m.intercept/(1-m.persistence))
	for i := 1; i < periods; i++ {
		out.Set(0, i, m.intercept+m.persistence*out.At(0, i-1)+eps.Rand())
	}
	return out, nil
}
