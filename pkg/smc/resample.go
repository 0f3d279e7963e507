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
	"sort"

	"golang.org/x/exp/rand"
)

// Resampler selects a new population of particle indices from a weight
// vector. Implementations receive weights normalized to sum one and must
// return exactly len(weights) indices.
type Resampler interface {
	Resample(weights []float64, rng *rand.Rand) ([]int, error)

	// Name identifies the scheme in logs and checkpoints.
	Name() string
}

// SystematicResampler draws a single uniform offset and takes evenly spaced
// points through the cumulative weight distribution. Lower variance than
// multinomial resampling and O(n).
type SystematicResampler struct{}

// Name returns "systematic".
func (SystematicResampler) Name() string { return "systematic" }

// Resample implements Resampler.
func (SystematicResampler) Resample(weights []float64, rng *rand.Rand) ([]int, error) {
	n := len(weights)
	if n == 0 {
		return nil, fmt.Errorf("empty weight vector")
	}
	indices := make([]int, n)
	u := rng.Float64() / float64(n)
	var cum float64
	j := 0
	for i := 0; i < n; i++ {
		target := u + float64(i)/float64(n)
		for cum+weights[j] < target && j < n-1 {
			cum += weights[j]
			j++
		}
		indices[i] = j
	}
	return indices, nil
}

// MultinomialResampler draws each new index independently from the weight
// distribution. Higher variance than systematic but statistically simplest.
type MultinomialResampler struct{}

// Name returns "multinomial".
func (MultinomialResampler) Name() string { return "multinomial" }

// Resample implements Resampler.
func (MultinomialResampler) Resample(weights []float64, rng *rand.Rand) ([]int, error) {
	n := len(weights)
	if n == 0 {
		return nil, fmt.Errorf("empty weight vector")
	}
	cum := make([]float64, n)
	var sum float64
	for i, w := range weights {
		sum += w
		cum[i] = sum
	}
	if sum <= 0 {
		return nil, fmt.Errorf("weight sum must be positive, got %v", sum)
	}
	indices := make([]int, n)
	for i := range indices {
		u := rng.Float64() * sum
		indices[i] = sort.SearchFloat64s(cum, u)
		if indices[i] >= n {
			indices[i] = n - 1
		}
	}
	return indices, nil
}

// NewResampler returns the resampler for a scheme name, defaulting to
// systematic for an empty name.
func NewResampler(name string) (Resampler, error) {
	switch name {
	case "", "systematic":
		return SystematicResampler{}, nil
	case "multinomial":
		return MultinomialResampler{}, nil
	default:
		return nil, fmt.Errorf("unknown resampling scheme %q", name)
	}
}
