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
)

// TemperingSchedule builds the geometric-bend schedule
//
//	φ_k = (k / nStages)^bend,  k = 0..nStages
//
// so φ₀ = 0, φ_nStages = 1 exactly. bend = 1 gives a linear schedule;
// larger values spend more stages at small φ, where the tempered posterior
// changes fastest.
func TemperingSchedule(nStages int, bend float64) ([]float64, error) {
	if nStages < 2 {
		return nil, fmt.Errorf("schedule needs at least 2 stages, got %d", nStages)
	}
	if bend < 1 {
		return nil, fmt.Errorf("schedule bend must be >= 1, got %v", bend)
	}
	sched := make([]float64, nStages+1)
	for k := 0; k <= nStages; k++ {
		sched[k] = math.Pow(float64(k)/float64(nStages), bend)
	}
	sched[nStages] = 1 // guard against Pow rounding
	return sched, nil
}
