// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"math"

	"github.com/montanaflynn/stats"
)

// category is the per-gene differential-distribution call.
type category string

const (
	catDE category = "DE" // differential expression: mean shift, unimodal
	catDP category = "DP" // differential proportion: same modes, shifted weights
	catDM category = "DM" // differential modality
	catDB category = "DB" // both modality and mean shift
	catDZ category = "DZ" // differential zero proportion
	catNS category = "NS" // not significant
)

// Two component means "match" when they are within meanMatchSDs
// common within-component standard deviations of the pooled fit.
// recoverySDs is the stricter separation required before a
// non-significant gene is recovered as DE on mean shift alone.
const (
	meanMatchSDs = 1.0
	recoverySDs  = 2.0
)

// classifyDD assigns one of the four DD patterns to a gene already
// flagged significant, comparing valid-component structure and
// component locations between the two condition fits.
func classifyDD(pooled, c1, c2 *partition, minSize int) category {
	m1 := c1.validMeans(minSize)
	m2 := c2.validMeans(minSize)
	if len(m1) == 0 || len(m2) == 0 {
		// no component survived the size restriction; the modality
		// comparison is meaningless, call it DB
		return catDB
	}
	tol := meanMatchSDs * pooled.Sigma

	if len(m1) != len(m2) {
		small, large := m1, m2
		if len(small) > len(large) {
			small, large = large, small
		}
		if allMatch(small, large, tol) {
			return catDM
		}
		return catDB
	}

	if len(m1) == 1 {
		if math.Abs(m1[0]-m2[0]) > tol {
			return catDE
		}
		return catDB
	}

	// same multimodal structure: matching locations mean only the
	// component weights can explain the significance
	for i := range m1 {
		if math.Abs(m1[i]-m2[i]) > tol {
			return catDB
		}
	}
	return catDP
}

// allMatch reports whether every mean in small has a partner in large
// within tol. large is consumed left to right (both are ascending).
func allMatch(small, large []float64, tol float64) bool {
	j := 0
	for _, m := range small {
		for j < len(large) && large[j] < m-tol {
			j++
		}
		if j >= len(large) || large[j] > m+tol {
			return false
		}
		j++
	}
	return true
}

// recoverShift re-examines a gene that was not flagged significant:
// a condition mean shift beyond recoverySDs pooled standard
// deviations is strong enough evidence to recover the gene as DE.
func recoverShift(g geneVectors, pooled *partition) bool {
	mean1, err1 := stats.Mean(g.cond1())
	mean2, err2 := stats.Mean(g.cond2())
	if err1 != nil || err2 != nil {
		return false
	}
	return math.Abs(mean1-mean2) > recoverySDs*pooled.Sigma
}
