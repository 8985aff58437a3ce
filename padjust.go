// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"math"
	"sort"
)

// adjustBH applies the Benjamini-Hochberg step-up correction. NaN
// entries (genes that were not tested) pass through unchanged and do
// not count toward the number of tests. Adjusted values are clamped
// to [raw, 1].
func adjustBH(p []float64) []float64 {
	adj := make([]float64, len(p))
	var idx []int
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = v
		} else {
			idx = append(idx, i)
		}
	}
	m := len(idx)
	if m == 0 {
		return adj
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	running := 1.0
	for rank := m - 1; rank >= 0; rank-- {
		v := p[idx[rank]] * float64(m) / float64(rank+1)
		if v < running {
			running = v
		}
		a := running
		if a < p[idx[rank]] {
			a = p[idx[rank]]
		}
		adj[idx[rank]] = a
	}
	return adj
}
