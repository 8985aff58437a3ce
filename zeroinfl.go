// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

// zeroPvalue tests equality of the proportion of zero (dropout)
// observations between the two conditions with a 1-df chi-square test
// on the 2×2 table of (zero, condition) indicators. x[i] reports
// whether sample i has zero expression, y[i] whether it belongs to
// condition 2.
func zeroPvalue(x, y []bool) float64 {
	var obs [2][2]float64
	var rowsum, colsum [2]float64
	sz := float64(len(y))
	for i, yi := range y {
		r, c := 0, 0
		if x[i] {
			r = 1
		}
		if yi {
			c = 1
		}
		obs[r][c]++
		rowsum[r]++
		colsum[c]++
	}
	if rowsum[0] == 0 || rowsum[1] == 0 || colsum[0] == 0 || colsum[1] == 0 {
		return 1
	}
	sum := 0.0
	for r := range obs {
		for c := range obs[r] {
			exp := rowsum[r] * colsum[c] / sz
			d := obs[r][c] - exp
			sum += d * d / exp
		}
	}
	return 1 - chisquared.CDF(sum)
}
