// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import "math"

// priorParams is the conjugate Normal/Inverse-Gamma prior
// configuration: Alpha is the concentration parameter of the
// partition prior, Mu0/S0 parameterize the prior on component means,
// A0/B0 the prior on component variances.
type priorParams struct {
	Alpha float64
	Mu0   float64
	S0    float64
	A0    float64
	B0    float64
}

func defaultPrior() priorParams {
	return priorParams{Alpha: 0.01, Mu0: 0, S0: 0.01, A0: 0.01, B0: 0.01}
}

// logMarginalLikelihood computes the log marginal likelihood of vals
// under the given partition, integrating each component's mean and
// variance out analytically (conjugate update), plus the partition's
// own prior mass under the concentration parameter.
func logMarginalLikelihood(vals []float64, labels []int, pp priorParams) float64 {
	nComp := 0
	for _, l := range labels {
		if l > nComp {
			nComp = l
		}
	}

	total := 0.0
	n := float64(len(vals))
	for k := 1; k <= nComp; k++ {
		nk, mean := 0.0, 0.0
		for i, l := range labels {
			if l == k {
				nk++
				mean += vals[i]
			}
		}
		if nk == 0 {
			continue
		}
		mean /= nk
		ss := 0.0
		for i, l := range labels {
			if l == k {
				d := vals[i] - mean
				ss += d * d
			}
		}

		kappaN := pp.S0 + nk
		aN := pp.A0 + nk/2
		dm := mean - pp.Mu0
		bN := pp.B0 + ss/2 + pp.S0*nk*dm*dm/(2*kappaN)

		total += lgamma(aN) - lgamma(pp.A0) +
			pp.A0*math.Log(pp.B0) - aN*math.Log(bN) +
			0.5*(math.Log(pp.S0)-math.Log(kappaN)) -
			nk/2*math.Log(2*math.Pi)

		// partition mass per occupied component
		total += math.Log(pp.Alpha) + lgamma(nk)
	}
	total += lgamma(pp.Alpha) - lgamma(pp.Alpha+n)
	return total
}

// bayesFactorStat is the observed independence statistic for one
// gene: evidence for within-condition structure (each condition
// scored under its own partition) over pooled structure.
func bayesFactorStat(vals1 []float64, labels1 []int, vals2 []float64, labels2 []int, pooled []float64, pooledLabels []int, pp priorParams) float64 {
	alt := logMarginalLikelihood(vals1, labels1, pp) + logMarginalLikelihood(vals2, labels2, pp)
	null := logMarginalLikelihood(pooled, pooledLabels, pp)
	return alt - null
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
