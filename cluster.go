// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// errDegenerateInput is returned when a value vector reaching the
// fitter cannot support a mixture fit (fewer than 2 distinct values).
// Callers are expected to have screened such genes out already.
var errDegenerateInput = errors.New("degenerate input: fewer than 2 distinct values")

const (
	maxComponents = 9
	emMaxIter     = 500
	emTol         = 1e-8
	minVariance   = 1e-8
)

// partition is the fitted component assignment for one value vector.
// Labels are dense positive integers ordered by ascending component
// mean. Every observation keeps a label; components smaller than the
// min.size restriction are only excluded from the Valid count.
type partition struct {
	Labels []int     // per-observation component label, 1-based
	Means  []float64 // component means, ascending; Means[k-1] for label k
	Counts []int     // observations per component
	Fracs  []float64 // Counts normalized by len(Labels)
	Sigma  float64   // common within-component standard deviation
	Valid  int       // components with at least minSize members
}

// validMeans returns the means of components meeting the min.size
// restriction, ascending.
func (p *partition) validMeans(minSize int) []float64 {
	var means []float64
	for k, n := range p.Counts {
		if n >= minSize {
			means = append(means, p.Means[k])
		}
	}
	return means
}

// fitPartition fits an equal-variance mixture of normals to vals
// (log-transformed nonzero expression), choosing the component count
// by BIC, and applies the min.size restriction to the reported valid
// component count.
func fitPartition(vals []float64, minSize int) (*partition, error) {
	n := len(vals)
	distinct := countDistinct(vals)
	if n < 2 || distinct < 2 {
		return nil, errDegenerateInput
	}
	maxK := maxComponents
	if maxK > distinct {
		maxK = distinct
	}
	if maxK > n/2 {
		maxK = n / 2
	}
	if maxK < 1 {
		maxK = 1
	}

	var best *emFit
	bestBIC := math.Inf(-1)
	for k := 1; k <= maxK; k++ {
		fit, ok := emFitComponents(vals, k)
		if !ok {
			continue
		}
		// free parameters: k means, k-1 weights, 1 shared variance
		bic := 2*fit.loglik - float64(2*k)*math.Log(float64(n))
		if bic > bestBIC {
			bestBIC = bic
			best = fit
		}
	}
	if best == nil {
		return nil, errDegenerateInput
	}
	return best.partition(minSize), nil
}

func countDistinct(vals []float64) int {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	distinct := 0
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct++
		}
	}
	return distinct
}

type emFit struct {
	vals   []float64
	means  []float64
	logw   []float64
	sigma2 float64
	loglik float64
}

// emFitComponents runs equal-variance EM with k components and
// deterministic quantile initialization. ok is false if a component
// loses all its mass during iteration.
func emFitComponents(vals []float64, k int) (*emFit, bool) {
	n := len(vals)
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	means := make([]float64, k)
	for j := 0; j < k; j++ {
		q := (float64(j) + 0.5) / float64(k)
		means[j] = sorted[int(q*float64(n))]
	}
	sigma2 := stat.Variance(vals, nil)
	if k > 1 {
		sigma2 /= float64(k)
	}
	if sigma2 < minVariance {
		sigma2 = minVariance
	}
	logw := make([]float64, k)
	for j := range logw {
		logw[j] = -math.Log(float64(k))
	}

	resp := make([]float64, n*k) // responsibilities, row-major
	lp := make([]float64, k)
	loglik := math.Inf(-1)
	for iter := 0; iter < emMaxIter; iter++ {
		// E step
		ll := 0.0
		for i, x := range vals {
			for j := 0; j < k; j++ {
				lp[j] = logw[j] + logNormPDF(x, means[j], sigma2)
			}
			tot := floats.LogSumExp(lp)
			ll += tot
			for j := 0; j < k; j++ {
				resp[i*k+j] = math.Exp(lp[j] - tot)
			}
		}
		// M step
		newSigma2 := 0.0
		for j := 0; j < k; j++ {
			nk, sum := 0.0, 0.0
			for i, x := range vals {
				nk += resp[i*k+j]
				sum += resp[i*k+j] * x
			}
			if nk < 1e-10 {
				return nil, false
			}
			means[j] = sum / nk
			logw[j] = math.Log(nk / float64(n))
			for i, x := range vals {
				d := x - means[j]
				newSigma2 += resp[i*k+j] * d * d
			}
		}
		sigma2 = newSigma2 / float64(n)
		if sigma2 < minVariance {
			sigma2 = minVariance
		}
		if math.Abs(ll-loglik) < emTol {
			loglik = ll
			break
		}
		loglik = ll
	}
	return &emFit{vals: vals, means: means, logw: logw, sigma2: sigma2, loglik: loglik}, true
}

func logNormPDF(x, mean, sigma2 float64) float64 {
	d := x - mean
	return -0.5*math.Log(2*math.Pi*sigma2) - d*d/(2*sigma2)
}

// partition converts the EM fit into hard assignments: each
// observation goes to its most probable component, components are
// relabeled densely in ascending-mean order, and components left
// empty by the hard assignment are dropped.
func (f *emFit) partition(minSize int) *partition {
	k := len(f.means)
	order := make([]int, k)
	for j := range order {
		order[j] = j
	}
	sort.Slice(order, func(a, b int) bool { return f.means[order[a]] < f.means[order[b]] })

	raw := make([]int, len(f.vals)) // component index in f.means
	counts := make([]int, k)
	for i, x := range f.vals {
		bestJ, bestLP := 0, math.Inf(-1)
		for j := 0; j < k; j++ {
			lp := f.logw[j] + logNormPDF(x, f.means[j], f.sigma2)
			if lp > bestLP {
				bestJ, bestLP = j, lp
			}
		}
		raw[i] = bestJ
		counts[bestJ]++
	}

	// dense labels, ascending mean, empty components dropped
	label := make([]int, k)
	p := &partition{Labels: make([]int, len(f.vals)), Sigma: math.Sqrt(f.sigma2)}
	next := 1
	for _, j := range order {
		if counts[j] == 0 {
			continue
		}
		label[j] = next
		p.Means = append(p.Means, f.means[j])
		p.Counts = append(p.Counts, counts[j])
		p.Fracs = append(p.Fracs, float64(counts[j])/float64(len(f.vals)))
		next++
	}
	for i, j := range raw {
		p.Labels[i] = label[j]
	}
	for _, n := range p.Counts {
		if n >= minSize {
			p.Valid++
		}
	}
	return p
}
