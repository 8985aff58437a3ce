// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"math"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type bayesFactorSuite struct{}

var _ = check.Suite(&bayesFactorSuite{})

func allOnes(n int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = 1
	}
	return labels
}

func (s *bayesFactorSuite) TestFinite(c *check.C) {
	vals := normDraws(5, 0.5, 30, 10)
	lml := logMarginalLikelihood(vals, allOnes(30), defaultPrior())
	c.Check(math.IsNaN(lml), check.Equals, false)
	c.Check(math.IsInf(lml, 0), check.Equals, false)
}

func (s *bayesFactorSuite) TestSplitBeatsPooledOnSeparatedData(c *check.C) {
	// two clumps far apart: the 2-component partition must carry
	// more marginal mass than lumping everything together
	vals := append(normDraws(0, 0.3, 20, 11), normDraws(10, 0.3, 20, 12)...)
	labels2 := make([]int, 40)
	for i := range labels2 {
		if i < 20 {
			labels2[i] = 1
		} else {
			labels2[i] = 2
		}
	}
	pp := defaultPrior()
	c.Check(logMarginalLikelihood(vals, labels2, pp) > logMarginalLikelihood(vals, allOnes(40), pp), check.Equals, true)
}

func (s *bayesFactorSuite) TestObservedBeatsPermutedNull(c *check.C) {
	// condition 1 low, condition 2 high: the observed split aligns
	// perfectly with the clusters, so its statistic must exceed every
	// label-shuffled replicate of the same values
	pp := defaultPrior()
	v1 := normDraws(0, 0.3, 25, 13)
	v2 := normDraws(10, 0.3, 25, 14)
	pooled := append(append([]float64(nil), v1...), v2...)
	p, err := fitPartition(pooled, 3)
	c.Assert(err, check.IsNil)
	p1, err := fitPartition(v1, 3)
	c.Assert(err, check.IsNil)
	p2, err := fitPartition(v2, 3)
	c.Assert(err, check.IsNil)
	obs := bayesFactorStat(v1, p1.Labels, v2, p2.Labels, pooled, p.Labels, pp)
	c.Assert(math.IsNaN(obs), check.Equals, false)

	pooledScore := logMarginalLikelihood(pooled, p.Labels, pp)
	for rep := 0; rep < 20; rep++ {
		rng := rand.New(rand.NewSource(replicateSeed(99, 0, rep)))
		perm := permReplicate(pooled, len(v1), pooledScore, pp, 3, rng)
		c.Assert(math.IsNaN(perm), check.Equals, false)
		c.Check(obs > perm, check.Equals, true, check.Commentf("replicate %d", rep))
	}
}
