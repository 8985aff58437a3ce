// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/check.v1"
)

// scenarioSuite runs the full pipeline on a small constructed matrix
// with one gene per distributional pattern and checks the calls.
type scenarioSuite struct {
	m    *expressionMatrix
	ci   *conditionInfo
	res  *pipelineResult // without zero testing
	resZ *pipelineResult // with zero testing
}

var _ = check.Suite(&scenarioSuite{})

// gridVals returns n evenly spaced quantiles of N(mu, sigma²). Two
// grids of the same distribution are perfectly balanced samples, so a
// gene built from them sits at the low end of its own permutation
// null and cannot come out significant.
func gridVals(mu, sigma float64, n int) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	return vals
}

func (s *scenarioSuite) SetUpSuite(c *check.C) {
	const nPerCond = 100
	m := &expressionMatrix{}
	for i := 0; i < 2*nPerCond; i++ {
		m.SampleIDs = append(m.SampleIDs, "s")
	}
	addGene := func(id string, cond1, cond2 []float64) {
		row := make([]float64, 2*nPerCond)
		for i, v := range cond1 {
			row[i] = math.Exp(v)
		}
		for i, v := range cond2 {
			row[nPerCond+i] = math.Exp(v)
		}
		m.GeneIDs = append(m.GeneIDs, id)
		m.Data = append(m.Data, row...)
	}

	// identical value sets in both conditions
	addGene("ns", gridVals(6.5, 0.5, 90), gridVals(6.5, 0.5, 90))
	// unimodal shift
	addGene("de", normDraws(5, 0.5, 90, 201), normDraws(8, 0.5, 90, 202))
	// same two modes, swapped proportions
	addGene("dp",
		append(normDraws(5, 0.5, 72, 203), normDraws(8, 0.5, 18, 204)...),
		append(normDraws(5, 0.5, 18, 205), normDraws(8, 0.5, 72, 206)...))
	// one mode retained, a second mode appears
	addGene("dm",
		normDraws(5, 0.5, 90, 207),
		append(normDraws(5, 0.5, 45, 208), normDraws(8, 0.5, 45, 209)...))
	// unimodal middle vs straddling modes
	addGene("db",
		normDraws(6.5, 0.5, 90, 210),
		append(normDraws(5, 0.5, 45, 211), normDraws(8, 0.5, 45, 212)...))
	// same nonzero distribution, very different dropout
	addGene("dz", gridVals(6.5, 0.5, 90), gridVals(6.5, 0.5, 50))

	s.m = m
	s.ci = &conditionInfo{Ref: "A", Other: "B", IsCond2: make([]bool, 2*nPerCond)}
	for i := nPerCond; i < 2*nPerCond; i++ {
		s.ci.IsCond2[i] = true
	}

	rp := runParams{Permutations: 40, ParallelBy: "Genes", MinSize: 3, Threads: 4, Seed: 7}
	var err error
	s.res, err = runPipeline(m, s.ci, defaultPrior(), rp)
	c.Assert(err, check.IsNil)
	rp.TestZeroes = true
	s.resZ, err = runPipeline(m, s.ci, defaultPrior(), rp)
	c.Assert(err, check.IsNil)
}

func (s *scenarioSuite) record(c *check.C, res *pipelineResult, gene string) resultRecord {
	for _, rec := range res.Records {
		if rec.Gene == gene {
			return rec
		}
	}
	c.Fatalf("no record for gene %q", gene)
	return resultRecord{}
}

func (s *scenarioSuite) TestCategories(c *check.C) {
	for gene, want := range map[string]category{
		"ns": catNS,
		"de": catDE,
		"dp": catDP,
		"dm": catDM,
		"db": catDB,
		"dz": catNS, // nonzero parts match; only the dropout differs
	} {
		c.Check(s.record(c, s.res, gene).Category, check.Equals, want,
			check.Commentf("gene %s", gene))
	}
}

func (s *scenarioSuite) TestClusterCounts(c *check.C) {
	de := s.record(c, s.res, "de")
	c.Check(de.ClustersCombined, check.Equals, 2)
	c.Check(de.ClustersCond1, check.Equals, 1)
	c.Check(de.ClustersCond2, check.Equals, 1)

	dp := s.record(c, s.res, "dp")
	c.Check(dp.ClustersCond1, check.Equals, 2)
	c.Check(dp.ClustersCond2, check.Equals, 2)

	dm := s.record(c, s.res, "dm")
	c.Check(dm.ClustersCond1, check.Equals, 1)
	c.Check(dm.ClustersCond2, check.Equals, 2)
}

func (s *scenarioSuite) TestPvalues(c *check.C) {
	for _, gene := range []string{"de", "dp", "dm", "db"} {
		rec := s.record(c, s.res, gene)
		c.Check(rec.NonzeroPAdj < 0.05, check.Equals, true, check.Commentf("gene %s", gene))
		c.Check(rec.NonzeroPAdj >= rec.NonzeroP, check.Equals, true)
	}
	c.Check(s.record(c, s.res, "ns").NonzeroPAdj >= 0.05, check.Equals, true)
}

func (s *scenarioSuite) TestZeroInflation(c *check.C) {
	c.Check(s.record(c, s.resZ, "dz").Category, check.Equals, catDZ)
	c.Check(s.record(c, s.resZ, "ns").Category, check.Equals, catNS)
	// strongly DD genes keep their pattern under the halved threshold
	c.Check(s.record(c, s.resZ, "de").Category, check.Equals, catDE)

	// zero-test p-values only exist for genes that reached the zero test
	c.Check(math.IsNaN(s.record(c, s.resZ, "de").ZeroP), check.Equals, true)
	c.Check(math.IsNaN(s.record(c, s.resZ, "dz").ZeroP), check.Equals, false)
	// and never in the table when zero testing was off
	c.Check(math.IsNaN(s.record(c, s.res, "dz").ZeroP), check.Equals, true)
}

func (s *scenarioSuite) TestAssignmentMaps(c *check.C) {
	nGenes, nSamples := s.m.Genes(), s.m.Samples()
	c.Assert(len(s.res.Combined), check.Equals, nGenes*nSamples)
	c.Assert(len(s.res.Cond1Map), check.Equals, nGenes*s.res.N1)
	c.Assert(len(s.res.Cond2Map), check.Equals, nGenes*s.res.N2)

	for gene := 0; gene < nGenes; gene++ {
		row := s.m.Row(gene)
		i1, i2 := 0, 0
		for sample, v := range row {
			combined := s.res.Combined[gene*nSamples+sample]
			var grouped int32
			if s.ci.IsCond2[sample] {
				grouped = s.res.Cond2Map[gene*s.res.N2+i2]
				i2++
			} else {
				grouped = s.res.Cond1Map[gene*s.res.N1+i1]
				i1++
			}
			if v == 0 {
				c.Check(combined, check.Equals, int32(0))
				c.Check(grouped, check.Equals, int32(0))
			} else {
				c.Check(combined >= 1, check.Equals, true)
				c.Check(grouped >= 1, check.Equals, true)
			}
		}
	}
}
