// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// geneVectors is the per-gene input to the modeling stages: the
// log-transformed nonzero values (condition 1 first, then condition
// 2), the matrix column each value came from, and the detection-rate
// covariate aligned with the values.
type geneVectors struct {
	Gene        int
	LogValues   []float64
	N1          int // LogValues[:N1] belong to condition 1
	NonzeroCols []int
	Detect      []float64
}

func (g geneVectors) cond1() []float64 { return g.LogValues[:g.N1] }
func (g geneVectors) cond2() []float64 { return g.LogValues[g.N1:] }

func splitGene(gene int, row []float64, isCond2 []bool, detrates []float64) geneVectors {
	g := geneVectors{Gene: gene}
	for pass := 0; pass < 2; pass++ {
		for col, v := range row {
			if v <= 0 || isCond2[col] != (pass == 1) {
				continue
			}
			g.LogValues = append(g.LogValues, math.Log(v))
			g.NonzeroCols = append(g.NonzeroCols, col)
			g.Detect = append(g.Detect, detrates[col])
			if pass == 0 {
				g.N1++
			}
		}
	}
	return g
}

// testable reports whether the gene can support the mixture fit: each
// condition group needs at least max(minSize, 2, minNonzero) nonzero
// observations and at least 2 distinct values.
func (g geneVectors) testable(minSize, minNonzero int) bool {
	need := minSize
	if need < 2 {
		need = 2
	}
	if need < minNonzero {
		need = minNonzero
	}
	if g.N1 < need || len(g.LogValues)-g.N1 < need {
		return false
	}
	return countDistinct(g.cond1()) > 1 && countDistinct(g.cond2()) > 1
}

// filterGenes splits every gene of the matrix and partitions the gene
// indices into testable and excluded sets. Excluded genes are routed
// to the zero-inflation path (or skipped) by the caller.
func filterGenes(m *expressionMatrix, ci *conditionInfo, detrates []float64, minSize, minNonzero int) (testable []geneVectors, excluded []int) {
	for gene := 0; gene < m.Genes(); gene++ {
		g := splitGene(gene, m.Row(gene), ci.IsCond2, detrates)
		if g.testable(minSize, minNonzero) {
			testable = append(testable, g)
		} else {
			excluded = append(excluded, gene)
		}
	}
	log.Infof("gene filter: %d testable, %d excluded", len(testable), len(excluded))
	return
}
