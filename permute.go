// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// runParams is the run configuration of the testing engine.
type runParams struct {
	Permutations int
	TestZeroes   bool
	AdjustPerms  bool
	ParallelBy   string // "Genes" or "Permutations"
	MinSize      int
	MinNonzero   int
	Threads      int
	Seed         uint64
}

func (rp *runParams) validate() error {
	if rp.Permutations < 0 {
		return fmt.Errorf("permutations must be >= 0, got %d", rp.Permutations)
	}
	if rp.MinSize < 1 {
		return fmt.Errorf("min-size must be >= 1, got %d", rp.MinSize)
	}
	if rp.MinNonzero == 0 {
		rp.MinNonzero = rp.MinSize
	}
	if rp.Threads < 1 {
		rp.Threads = 1
	}
	if _, err := strategyFor(rp.ParallelBy); err != nil {
		return err
	}
	return nil
}

// geneOutcome is the immutable per-gene result of the testing engine.
type geneOutcome struct {
	Gene   int
	Stat   float64 // observed Bayes-factor difference, or KS statistic
	Pvalue float64 // empirical or analytic; NaN when not computable
	Pooled *partition
	Cond1  *partition
	Cond2  *partition
	Err    error
}

// permStrategy distributes the per-gene permutation work. Both
// implementations produce identical results for a given seed: every
// replicate draws from a stream seeded by (seed, gene, replicate).
type permStrategy interface {
	run(genes []geneVectors, pp priorParams, rp runParams) []geneOutcome
}

func strategyFor(name string) (permStrategy, error) {
	switch name {
	case "Genes":
		return byGenes{}, nil
	case "Permutations":
		return byPermutations{}, nil
	default:
		return nil, fmt.Errorf("unknown parallel-by value %q (want \"Genes\" or \"Permutations\")", name)
	}
}

// byGenes distributes genes across workers; each worker loops its
// gene through all replicates sequentially. Preferred when the gene
// count exceeds the replicate count.
type byGenes struct{}

func (byGenes) run(genes []geneVectors, pp priorParams, rp runParams) []geneOutcome {
	results := make([]geneOutcome, len(genes))
	th := throttle{Max: rp.Threads}
	for i, g := range genes {
		i, g := i, g
		th.Go(func() error {
			gp := prepareGene(g, pp, rp)
			if !gp.needPerms {
				results[i] = gp.out
				return nil
			}
			stats := make([]float64, rp.Permutations)
			for rep := range stats {
				rng := rand.New(rand.NewSource(replicateSeed(rp.Seed, g.Gene, rep)))
				stats[rep] = permReplicate(gp.vals, gp.n1, gp.pooledScore, pp, rp.MinSize, rng)
			}
			results[i] = gp.finish(stats)
			return nil
		})
	}
	th.Wait()
	return results
}

// byPermutations processes genes one at a time, distributing each
// gene's replicates across workers. Preferred when the replicate
// count exceeds the gene count.
type byPermutations struct{}

func (byPermutations) run(genes []geneVectors, pp priorParams, rp runParams) []geneOutcome {
	results := make([]geneOutcome, len(genes))
	for i, g := range genes {
		gp := prepareGene(g, pp, rp)
		if !gp.needPerms {
			results[i] = gp.out
			continue
		}
		stats := make([]float64, rp.Permutations)
		th := throttle{Max: rp.Threads}
		for rep := range stats {
			rep := rep
			th.Go(func() error {
				rng := rand.New(rand.NewSource(replicateSeed(rp.Seed, g.Gene, rep)))
				stats[rep] = permReplicate(gp.vals, gp.n1, gp.pooledScore, pp, rp.MinSize, rng)
				return nil
			})
		}
		th.Wait()
		results[i] = gp.finish(stats)
	}
	return results
}

func replicateSeed(seed uint64, gene, rep int) uint64 {
	return seed ^ uint64(gene+1)*0x9e3779b97f4a7c15 ^ uint64(rep+1)*0xbf58476d1ce4e5b9
}

// genePerm holds a gene's observed statistic and everything a
// replicate needs, so the two strategies can share one code path.
type genePerm struct {
	out         geneOutcome
	vals        []float64
	n1          int
	obs         float64
	pooledScore float64
	needPerms   bool
}

// prepareGene fits the partitions of record on the raw log values,
// then computes the observed statistic: the KS test when no
// permutations are requested, otherwise the Bayes-factor difference
// on the (optionally detection-rate-adjusted) values.
func prepareGene(g geneVectors, pp priorParams, rp runParams) *genePerm {
	gp := &genePerm{n1: g.N1}
	gp.out.Gene = g.Gene
	gp.out.Stat = math.NaN()
	gp.out.Pvalue = math.NaN()

	pooled, err := fitPartition(g.LogValues, rp.MinSize)
	if err == nil {
		gp.out.Pooled = pooled
		gp.out.Cond1, err = fitPartition(g.cond1(), rp.MinSize)
	}
	if err == nil {
		gp.out.Cond2, err = fitPartition(g.cond2(), rp.MinSize)
	}
	if err != nil {
		gp.out.Err = fmt.Errorf("gene %d: %w", g.Gene, err)
		return gp
	}

	if rp.Permutations == 0 {
		gp.out.Stat, gp.out.Pvalue = ksTest(g.cond1(), g.cond2())
		return gp
	}

	gp.vals = g.LogValues
	p1, p2 := gp.out.Cond1, gp.out.Cond2
	pooledPart := gp.out.Pooled
	if rp.AdjustPerms {
		adj := detectionRateResiduals(g.LogValues, g.Detect)
		ap, err := fitPartition(adj, rp.MinSize)
		a1, err1 := fitPartition(adj[:g.N1], rp.MinSize)
		a2, err2 := fitPartition(adj[g.N1:], rp.MinSize)
		if err == nil && err1 == nil && err2 == nil {
			gp.vals, pooledPart, p1, p2 = adj, ap, a1, a2
		} else {
			log.Warnf("gene %d: detection-rate adjustment degenerate, using unadjusted values", g.Gene)
		}
	}
	gp.pooledScore = logMarginalLikelihood(gp.vals, pooledPart.Labels, pp)
	gp.obs = bayesFactorStat(gp.vals[:gp.n1], p1.Labels, gp.vals[gp.n1:], p2.Labels, gp.vals, pooledPart.Labels, pp)
	gp.out.Stat = gp.obs
	gp.needPerms = true
	return gp
}

// finish turns the replicate statistics into the empirical p-value:
// the proportion of valid replicates with a statistic at least as
// large as the observed one. Degenerate replicates (NaN) are dropped
// from the denominator.
func (gp *genePerm) finish(stats []float64) geneOutcome {
	exceed, valid := 0, 0
	for _, s := range stats {
		if math.IsNaN(s) {
			continue
		}
		valid++
		if s >= gp.obs {
			exceed++
		}
	}
	if valid == 0 {
		log.Warnf("gene %d: all %d permutation replicates degenerate", gp.out.Gene, len(stats))
		return gp.out
	}
	if valid < len(stats) {
		log.Warnf("gene %d: %d of %d permutation replicates degenerate", gp.out.Gene, len(stats)-valid, len(stats))
	}
	gp.out.Pvalue = float64(exceed) / float64(valid)
	return gp.out
}

// permReplicate shuffles the condition labels across the gene's
// nonzero samples, refits the two group partitions, and returns the
// replicate's statistic. Returns NaN when the shuffled split cannot
// be fit.
func permReplicate(vals []float64, n1 int, pooledScore float64, pp priorParams, minSize int, rng *rand.Rand) float64 {
	perm := append([]float64(nil), vals...)
	rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	p1, err := fitPartition(perm[:n1], minSize)
	if err != nil {
		return math.NaN()
	}
	p2, err := fitPartition(perm[n1:], minSize)
	if err != nil {
		return math.NaN()
	}
	return logMarginalLikelihood(perm[:n1], p1.Labels, pp) +
		logMarginalLikelihood(perm[n1:], p2.Labels, pp) -
		pooledScore
}
