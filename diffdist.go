// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// diffDist is the "diff-dist" command: the full differential
// distribution pipeline from expression matrix to result table and
// cluster-assignment maps.
type diffDist struct {
	prior priorParams
	rp    runParams
}

func (cmd *diffDist) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *diffDist) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input expression matrix `file` (.csv, .csv.gz, or .npy)")
	geneIDsFilename := flags.String("gene-ids", "", "gene ID `file`, one per line (only with .npy input)")
	samplesFilename := flags.String("samples", "", "`samples.csv` file with sample metadata")
	conditionColumn := flags.String("condition-column", "Condition", "name of the binary condition column in the samples file")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	flags.IntVar(&cmd.rp.Permutations, "permutations", 0, "number of label permutations per gene (0: use KS test)")
	flags.BoolVar(&cmd.rp.TestZeroes, "test-zeroes", false, "also test dropout-rate differences for non-DD genes")
	flags.BoolVar(&cmd.rp.AdjustPerms, "adjust-perms", false, "regress the detection-rate covariate out before permuting")
	flags.StringVar(&cmd.rp.ParallelBy, "parallel-by", "Genes", "work distribution `strategy`: Genes or Permutations")
	flags.IntVar(&cmd.rp.MinSize, "min-size", 3, "minimum cluster size `N`")
	flags.IntVar(&cmd.rp.MinNonzero, "min-nonzero", 0, "minimum nonzero observations per condition (default: min-size)")
	flags.IntVar(&cmd.rp.Threads, "threads", 8, "number of worker threads")
	seed := flags.Uint64("random-seed", 1, "PRNG seed for the permutation streams")
	flags.Float64Var(&cmd.prior.Alpha, "alpha", 0.01, "concentration parameter of the partition prior")
	flags.Float64Var(&cmd.prior.Mu0, "mu0", 0, "prior mean of component means")
	flags.Float64Var(&cmd.prior.S0, "s0", 0.01, "prior precision scale of component means")
	flags.Float64Var(&cmd.prior.A0, "a0", 0.01, "shape of the component variance prior")
	flags.Float64Var(&cmd.prior.B0, "b0", 0.01, "rate of the component variance prior")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	cmd.rp.Seed = *seed

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if *inputFilename == "" || *samplesFilename == "" {
		return fmt.Errorf("must provide -i and -samples")
	}
	err = cmd.rp.validate()
	if err != nil {
		return err
	}

	m, err := loadExpressionMatrix(*inputFilename, *geneIDsFilename)
	if err != nil {
		return err
	}
	ci, err := loadConditions(*samplesFilename, *conditionColumn, m.SampleIDs)
	if err != nil {
		return err
	}

	res, err := runPipeline(m, ci, cmd.prior, cmd.rp)
	if err != nil {
		return err
	}
	return res.write(*outputDir, m, ci)
}

// resultRecord is the per-gene row of the output table. Cluster
// counts are -1 for genes that were not fit.
type resultRecord struct {
	Gene             string
	NonzeroP         float64
	NonzeroPAdj      float64
	ZeroP            float64
	ZeroPAdj         float64
	Category         category
	ClustersCombined int
	ClustersCond1    int
	ClustersCond2    int
}

type pipelineResult struct {
	Records    []resultRecord
	TestZeroes bool

	// gene × sample assignment maps; 0 marks dropout
	Combined []int32
	Cond1Map []int32
	Cond2Map []int32
	N1, N2   int
}

// runPipeline executes the full modeling-and-testing sequence:
// filter, fit, test, adjust, classify, zero-test.
func runPipeline(m *expressionMatrix, ci *conditionInfo, pp priorParams, rp runParams) (*pipelineResult, error) {
	err := rp.validate()
	if err != nil {
		return nil, err
	}
	strategy, err := strategyFor(rp.ParallelBy)
	if err != nil {
		return nil, err
	}

	detrates := m.detectionRates()
	testable, _ := filterGenes(m, ci, detrates, rp.MinSize, rp.MinNonzero)
	outcomes := strategy.run(testable, pp, rp)

	nGenes := m.Genes()
	rawP := make([]float64, nGenes)
	for i := range rawP {
		rawP[i] = math.NaN()
	}
	byGene := make(map[int]*geneOutcome, len(outcomes))
	vecsByGene := make(map[int]geneVectors, len(testable))
	for i := range outcomes {
		out := &outcomes[i]
		if out.Err != nil {
			log.Warnf("%s (gene excluded from results)", out.Err)
			continue
		}
		byGene[out.Gene] = out
		rawP[out.Gene] = out.Pvalue
	}
	for _, g := range testable {
		vecsByGene[g.Gene] = g
	}
	adjP := adjustBH(rawP)

	sigThreshold := 0.05
	if rp.TestZeroes {
		// reserve half the error budget for the separate zero test
		sigThreshold = 0.025
	}

	res := &pipelineResult{TestZeroes: rp.TestZeroes}
	cats := make([]category, nGenes)
	nDD := 0
	for gene := 0; gene < nGenes; gene++ {
		cats[gene] = catNS
		out := byGene[gene]
		if out == nil || math.IsNaN(adjP[gene]) {
			continue
		}
		if adjP[gene] < sigThreshold {
			cats[gene] = classifyDD(out.Pooled, out.Cond1, out.Cond2, rp.MinSize)
			nDD++
		} else if recoverShift(vecsByGene[gene], out.Pooled) {
			cats[gene] = catDE
			nDD++
		}
	}
	log.Infof("%d of %d genes called differentially distributed", nDD, nGenes)

	// zero-inflation test for everything that is not a DD gene,
	// including genes the filter excluded
	zeroP := make([]float64, nGenes)
	for i := range zeroP {
		zeroP[i] = math.NaN()
	}
	var zeroPAdj []float64
	if rp.TestZeroes {
		for gene := 0; gene < nGenes; gene++ {
			if cats[gene] != catNS {
				continue
			}
			zero := make([]bool, m.Samples())
			for s, v := range m.Row(gene) {
				zero[s] = v == 0
			}
			zeroP[gene] = zeroPvalue(zero, ci.IsCond2)
		}
		zeroPAdj = adjustBH(zeroP)
		nDZ := 0
		for gene := 0; gene < nGenes; gene++ {
			if !math.IsNaN(zeroPAdj[gene]) && zeroPAdj[gene] < 0.025 {
				cats[gene] = catDZ
				nDZ++
			}
		}
		log.Infof("%d genes called differentially zero-inflated", nDZ)
	} else {
		zeroPAdj = zeroP
	}

	res.Records = make([]resultRecord, nGenes)
	for gene := 0; gene < nGenes; gene++ {
		rec := resultRecord{
			Gene:             m.GeneIDs[gene],
			NonzeroP:         rawP[gene],
			NonzeroPAdj:      adjP[gene],
			ZeroP:            zeroP[gene],
			ZeroPAdj:         zeroPAdj[gene],
			Category:         cats[gene],
			ClustersCombined: -1,
			ClustersCond1:    -1,
			ClustersCond2:    -1,
		}
		if out := byGene[gene]; out != nil {
			rec.ClustersCombined = out.Pooled.Valid
			rec.ClustersCond1 = out.Cond1.Valid
			rec.ClustersCond2 = out.Cond2.Valid
		}
		res.Records[gene] = rec
	}

	res.buildMaps(m, ci, byGene, vecsByGene)
	return res, nil
}

// buildMaps fills the three gene × sample cluster-assignment maps.
// Zero expression maps to 0 everywhere; nonzero observations of genes
// that were never fit carry the trivial label 1.
func (res *pipelineResult) buildMaps(m *expressionMatrix, ci *conditionInfo, byGene map[int]*geneOutcome, vecsByGene map[int]geneVectors) {
	nGenes, nSamples := m.Genes(), m.Samples()
	res.N1, res.N2 = ci.counts()
	groupCol := make([]int, nSamples)
	g1, g2 := 0, 0
	for s := range groupCol {
		if ci.IsCond2[s] {
			groupCol[s] = g2
			g2++
		} else {
			groupCol[s] = g1
			g1++
		}
	}

	res.Combined = make([]int32, nGenes*nSamples)
	res.Cond1Map = make([]int32, nGenes*res.N1)
	res.Cond2Map = make([]int32, nGenes*res.N2)
	for gene := 0; gene < nGenes; gene++ {
		set := func(s int, combined, grouped int32) {
			res.Combined[gene*nSamples+s] = combined
			if ci.IsCond2[s] {
				res.Cond2Map[gene*res.N2+groupCol[s]] = grouped
			} else {
				res.Cond1Map[gene*res.N1+groupCol[s]] = grouped
			}
		}
		out := byGene[gene]
		if out == nil {
			for s, v := range m.Row(gene) {
				if v > 0 {
					set(s, 1, 1)
				}
			}
			continue
		}
		g := vecsByGene[gene]
		for i, s := range g.NonzeroCols {
			var grouped int
			if i < g.N1 {
				grouped = out.Cond1.Labels[i]
			} else {
				grouped = out.Cond2.Labels[i-g.N1]
			}
			set(s, int32(out.Pooled.Labels[i]), int32(grouped))
		}
	}
}

func (res *pipelineResult) write(outputDir string, m *expressionMatrix, ci *conditionInfo) error {
	f, err := os.Create(outputDir + "/results.csv")
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if res.TestZeroes {
		_, err = fmt.Fprint(w, "Gene,NonzeroPvalue,NonzeroPvalueAdj,ZeroPvalue,ZeroPvalueAdj,Category,ClustersCombined,ClustersCond1,ClustersCond2\n")
	} else {
		_, err = fmt.Fprint(w, "Gene,NonzeroPvalue,NonzeroPvalueAdj,Category,ClustersCombined,ClustersCond1,ClustersCond2\n")
	}
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		if res.TestZeroes {
			_, err = fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%s,%s\n", rec.Gene,
				fmtP(rec.NonzeroP), fmtP(rec.NonzeroPAdj),
				fmtP(rec.ZeroP), fmtP(rec.ZeroPAdj),
				rec.Category, fmtN(rec.ClustersCombined), fmtN(rec.ClustersCond1), fmtN(rec.ClustersCond2))
		} else {
			_, err = fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s\n", rec.Gene,
				fmtP(rec.NonzeroP), fmtP(rec.NonzeroPAdj),
				rec.Category, fmtN(rec.ClustersCombined), fmtN(rec.ClustersCond1), fmtN(rec.ClustersCond2))
		}
		if err != nil {
			return err
		}
	}
	err = w.Flush()
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}

	nGenes := len(res.Records)
	err = writeClusterMap(outputDir+"/clusters.npy", res.Combined, nGenes, res.N1+res.N2)
	if err != nil {
		return err
	}
	err = writeClusterMap(outputDir+"/clusters.cond1.npy", res.Cond1Map, nGenes, res.N1)
	if err != nil {
		return err
	}
	err = writeClusterMap(outputDir+"/clusters.cond2.npy", res.Cond2Map, nGenes, res.N2)
	if err != nil {
		return err
	}
	err = writeMapColumns(outputDir+"/clusters.samples.csv", m.SampleIDs, ci)
	if err != nil {
		return err
	}
	log.Infof("wrote results for %d genes to %s", nGenes, outputDir)
	return nil
}

func fmtP(p float64) string {
	if math.IsNaN(p) {
		return "NA"
	}
	return strconv.FormatFloat(p, 'g', -1, 64)
}

func fmtN(n int) string {
	if n < 0 {
		return "NA"
	}
	return strconv.Itoa(n)
}
