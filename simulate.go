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
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// simCmd is the "sim" command: generates a synthetic expression
// matrix with known differential-distribution genes of every
// category, for smoke tests and power checks.
type simCmd struct{}

type simConfig struct {
	PerCategory    int
	SamplesPerCond int
	Dropout        float64
	Seed           uint64
}

func (cmd *simCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *simCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cfg simConfig
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputDir := flags.String("output-dir", ".", "output `directory`")
	flags.IntVar(&cfg.PerCategory, "genes-per-category", 20, "number of genes to simulate per category")
	flags.IntVar(&cfg.SamplesPerCond, "samples", 75, "number of samples per condition")
	flags.Float64Var(&cfg.Dropout, "dropout", 0.1, "baseline dropout (zero) probability")
	flags.Uint64Var(&cfg.Seed, "random-seed", 1, "PRNG seed")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}

	m, ci, _ := simulateMatrix(cfg)
	err = writeSimMatrix(*outputDir+"/matrix.csv", m)
	if err != nil {
		return err
	}
	err = writeSimSamples(*outputDir+"/samples.csv", m.SampleIDs, ci)
	if err != nil {
		return err
	}
	log.Infof("simulated %d genes × %d samples into %s", m.Genes(), m.Samples(), *outputDir)
	return nil
}

// Simulated component locations on the log scale. The DE shift and
// the DM/DB mode separation are several within-component standard
// deviations wide so the categories are recoverable.
const (
	simSD      = 0.5
	simLowMu   = 5.0
	simMidMu   = 6.5
	simHighMu  = 8.0
	simDZExtra = 0.4
)

var simCategories = []category{catNS, catDE, catDP, catDM, catDB, catDZ}

// simulateMatrix builds a synthetic two-condition expression matrix
// with PerCategory genes of each category (catNS genes are generated
// identically in both conditions). Returns the matrix, the condition
// assignment, and the true category per gene.
func simulateMatrix(cfg simConfig) (*expressionMatrix, *conditionInfo, []category) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	norm := func(mu float64) distuv.Normal {
		return distuv.Normal{Mu: mu, Sigma: simSD, Src: rng}
	}

	nSamples := 2 * cfg.SamplesPerCond
	ci := &conditionInfo{Ref: "1", Other: "2", IsCond2: make([]bool, nSamples)}
	m := &expressionMatrix{}
	for s := 0; s < nSamples; s++ {
		cond := 1
		if s >= cfg.SamplesPerCond {
			cond = 2
			ci.IsCond2[s] = true
		}
		m.SampleIDs = append(m.SampleIDs, fmt.Sprintf("c%d.s%03d", cond, s))
	}

	var truth []category
	for _, cat := range simCategories {
		for i := 0; i < cfg.PerCategory; i++ {
			m.GeneIDs = append(m.GeneIDs, fmt.Sprintf("%s%04d", cat, i))
			truth = append(truth, cat)
			for s := 0; s < nSamples; s++ {
				cond2 := ci.IsCond2[s]
				dropout := cfg.Dropout
				var mu float64
				switch cat {
				case catNS:
					mu = simMidMu
				case catDE:
					if cond2 {
						mu = simHighMu
					} else {
						mu = simLowMu
					}
				case catDP:
					// 80/20 vs 20/80 mixture weights on the same modes
					lowWeight := 0.8
					if cond2 {
						lowWeight = 0.2
					}
					if rng.Float64() < lowWeight {
						mu = simLowMu
					} else {
						mu = simHighMu
					}
				case catDM:
					// unimodal low vs bimodal with the low mode retained
					mu = simLowMu
					if cond2 && rng.Float64() < 0.5 {
						mu = simHighMu
					}
				case catDB:
					// unimodal middle vs bimodal straddling it
					mu = simMidMu
					if cond2 {
						mu = simLowMu
						if rng.Float64() < 0.5 {
							mu = simHighMu
						}
					}
				case catDZ:
					mu = simMidMu
					if cond2 {
						dropout += simDZExtra
					}
				}
				v := 0.0
				if rng.Float64() >= dropout {
					v = math.Exp(norm(mu).Rand())
				}
				m.Data = append(m.Data, v)
			}
		}
	}
	return m, ci, truth
}

func writeSimMatrix(filename string, m *expressionMatrix) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	_, err = fmt.Fprint(w, "GeneID")
	if err != nil {
		return err
	}
	for _, id := range m.SampleIDs {
		_, err = fmt.Fprintf(w, ",%s", id)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	if err != nil {
		return err
	}
	for g := 0; g < m.Genes(); g++ {
		_, err = fmt.Fprint(w, m.GeneIDs[g])
		if err != nil {
			return err
		}
		for _, v := range m.Row(g) {
			_, err = fmt.Fprintf(w, ",%g", v)
			if err != nil {
				return err
			}
		}
		_, err = fmt.Fprint(w, "\n")
		if err != nil {
			return err
		}
	}
	err = w.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func writeSimSamples(filename string, sampleIDs []string, ci *conditionInfo) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	_, err = fmt.Fprint(w, "SampleID,Condition\n")
	if err != nil {
		return err
	}
	for i, id := range sampleIDs {
		cond := ci.Ref
		if ci.IsCond2[i] {
			cond = ci.Other
		}
		_, err = fmt.Fprintf(w, "%s,%s\n", id, cond)
		if err != nil {
			return err
		}
	}
	err = w.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
