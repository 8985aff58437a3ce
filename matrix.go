// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// expressionMatrix is a read-only genes × samples matrix of
// nonnegative expression values. Data is row-major.
type expressionMatrix struct {
	GeneIDs   []string
	SampleIDs []string
	Data      []float64
}

func (m *expressionMatrix) Genes() int   { return len(m.GeneIDs) }
func (m *expressionMatrix) Samples() int { return len(m.SampleIDs) }

func (m *expressionMatrix) Row(gene int) []float64 {
	n := len(m.SampleIDs)
	return m.Data[gene*n : (gene+1)*n]
}

// detectionRates returns, for each sample, the proportion of genes
// with nonzero expression in that sample.
func (m *expressionMatrix) detectionRates() []float64 {
	rates := make([]float64, m.Samples())
	for g := 0; g < m.Genes(); g++ {
		row := m.Row(g)
		for s, v := range row {
			if v > 0 {
				rates[s]++
			}
		}
	}
	for s := range rates {
		rates[s] /= float64(m.Genes())
	}
	return rates
}

// loadExpressionMatrix reads a genes × samples matrix from a CSV file
// (header row of sample IDs, one gene per row with the gene ID in the
// first column), transparently gunzipping *.gz. Files ending in .npy
// are read as float64 numpy arrays; gene IDs then come from
// geneIDsFilename (one per line) or are generated.
func loadExpressionMatrix(filename, geneIDsFilename string) (*expressionMatrix, error) {
	if strings.HasSuffix(filename, ".npy") {
		return loadExpressionNumpy(filename, geneIDsFilename)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	digest, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	var in io.Reader = io.TeeReader(f, digest)
	if strings.HasSuffix(filename, ".gz") {
		in, err = pgzip.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}

	m := &expressionMatrix{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if lineno == 1 {
			m.SampleIDs = fields[1:]
			continue
		}
		if len(fields) != len(m.SampleIDs)+1 {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", filename, lineno, len(m.SampleIDs)+1, len(fields))
		}
		m.GeneIDs = append(m.GeneIDs, fields[0])
		for _, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", filename, lineno, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("%s line %d: negative expression value %v", filename, lineno, v)
			}
			m.Data = append(m.Data, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if len(m.GeneIDs) == 0 {
		return nil, fmt.Errorf("%s: no gene rows found", filename)
	}
	log.Infof("loaded %d genes × %d samples from %s (blake2b %x)", m.Genes(), m.Samples(), filename, digest.Sum(nil)[:8])
	return m, nil
}

func loadExpressionNumpy(filename, geneIDsFilename string) (*expressionMatrix, error) {
	rdr, err := gonpy.NewFileReader(filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if len(rdr.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2-dimensional array, got shape %v", filename, rdr.Shape)
	}
	data, err := rdr.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	for _, v := range data {
		if v < 0 {
			return nil, fmt.Errorf("%s: negative expression value %v", filename, v)
		}
	}
	m := &expressionMatrix{Data: data}
	genes, samples := rdr.Shape[0], rdr.Shape[1]
	if geneIDsFilename != "" {
		m.GeneIDs, err = loadIDList(geneIDsFilename)
		if err != nil {
			return nil, err
		}
		if len(m.GeneIDs) != genes {
			return nil, fmt.Errorf("%s: %d gene IDs but matrix has %d rows", geneIDsFilename, len(m.GeneIDs), genes)
		}
	} else {
		for g := 0; g < genes; g++ {
			m.GeneIDs = append(m.GeneIDs, fmt.Sprintf("gene%06d", g))
		}
	}
	for s := 0; s < samples; s++ {
		m.SampleIDs = append(m.SampleIDs, fmt.Sprintf("sample%06d", s))
	}
	log.Infof("loaded %d genes × %d samples from %s", genes, samples, filename)
	return m, nil
}

func loadIDList(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, scanner.Err()
}

// conditionInfo is the per-sample binary condition assignment. Ref is
// the first condition value encountered in matrix sample order;
// IsCond2[i] reports whether sample i carries the other value.
type conditionInfo struct {
	Ref     string
	Other   string
	IsCond2 []bool
}

func (ci *conditionInfo) counts() (n1, n2 int) {
	for _, c2 := range ci.IsCond2 {
		if c2 {
			n2++
		} else {
			n1++
		}
	}
	return
}

// loadConditions reads a samples.csv file with a header row, matches
// its SampleID column against the matrix sample IDs, and returns the
// binary condition assignment from the named column.
func loadConditions(filename, colname string, sampleIDs []string) (*conditionInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := map[string]string{}
	idCol, condCol := -1, -1
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if idCol < 0 {
			// header row
			for col, name := range fields {
				switch name {
				case "SampleID":
					idCol = col
				case colname:
					condCol = col
				}
			}
			if idCol < 0 {
				return nil, fmt.Errorf("%s: no column named \"SampleID\" in header row %q", filename, line)
			}
			if condCol < 0 {
				return nil, fmt.Errorf("%s: no column named %q in header row %q", filename, colname, line)
			}
			continue
		}
		if len(fields) <= idCol || len(fields) <= condCol {
			return nil, fmt.Errorf("%s line %d: too few fields: %q", filename, lineno, line)
		}
		byID[fields[idCol]] = fields[condCol]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	ci := &conditionInfo{IsCond2: make([]bool, len(sampleIDs))}
	for i, id := range sampleIDs {
		val, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: no condition entry for sample %q", filename, id)
		}
		switch {
		case ci.Ref == "":
			ci.Ref = val
		case val == ci.Ref:
		case ci.Other == "":
			ci.Other = val
			ci.IsCond2[i] = true
		case val == ci.Other:
			ci.IsCond2[i] = true
		default:
			return nil, fmt.Errorf("%s: condition column %q has more than two distinct values (%q, %q, %q)", filename, colname, ci.Ref, ci.Other, val)
		}
	}
	if ci.Other == "" {
		return nil, fmt.Errorf("%s: condition column %q has only one distinct value %q", filename, colname, ci.Ref)
	}
	n1, n2 := ci.counts()
	log.Infof("condition %q: %d samples, condition %q: %d samples", ci.Ref, n1, ci.Other, n2)
	return ci, nil
}
