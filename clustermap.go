// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeClusterMap writes one gene × sample cluster-assignment map as
// an int32 .npy array. Entry 0 marks zero (dropout) expression; every
// clustered nonzero observation carries its positive component label.
func writeClusterMap(filename string, data []int32, rows, cols int) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0777)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteInt32(data)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

// writeMapColumns records the sample order of the three maps so the
// .npy columns can be traced back to sample IDs.
func writeMapColumns(filename string, sampleIDs []string, ci *conditionInfo) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	_, err = fmt.Fprint(w, "SampleID,Condition,CombinedColumn,ConditionColumn\n")
	if err != nil {
		return err
	}
	g1, g2 := 0, 0
	for i, id := range sampleIDs {
		cond, col := ci.Ref, g1
		if ci.IsCond2[i] {
			cond, col = ci.Other, g2
			g2++
		} else {
			g1++
		}
		_, err = fmt.Fprintf(w, "%s,%s,%d,%d\n", id, cond, i, col)
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
