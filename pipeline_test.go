// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"bytes"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

func (s *pipelineSuite) TestSimThenDiffDist(c *check.C) {
	simdir := c.MkDir()
	code := (&simCmd{}).RunCommand("scdd sim", []string{
		"-output-dir=" + simdir,
		"-genes-per-category=3",
		"-samples=60",
		"-random-seed=4",
	}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	outdir := c.MkDir()
	code = (&diffDist{}).RunCommand("scdd diff-dist", []string{
		"-i=" + simdir + "/matrix.csv",
		"-samples=" + simdir + "/samples.csv",
		"-output-dir=" + outdir,
		"-permutations=0",
		"-test-zeroes",
		"-threads=4",
	}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	buf, err := os.ReadFile(outdir + "/results.csv")
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	c.Assert(len(lines), check.Equals, 1+6*3) // header + genes
	c.Check(lines[0], check.Equals, "Gene,NonzeroPvalue,NonzeroPvalueAdj,ZeroPvalue,ZeroPvalueAdj,Category,ClustersCombined,ClustersCond1,ClustersCond2")

	// the simulator names each gene after its true category
	calls := map[string]string{}
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		c.Assert(len(fields), check.Equals, 9)
		calls[fields[0]] = fields[5]
	}
	deRight, dzRight, nsWrong := 0, 0, 0
	for gene, call := range calls {
		switch {
		case strings.HasPrefix(gene, "DE") && call == "DE":
			deRight++
		case strings.HasPrefix(gene, "DZ") && call == "DZ":
			dzRight++
		case strings.HasPrefix(gene, "NS") && call != "NS":
			nsWrong++
		}
	}
	c.Check(deRight, check.Equals, 3)
	c.Check(dzRight >= 2, check.Equals, true, check.Commentf("calls: %v", calls))
	c.Check(nsWrong <= 1, check.Equals, true, check.Commentf("calls: %v", calls))

	rdr, err := gonpy.NewFileReader(outdir + "/clusters.npy")
	c.Assert(err, check.IsNil)
	c.Check(rdr.Shape, check.DeepEquals, []int{18, 120})
	combined, err := rdr.GetInt32()
	c.Assert(err, check.IsNil)
	c.Check(len(combined), check.Equals, 18*120)

	rdr, err = gonpy.NewFileReader(outdir + "/clusters.cond1.npy")
	c.Assert(err, check.IsNil)
	c.Check(rdr.Shape, check.DeepEquals, []int{18, 60})

	buf, err = os.ReadFile(outdir + "/clusters.samples.csv")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(buf), "\n"), check.Equals, 1+120)
}

func (s *pipelineSuite) TestDiffDistUsage(c *check.C) {
	stderr := &bytes.Buffer{}
	code := (&diffDist{}).RunCommand("scdd diff-dist", nil, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*must provide -i and -samples.*`)

	stderr.Reset()
	code = (&diffDist{}).RunCommand("scdd diff-dist", []string{"-parallel-by=Nope", "-i=x", "-samples=y"}, bytes.NewReader(nil), &bytes.Buffer{}, stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s).*unknown parallel-by value.*`)
}
