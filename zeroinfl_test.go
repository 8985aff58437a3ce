// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"gopkg.in/check.v1"
)

type zeroInflSuite struct{}

var _ = check.Suite(&zeroInflSuite{})

func (s *zeroInflSuite) TestEqualProportions(c *check.C) {
	zero := make([]bool, 200)
	cond2 := make([]bool, 200)
	for i := 0; i < 200; i++ {
		cond2[i] = i >= 100
		// 10 zeroes in each condition
		zero[i] = i%100 < 10
	}
	c.Check(zeroPvalue(zero, cond2), check.Equals, 1.0)
}

func (s *zeroInflSuite) TestUnequalProportions(c *check.C) {
	zero := make([]bool, 200)
	cond2 := make([]bool, 200)
	for i := 0; i < 200; i++ {
		cond2[i] = i >= 100
		if i < 100 {
			zero[i] = i < 10 // 10% dropout
		} else {
			zero[i] = i < 150 // 50% dropout
		}
	}
	p := zeroPvalue(zero, cond2)
	c.Check(p < 1e-8, check.Equals, true)
}

func (s *zeroInflSuite) TestDegenerateMargins(c *check.C) {
	// no zeroes anywhere: nothing to test
	zero := make([]bool, 50)
	cond2 := make([]bool, 50)
	for i := 25; i < 50; i++ {
		cond2[i] = true
	}
	c.Check(zeroPvalue(zero, cond2), check.Equals, 1.0)
}
