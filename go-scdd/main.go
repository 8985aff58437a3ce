// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	scdd "github.com/12379Monty/scDD"
)

func main() {
	scdd.Main()
}
