// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Quadrant - ASDF throttle quadrant bridge
//
// Polls the throttle quadrant for lever positions and buttons and locks the
// throttle levers to the targets of an external autothrottle.

package main

import (
	"os"

	"github.com/Thermoquad/quadrant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
