// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package asdf

import "math"

// ByteToPercent maps a lever byte [0,127] to a percentage [0,100]
func ByteToPercent(v byte) float64 {
	return float64(v) * 100 / LeverMax
}

// PercentToByte maps a percentage [0,100] to the nearest lever byte [0,127].
// Out-of-range input is clamped. The mapping is lossy: a round trip through
// ByteToPercent lands within 100/127/2 percent of the input.
func PercentToByte(p float64) byte {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 100 {
		return LeverMax
	}
	return byte(math.Round(p * LeverMax / 100))
}
