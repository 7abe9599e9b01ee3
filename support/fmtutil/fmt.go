// Copyright 2019 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers.
package fmtutil

import (
	"encoding/hex"
	"fmt"
)

// Hex is a byte slice that renders as a hex-dumped string.
//
// It can be used for easy lazy hex dumping: formatting cost is only paid if
// the value is actually printed, so it is safe to hand to Debugf.
type Hex []byte

func (h Hex) String() string { return hex.Dump([]byte(h)) }

// Size is a byte count that renders with a binary-prefix unit, as in
// "12.3 MiB".
type Size int64

func (s Size) String() string {
	v := float64(s)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB"} {
		if v < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d %s", int64(v), unit)
			}
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f TiB", v)
}
