// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mag

import (
	"math"
	"time"
)

// Sample is one raw triaxial field reading in mT. Produced every scan
// cycle and consumed immediately by the filter bank.
type Sample struct {
	X, Y, Z float64
	Time    time.Time
}

// Field holds the per-cycle filtered view of the magnetic field:
// the main low-pass output, the 30 Hz band-split low-pass, and the
// high-pass remainder (always raw minus low-pass, so LP+HP
// reconstructs the main output exactly).
type Field struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"mag"`

	XLow         float64 `json:"x_lp"`
	YLow         float64 `json:"y_lp"`
	ZLow         float64 `json:"z_lp"`
	MagnitudeLow float64 `json:"mag_lp"`

	XHigh         float64 `json:"x_hp"`
	YHigh         float64 `json:"y_hp"`
	ZHigh         float64 `json:"z_hp"`
	MagnitudeHigh float64 `json:"mag_hp"`
}

// Calibration holds the zero-field offsets measured during the warm-up
// window. Immutable once computed.
type Calibration struct {
	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64

	XOffset, YOffset, ZOffset float64

	Readings int
}

// Observe widens the min/max envelope with one raw reading.
func (c *Calibration) Observe(x, y, z float64) {
	if c.Readings == 0 {
		c.XMin, c.XMax = x, x
		c.YMin, c.YMax = y, y
		c.ZMin, c.ZMax = z, z
	} else {
		c.XMin = math.Min(c.XMin, x)
		c.XMax = math.Max(c.XMax, x)
		c.YMin = math.Min(c.YMin, y)
		c.YMax = math.Max(c.YMax, y)
		c.ZMin = math.Min(c.ZMin, z)
		c.ZMax = math.Max(c.ZMax, z)
	}
	c.Readings++
}

// Finish computes the offsets as the min/max midpoint per axis.
func (c *Calibration) Finish() {
	c.XOffset = (c.XMin + c.XMax) / 2
	c.YOffset = (c.YMin + c.YMax) / 2
	c.ZOffset = (c.ZMin + c.ZMax) / 2
}

// Apply subtracts the offsets from a raw sample.
func (c *Calibration) Apply(s Sample) Sample {
	s.X -= c.XOffset
	s.Y -= c.YOffset
	s.Z -= c.ZOffset
	return s
}

// Magnitude returns the Euclidean norm of the field vector.
func Magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}
