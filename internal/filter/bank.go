// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import "github.com/relabs-tech/adaptive_gripper/internal/mag"

// Bank holds every filter used by the control loop: the main low-pass
// over the four field channels, the 30 Hz band-split low-pass over the
// same channels, and the current filter.
type Bank struct {
	mainX, mainY, mainZ, mainMag *IIR
	bandX, bandY, bandZ, bandMag *IIR
	current                      *IIR
}

// Rates carries the cutoff/sample-rate pairs the bank is built from.
type Rates struct {
	MainCutoffHz      float64
	BandSplitCutoffHz float64
	FieldSampleHz     float64
	CurrentCutoffHz   float64
	CurrentSampleHz   float64
}

// NewBank computes the coefficients once and returns a zeroed bank.
func NewBank(r Rates) *Bank {
	mainAlpha := Alpha(r.MainCutoffHz, r.FieldSampleHz)
	bandAlpha := Alpha(r.BandSplitCutoffHz, r.FieldSampleHz)
	currentAlpha := Alpha(r.CurrentCutoffHz, r.CurrentSampleHz)

	return &Bank{
		mainX:   NewIIR(mainAlpha),
		mainY:   NewIIR(mainAlpha),
		mainZ:   NewIIR(mainAlpha),
		mainMag: NewIIR(mainAlpha),
		bandX:   NewIIR(bandAlpha),
		bandY:   NewIIR(bandAlpha),
		bandZ:   NewIIR(bandAlpha),
		bandMag: NewIIR(bandAlpha),
		current: NewIIR(currentAlpha),
	}
}

// ApplyMain runs the main low-pass over a calibrated sample and returns
// the smoothed field with its magnitude.
func (b *Bank) ApplyMain(s mag.Sample) mag.Field {
	var f mag.Field
	f.X = b.mainX.Filter(s.X)
	f.Y = b.mainY.Filter(s.Y)
	f.Z = b.mainZ.Filter(s.Z)
	f.Magnitude = b.mainMag.Filter(mag.Magnitude(s.X, s.Y, s.Z))
	return f
}

// ApplyBandSplit fills in the 30 Hz low-pass band and the high-pass
// remainder. High-pass is always input minus low-pass, never an
// independent filter, so the two bands sum back to the input exactly.
func (b *Bank) ApplyBandSplit(f *mag.Field) {
	f.XLow = b.bandX.Filter(f.X)
	f.YLow = b.bandY.Filter(f.Y)
	f.ZLow = b.bandZ.Filter(f.Z)
	f.MagnitudeLow = b.bandMag.Filter(f.Magnitude)

	f.XHigh = f.X - f.XLow
	f.YHigh = f.Y - f.YLow
	f.ZHigh = f.Z - f.ZLow
	f.MagnitudeHigh = f.Magnitude - f.MagnitudeLow
}

// FilterCurrent smooths one current reading in mA.
func (b *Bank) FilterCurrent(rawMA float64) float64 {
	return b.current.Filter(rawMA)
}

// Current returns the last filtered current without advancing the filter.
func (b *Bank) Current() float64 {
	return b.current.Output()
}

// Reset zeroes every filter's previous output. Coefficients keep their
// startup values.
func (b *Bank) Reset() {
	for _, f := range []*IIR{
		b.mainX, b.mainY, b.mainZ, b.mainMag,
		b.bandX, b.bandY, b.bandZ, b.bandMag,
		b.current,
	} {
		f.Reset()
	}
}
