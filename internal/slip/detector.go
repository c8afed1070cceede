// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package slip

import (
	"fmt"
	"math"
)

// Options configures the detector.
type Options struct {
	Samples     int     // window length, power of two
	SampleHz    float64 // field scan rate
	FreqStartHz float64 // slip band lower edge
	FreqEndHz   float64 // slip band upper edge
	Threshold   float64 // indicator level above which slip is flagged
}

// Detector owns one spectral window per monitored channel. The Y-axis
// high-pass band is the channel of record for slip decisions; the
// X-axis window is retained for diagnostic spectrum streaming.
//
// The indicator and flag persist between window completions: between
// computations Indicator() keeps returning the last derived value.
type Detector struct {
	windowY *Window
	windowX *Window

	startBin, endBin int
	binHz            float64
	n                int
	threshold        float64

	indicator float64
	flag      bool
	fresh     bool // a completed window has not been consumed yet

	ignore int // cycles left during which flag-raising is suppressed
}

// New builds a detector. The band edges are converted to bin indices
// once: bin = round(f*N/fs).
func New(o Options) (*Detector, error) {
	wy, err := NewWindow("y_high_pass", o.Samples, o.SampleHz)
	if err != nil {
		return nil, err
	}
	wx, err := NewWindow("x_high_pass", o.Samples, o.SampleHz)
	if err != nil {
		return nil, err
	}

	start := int(math.Round(o.FreqStartHz * float64(o.Samples) / o.SampleHz))
	end := int(math.Round(o.FreqEndHz * float64(o.Samples) / o.SampleHz))
	if start < 0 || end <= start || end > o.Samples/2 {
		return nil, fmt.Errorf("slip band [%v,%v] Hz maps to bins [%d,%d), outside the spectrum",
			o.FreqStartHz, o.FreqEndHz, start, end)
	}

	return &Detector{
		windowY:   wy,
		windowX:   wx,
		startBin:  start,
		endBin:    end,
		binHz:     o.SampleHz / float64(o.Samples),
		n:         o.Samples,
		threshold: o.Threshold,
	}, nil
}

// Feed pushes the two high-pass samples for this cycle and runs the
// detection step if the Y window just completed. It returns true when a
// new slip result was derived.
func (d *Detector) Feed(xHigh, yHigh float64) bool {
	d.windowX.Push(xHigh)
	if !d.windowY.Push(yHigh) {
		return false
	}
	d.detect()
	return true
}

// detect scans the configured band for the peak power bin and derives
// the slip indicator. Power weighting by bin frequency biases the
// indicator toward faster slip events over slow drift.
func (d *Detector) detect() {
	coeffs := d.windowY.Take()
	if coeffs == nil {
		return
	}

	var maxPower, peakHz float64
	for i := d.startBin; i < d.endBin; i++ {
		p := power(coeffs[i], d.n)
		if p > maxPower {
			maxPower = p
			peakHz = float64(i) * d.binHz
		}
	}

	d.indicator = maxPower * peakHz
	d.flag = d.indicator > d.threshold && d.ignore == 0
	d.fresh = true
}

// Tick decrements the movement-ignore counter. Call once per scan cycle.
func (d *Detector) Tick() {
	if d.ignore > 0 {
		d.ignore--
	}
}

// IgnoreFor suppresses flag-raising for the next n cycles. Commanded
// actuator movement aliases motor vibration into the slip band, so the
// state machine requests this after every movement step.
func (d *Detector) IgnoreFor(n int) {
	if n > d.ignore {
		d.ignore = n
	}
	d.flag = false
	d.fresh = false
}

// Indicator returns the last derived slip indicator. It holds its value
// between window completions.
func (d *Detector) Indicator() float64 { return d.indicator }

// Flag reports whether the last completed window crossed the threshold.
func (d *Detector) Flag() bool { return d.flag }

// Fresh reports whether a completed window has not yet been consumed.
func (d *Detector) Fresh() bool { return d.fresh }

// Consume acknowledges the current result: the flag and freshness latch
// are cleared, the held indicator value stays readable.
func (d *Detector) Consume() {
	d.flag = false
	d.fresh = false
}

// Reset zeroes the indicator, clears the flag and the freshness latch,
// and empties both windows. Consume is the lighter acknowledgement
// that keeps the held indicator readable.
func (d *Detector) Reset() {
	d.indicator = 0
	d.flag = false
	d.fresh = false
	d.windowY.Reset()
	d.windowX.Reset()
}

// DiagnosticSpectrum copies out the X-channel magnitudes for streaming,
// consuming that window. Skip-if-busy: returns false under contention
// or when no spectrum is ready.
func (d *Detector) DiagnosticSpectrum() ([]float64, bool) {
	mags, ok := d.windowX.SnapshotMagnitudes()
	if !ok {
		return nil, false
	}
	d.windowX.Reset()
	return mags, true
}

// BinHz returns the spectral resolution of the detector's windows.
func (d *Detector) BinHz() float64 { return d.binHz }

func power(c complex128, n int) float64 {
	re, im := real(c), imag(c)
	return (re*re + im*im) / float64(n)
}

func magnitude(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}
