// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter implements the single-pole IIR filter bank that feeds
// the slip detector and the gripping state machine.
package filter

import "math"

// IIR is a single-pole exponential smoothing filter:
//
//	y[n] = alpha*x[n] + (1-alpha)*y[n-1]
//
// alpha is fixed at construction; only the previous output mutates.
type IIR struct {
	prev  float64
	alpha float64
}

// Alpha computes the smoothing coefficient for a cutoff frequency at a
// given sample rate: alpha = 1 - e^(-2*pi*fc/fs).
func Alpha(cutoffHz, sampleHz float64) float64 {
	return 1.0 - math.Exp(-2.0*math.Pi*cutoffHz/sampleHz)
}

// NewIIR returns a filter with the given smoothing coefficient.
func NewIIR(alpha float64) *IIR {
	return &IIR{alpha: alpha}
}

// Filter applies the filter to one input sample and returns the output.
func (f *IIR) Filter(input float64) float64 {
	out := f.alpha*input + (1.0-f.alpha)*f.prev
	f.prev = out
	return out
}

// Output returns the last produced output without advancing the filter.
func (f *IIR) Output() float64 {
	return f.prev
}

// Reset clears the previous output. The coefficient is unchanged.
func (f *IIR) Reset() {
	f.prev = 0
}
