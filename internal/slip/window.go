// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package slip detects slip between the gripped object and the jaw by
// spectral analysis of the high-pass band of the magnetic field signal.
package slip

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Window accumulates a fixed power-of-two number of real samples and
// computes their frequency-domain transform when full.
//
// Backpressure contract: while a computed result is waiting to be
// consumed (Ready() true), Push drops new samples. The consumer never
// sees a half-overwritten window; the producer never blocks. Take
// returns the spectrum and re-opens the window for filling.
type Window struct {
	mu sync.Mutex

	name    string
	n       int
	fs      float64
	fft     *fourier.FFT
	samples []float64
	coeffs  []complex128
	idx     int
	ready   bool
}

// NewWindow builds a window of n samples (n must be a power of two) at
// the given sample rate.
func NewWindow(name string, n int, sampleHz float64) (*Window, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("window %s: size %d is not a power of two", name, n)
	}
	return &Window{
		name:    name,
		n:       n,
		fs:      sampleHz,
		fft:     fourier.NewFFT(n),
		samples: make([]float64, n),
		coeffs:  make([]complex128, n/2+1),
	}, nil
}

// Push appends one sample. It returns true when this call completed the
// window and a spectrum is now available. Samples arriving while a
// result awaits consumption are dropped, as are samples arriving while
// the reporting side holds the lock for a copy-out.
func (w *Window) Push(v float64) bool {
	if !w.mu.TryLock() {
		return false
	}
	defer w.mu.Unlock()

	if w.ready {
		return false
	}

	w.samples[w.idx] = v
	w.idx++
	if w.idx < w.n {
		return false
	}

	w.fft.Coefficients(w.coeffs, w.samples)
	w.idx = 0
	w.ready = true
	return true
}

// Ready reports whether a computed spectrum awaits consumption.
func (w *Window) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Take returns the frequency-domain coefficients (bins 0..n/2) and
// marks the window consumed so filling can resume. The returned slice
// is only valid until the next window completes; callers that keep it
// must copy. Take returns nil if no spectrum is ready.
func (w *Window) Take() []complex128 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready {
		return nil
	}
	w.ready = false
	return w.coeffs
}

// SnapshotMagnitudes copies out per-bin magnitudes for diagnostic
// streaming without consuming the window. It is the reporting-side
// call: if the control side holds the lock, it returns false rather
// than block.
func (w *Window) SnapshotMagnitudes() ([]float64, bool) {
	if !w.mu.TryLock() {
		return nil, false
	}
	defer w.mu.Unlock()
	if !w.ready {
		return nil, false
	}

	mags := make([]float64, len(w.coeffs))
	for i, c := range w.coeffs {
		mags[i] = magnitude(c)
	}
	return mags, true
}

// Reset discards any pending result and partial fill.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idx = 0
	w.ready = false
}

// Len returns the window size.
func (w *Window) Len() int { return w.n }

// BinHz returns the frequency width of one bin.
func (w *Window) BinHz() float64 { return w.fs / float64(w.n) }
