// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"
)

type mockField struct {
	start time.Time
}

// NewMockField returns a field source producing a slow baseline drift
// with a small 80 Hz tremor on Y, enough to exercise the filter chain
// and the slip detector without hardware.
func NewMockField() FieldSource {
	return &mockField{start: time.Now()}
}

func (m *mockField) Read() (x, y, z float64, err error) {
	t := time.Since(m.start).Seconds()
	x = 1.2 + 0.3*math.Sin(t*0.4)
	y = -0.8 + 0.05*math.Sin(2*math.Pi*80*t)
	z = 3.1 + 0.2*math.Cos(t*0.25)
	return x, y, z, nil
}

type mockCurrent struct {
	start time.Time
}

// NewMockCurrent returns a current source idling around 3 mA with a
// gentle ripple.
func NewMockCurrent() CurrentSource {
	return &mockCurrent{start: time.Now()}
}

func (m *mockCurrent) ReadMilliAmps() (float64, error) {
	t := time.Since(m.start).Seconds()
	return 3.0 + 0.5*math.Sin(t*1.3), nil
}

type mockButtons struct{}

// NewMockButtons returns a button source with everything released.
func NewMockButtons() ButtonSource { return mockButtons{} }

func (mockButtons) Read() (ButtonState, error) { return ButtonState{}, nil }
