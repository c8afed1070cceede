// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors holds the hardware collaborators of the control
// loop: the triaxial magnetic field sensor, the motor current monitor
// and the operator buttons. Each concern is an interface so the
// control loop and its tests never touch real hardware directly.
package sensors

// FieldSource reads one triaxial magnetic field sample in mT.
type FieldSource interface {
	Read() (x, y, z float64, err error)
}

// CurrentSource reads the instantaneous motor current in mA.
type CurrentSource interface {
	ReadMilliAmps() (float64, error)
}

// ButtonState is one debounced poll of the operator buttons.
type ButtonState struct {
	Grasp    bool
	Open     bool
	LiftUp   bool
	LiftDown bool
	Auto     bool
}

// ButtonSource polls the operator buttons.
type ButtonSource interface {
	Read() (ButtonState, error)
}
