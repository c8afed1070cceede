// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package actuator translates state-machine position targets into
// ramped low-level motor commands, and runs the homing protocol that
// locates the mechanical zero by stall detection.
package actuator

// Driver is the low-level motor driver boundary. Implementations wrap
// the actual stepper or servo hardware; the command layer only ever
// calls these primitives, always from a single goroutine.
type Driver interface {
	// RunSpeed commands continuous motion at the signed speed.
	RunSpeed(stepsPerSec int) error
	// ForceStop halts motion immediately, without deceleration.
	ForceStop() error
	// EnableOutputs energizes the motor outputs.
	EnableOutputs() error
	// DisableOutputs cuts motor current.
	DisableOutputs() error

	// Load returns the stall/load proxy reading. Lower means closer to
	// stall. Used during homing and for run-time diagnostics only.
	Load() (int, error)

	// SetCurrent adjusts the motor run current in mA.
	SetCurrent(mA int) error
	// SetStallThreshold adjusts the stall sensitivity.
	SetStallThreshold(v int) error

	// SetPosition overwrites the driver's position reference.
	SetPosition(steps int64) error
	// Position returns the driver's absolute position readout; ok is
	// false when the hardware has no position feedback, in which case
	// the command layer integrates an open-loop estimate instead.
	Position() (steps int64, ok bool)
}
