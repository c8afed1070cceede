// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import (
	"fmt"
	"math"
	"time"
)

// Mode selects how the controller interprets its target.
type Mode int

const (
	// PositionMode drives toward an absolute position and stops inside
	// the deadzone.
	PositionMode Mode = iota
	// SpeedMode runs at a raw commanded speed; it overrides position
	// control until a new position target arrives.
	SpeedMode
)

// Tuning holds the motion limits the controller ramps within.
type Tuning struct {
	MaxSpeed     int           // steps/s, magnitude of the position-mode cruise speed
	Acceleration int           // speed increment per control cycle
	Deadzone     int64         // position error treated as "arrived"
	CyclePeriod  time.Duration // control cycle length, for open-loop integration
}

// Controller ramps a current speed toward a target speed and issues
// driver commands once per control cycle. Invariants:
//
//   - current speed moves toward target speed by at most one
//     acceleration increment per cycle and never overshoots;
//   - in position mode the commanded speed is bounded so the ramp can
//     still stop inside the deadzone (decelerate-to-arrive);
//   - outputs are disabled only when both target and current speed are
//     zero, so the motor is never de-energized mid-motion;
//   - the physical enable line toggles only on motion edges.
type Controller struct {
	drv    Driver
	tuning Tuning

	mode         Mode
	targetPos    int64
	targetSpeed  int
	currentSpeed int
	enabled      bool

	// Open-loop position estimate, used when the driver reports no
	// absolute feedback.
	position float64
}

// NewController wraps a driver. The controller starts stopped,
// disabled, in position mode at position zero.
func NewController(drv Driver, t Tuning) *Controller {
	return &Controller{drv: drv, tuning: t}
}

// MoveTo sets an absolute position target and switches to position mode.
func (c *Controller) MoveTo(pos int64) {
	c.mode = PositionMode
	c.targetPos = pos
}

// MoveRelative offsets the current target by d in position mode.
func (c *Controller) MoveRelative(d int64) {
	c.MoveTo(c.targetPos + d)
}

// SetSpeed commands a raw signed speed, overriding position control.
func (c *Controller) SetSpeed(stepsPerSec int) {
	c.mode = SpeedMode
	c.targetSpeed = clampMagnitude(stepsPerSec, c.tuning.MaxSpeed)
}

// Position returns the best-known absolute position: the driver readout
// when available, otherwise the open-loop estimate.
func (c *Controller) Position() int64 {
	if p, ok := c.drv.Position(); ok {
		return p
	}
	return int64(c.position)
}

// Speed returns the ramped current speed.
func (c *Controller) Speed() int { return c.currentSpeed }

// Enabled reports whether the outputs are energized.
func (c *Controller) Enabled() bool { return c.enabled }

// Update advances the ramp one control cycle and issues the driver
// commands for it. Call exactly once per cycle.
func (c *Controller) Update() error {
	if c.mode == PositionMode {
		diff := c.targetPos - c.Position()
		switch {
		case diff > c.tuning.Deadzone:
			c.targetSpeed = c.approachSpeed(diff)
		case diff < -c.tuning.Deadzone:
			c.targetSpeed = -c.approachSpeed(-diff)
		default:
			c.targetSpeed = 0
		}
	}

	c.currentSpeed = ramp(c.currentSpeed, c.targetSpeed, c.tuning.Acceleration)

	if err := c.applyMotion(); err != nil {
		return err
	}

	// Open-loop integration when the driver has no feedback.
	if _, ok := c.drv.Position(); !ok {
		c.position += float64(c.currentSpeed) * c.tuning.CyclePeriod.Seconds()
	}
	return nil
}

// approachSpeed returns the fastest speed toward a target dist steps
// away that the ramp can still stop from: one cycle of travel at the
// returned speed leaves enough distance to shed the rest of the speed
// at the configured acceleration. Unbounded, a fast approach blows
// through the deadzone and hunts around the target forever.
func (c *Controller) approachSpeed(dist int64) int {
	step := float64(c.tuning.Acceleration)
	accel := step / c.tuning.CyclePeriod.Seconds() // steps/s^2
	v := math.Sqrt(step*step+2*accel*float64(dist)) - step
	if limit := float64(c.tuning.MaxSpeed); v > limit {
		v = limit
	}
	return int(v)
}

// applyMotion pushes the ramped speed to the driver, toggling the
// enable line only on motion edges.
func (c *Controller) applyMotion() error {
	if c.currentSpeed != 0 {
		if !c.enabled {
			if err := c.drv.EnableOutputs(); err != nil {
				return fmt.Errorf("actuator: enable: %w", err)
			}
			c.enabled = true
		}
		if err := c.drv.RunSpeed(c.currentSpeed); err != nil {
			return fmt.Errorf("actuator: run: %w", err)
		}
		return nil
	}

	// Stopped. Cut current only once the commanded motion is also zero,
	// and only on the transition.
	if c.enabled && c.targetSpeed == 0 {
		if err := c.drv.ForceStop(); err != nil {
			return fmt.Errorf("actuator: stop: %w", err)
		}
		if err := c.drv.DisableOutputs(); err != nil {
			return fmt.Errorf("actuator: disable: %w", err)
		}
		c.enabled = false
	}
	return nil
}

// Zero resets the position reference, both in the driver and in the
// open-loop estimate.
func (c *Controller) Zero() error {
	c.position = 0
	c.targetPos = 0
	if err := c.drv.SetPosition(0); err != nil {
		return fmt.Errorf("actuator: zero position: %w", err)
	}
	return nil
}

// ramp moves cur toward target by at most step, clamping to the target
// when within one increment so it never overshoots.
func ramp(cur, target, step int) int {
	switch {
	case cur < target:
		cur += step
		if cur > target {
			cur = target
		}
	case cur > target:
		cur -= step
		if cur < target {
			cur = target
		}
	}
	return cur
}

func clampMagnitude(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
