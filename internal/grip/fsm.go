// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package grip implements the gripping state machine. It is the single
// control authority: every scan cycle it consumes operator intent, the
// filtered current draw, the filtered field magnitude, and the slip
// detector result, and decides the jaw position target.
package grip

import (
	"math"
	"time"
)

// State enumerates the gripping modes.
type State int

const (
	Open State = iota
	Grasping
	Holding
	Reacting
	Opening
)

// String is a diagnostic label only; it takes no part in control logic.
func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Grasping:
		return "GRASPING"
	case Holding:
		return "HOLDING"
	case Reacting:
		return "REACTING"
	case Opening:
		return "OPENING"
	default:
		return "UNKNOWN"
	}
}

// Buttons is a stateless snapshot of operator intent for one cycle.
// Debouncing is the collaborator's job; the machine keeps no memory of
// past presses beyond its own timers.
type Buttons struct {
	Grasp    bool
	Open     bool
	LiftUp   bool
	LiftDown bool
	Auto     bool
}

// Inputs is everything the machine reads in one cycle.
type Inputs struct {
	Buttons       Buttons
	CurrentMA     float64 // filtered current draw
	Magnitude     float64 // filtered field magnitude
	SlipFresh     bool    // a new slip result arrived this cycle
	SlipFlag      bool
	SlipIndicator float64
}

// Effects lists the side effects the control loop must execute after a
// cycle. The machine itself never touches the slip detector.
type Effects struct {
	// IgnoreSlipCycles asks the loop to suppress slip flagging for this
	// many cycles because the jaw was commanded to move.
	IgnoreSlipCycles int
	// ResetSlip asks for a full slip detector reset (windows included).
	ResetSlip bool
	// ConsumeSlip acknowledges the current slip result.
	ConsumeSlip bool
}

// Tuning holds the thresholds and step sizes the machine runs with.
type Tuning struct {
	FullyOpen   int
	FullyClosed int

	ReactionCooldown time.Duration
	BackoffDelay     time.Duration
	BackoffInterval  time.Duration

	CurrentThresholdMA  float64
	MagnitudeThreshold  float64
	MagnitudeDropMargin float64

	GraspingStep     int
	OpeningStep      int
	BackoffStep      int // 0 disables the holding-backoff policy hook
	MaxReactionSteps int
	SlipThreshold    float64
	SlipIgnoreCycles int
}

// Machine is the gripping state machine. It is owned by the control
// loop; the reporting side only ever sees snapshots of State() and
// Position(). Process is deterministic in (state, timers, inputs, now).
type Machine struct {
	tuning Tuning

	state    State
	position int

	lastReaction    time.Time
	lastSlipOrEntry time.Time
	lastBackoff     time.Time
}

// New returns a machine at OPEN with the jaw fully open.
func New(t Tuning) *Machine {
	return &Machine{tuning: t, state: Open, position: t.FullyOpen}
}

// State returns the current gripping mode.
func (m *Machine) State() State { return m.state }

// Position returns the current jaw position target.
func (m *Machine) Position() int { return m.position }

// Reset is the explicit recovery action: back to OPEN, fully open, all
// timers cleared. Safe to call at any point in the cycle, idempotent.
func (m *Machine) Reset() {
	m.state = Open
	m.position = m.tuning.FullyOpen
	m.lastReaction = time.Time{}
	m.lastSlipOrEntry = time.Time{}
	m.lastBackoff = time.Time{}
}

// Process advances the machine one cycle. Grasp intent wins over open
// intent whenever both are asserted. The position is clamped to
// [FullyClosed, FullyOpen] before any threshold comparison.
func (m *Machine) Process(now time.Time, in Inputs) Effects {
	var fx Effects

	switch m.state {
	case Open:
		if in.Buttons.Grasp {
			m.state = Grasping
		}

	case Grasping:
		// Gradually close the jaw, one step per cooldown period.
		if now.Sub(m.lastReaction) > m.tuning.ReactionCooldown {
			m.lastReaction = now
			m.position = m.clamp(m.position - m.tuning.GraspingStep)

			// Motor vibration mimics slip frequencies while moving.
			fx.IgnoreSlipCycles = m.tuning.SlipIgnoreCycles
		}

		// Sufficient grip force reached?
		if in.CurrentMA > m.tuning.CurrentThresholdMA && in.Magnitude > m.tuning.MagnitudeThreshold {
			m.state = Holding
			m.lastSlipOrEntry = now
			m.lastBackoff = now
		} else if in.Buttons.Open {
			m.state = Opening
		}

	case Holding:
		// React to slip only on a fresh detector result.
		if in.SlipFresh {
			if in.SlipFlag {
				m.lastReaction = now
				m.lastSlipOrEntry = now
				m.lastBackoff = now
				m.state = Reacting
			}
			fx.ConsumeSlip = true
		}

		// Grip force fading: go back and tighten.
		if in.Magnitude < m.tuning.MagnitudeThreshold-m.tuning.MagnitudeDropMargin {
			m.state = Grasping
		}

		// Backoff policy hook: after a quiet period, periodically ease
		// toward open. Disabled when BackoffStep is zero.
		if m.tuning.BackoffStep > 0 &&
			now.Sub(m.lastSlipOrEntry) > m.tuning.BackoffDelay &&
			now.Sub(m.lastBackoff) > m.tuning.BackoffInterval {
			m.lastBackoff = now
			m.position = m.clamp(m.position + m.tuning.BackoffStep)
			fx.IgnoreSlipCycles = m.tuning.SlipIgnoreCycles
		}

		if in.Buttons.Grasp {
			m.state = Grasping
		} else if in.Buttons.Open {
			m.state = Opening
		}

	case Reacting:
		// Single-cycle transient: tighten proportionally to the slip
		// indicator, then return to holding.
		step := int(math.Round(in.SlipIndicator / m.tuning.SlipThreshold))
		if step > m.tuning.MaxReactionSteps {
			step = m.tuning.MaxReactionSteps
		}
		m.position = m.clamp(m.position - step)

		fx.ResetSlip = true
		fx.IgnoreSlipCycles = m.tuning.SlipIgnoreCycles

		m.state = Holding
		m.lastSlipOrEntry = now
		m.lastBackoff = now

	case Opening:
		if m.position < m.tuning.FullyOpen {
			m.position = m.clamp(m.position + m.tuning.OpeningStep)
			fx.IgnoreSlipCycles = m.tuning.SlipIgnoreCycles
		}
		if m.position >= m.tuning.FullyOpen {
			m.state = Open
		}
	}

	return fx
}

func (m *Machine) clamp(pos int) int {
	if pos < m.tuning.FullyClosed {
		return m.tuning.FullyClosed
	}
	if pos > m.tuning.FullyOpen {
		return m.tuning.FullyOpen
	}
	return pos
}
