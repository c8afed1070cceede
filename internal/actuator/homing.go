// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import (
	"fmt"
	"log"
	"time"
)

// HomingConfig holds the reduced-current stall-seek parameters. The
// run-time current and stall threshold are restored once homing
// finishes, stalled or not.
type HomingConfig struct {
	CurrentMA      int           // reduced motor current during the seek
	StallThreshold int           // stall sensitivity during the seek
	Speed          int           // steps/s magnitude for both moves
	AwayDuration   time.Duration // initial move off the end stop
	SettleDuration time.Duration // approach time before stall readings count
	Timeout        time.Duration // hard cap on the approach phase
	StallReadings  int           // consecutive below-threshold loads required
	StallLoadLimit int           // load value below which a reading counts as stall
}

// Result reports how a homing run ended.
type Result struct {
	Stalled bool          // true when the end stop was found
	Elapsed time.Duration // total time spent homing
}

type homingPhase int

const (
	homeIdle homingPhase = iota
	homeAway
	homeApproach
	homeDone
)

// Homer runs the homing protocol as a tick-driven state machine: back
// away from the end stop, then drive into it at reduced current until
// the load readings confirm a stall, then zero the position reference.
// Every phase is bounded by a deadline; a timeout ends the run with an
// uncalibrated zero rather than retrying.
type Homer struct {
	drv Driver
	cfg HomingConfig

	runCurrentMA      int
	runStallThreshold int

	phase    homingPhase
	started  time.Time
	deadline time.Time
	settled  time.Time
	stalls   int
	result   Result
}

// NewHomer prepares a homing run. runCurrentMA and runStallThreshold
// are the normal operating values restored afterwards.
func NewHomer(drv Driver, cfg HomingConfig, runCurrentMA, runStallThreshold int) *Homer {
	return &Homer{
		drv:               drv,
		cfg:               cfg,
		runCurrentMA:      runCurrentMA,
		runStallThreshold: runStallThreshold,
	}
}

// Start switches the driver to the homing current profile and begins
// the away move.
func (h *Homer) Start(now time.Time) error {
	if err := h.drv.SetCurrent(h.cfg.CurrentMA); err != nil {
		return fmt.Errorf("homing: set current: %w", err)
	}
	if err := h.drv.SetStallThreshold(h.cfg.StallThreshold); err != nil {
		return fmt.Errorf("homing: set stall threshold: %w", err)
	}
	if err := h.drv.EnableOutputs(); err != nil {
		return fmt.Errorf("homing: enable: %w", err)
	}
	if err := h.drv.RunSpeed(h.cfg.Speed); err != nil {
		return fmt.Errorf("homing: away move: %w", err)
	}
	h.phase = homeAway
	h.started = now
	h.deadline = now.Add(h.cfg.AwayDuration)
	h.stalls = 0
	h.result = Result{}
	log.Printf("homing: moving away from end stop for %v", h.cfg.AwayDuration)
	return nil
}

// Done reports whether the run has finished.
func (h *Homer) Done() bool { return h.phase == homeDone }

// Result is valid once Done reports true.
func (h *Homer) Result() Result { return h.result }

// Step advances the state machine one tick. Call it from the control
// loop until Done reports true.
func (h *Homer) Step(now time.Time) error {
	switch h.phase {
	case homeAway:
		if now.Before(h.deadline) {
			return nil
		}
		if err := h.drv.RunSpeed(-h.cfg.Speed); err != nil {
			return fmt.Errorf("homing: approach move: %w", err)
		}
		h.phase = homeApproach
		h.settled = now.Add(h.cfg.SettleDuration)
		h.deadline = now.Add(h.cfg.Timeout)
		log.Printf("homing: approaching end stop, timeout %v", h.cfg.Timeout)
		return nil

	case homeApproach:
		if !now.Before(h.deadline) {
			log.Printf("homing: timed out after %v, zero point is uncalibrated", h.cfg.Timeout)
			return h.finish(now, false)
		}
		// Ignore load readings while the motor spins up; stall values
		// during acceleration are meaningless.
		if now.Before(h.settled) {
			return nil
		}
		load, err := h.drv.Load()
		if err != nil {
			return fmt.Errorf("homing: load read: %w", err)
		}
		if load < h.cfg.StallLoadLimit {
			h.stalls++
		} else {
			h.stalls = 0
		}
		if h.stalls >= h.cfg.StallReadings {
			log.Printf("homing: stall confirmed at load %d", load)
			return h.finish(now, true)
		}
		return nil

	case homeDone, homeIdle:
		return nil
	}
	return nil
}

// finish stops the motor, zeroes the position reference and restores
// the run-time current profile. The zero is set even on timeout so the
// controller has a consistent, if uncalibrated, reference.
func (h *Homer) finish(now time.Time, stalled bool) error {
	if err := h.drv.ForceStop(); err != nil {
		return fmt.Errorf("homing: stop: %w", err)
	}
	if err := h.drv.SetPosition(0); err != nil {
		return fmt.Errorf("homing: zero: %w", err)
	}
	if err := h.drv.SetCurrent(h.runCurrentMA); err != nil {
		return fmt.Errorf("homing: restore current: %w", err)
	}
	if err := h.drv.SetStallThreshold(h.runStallThreshold); err != nil {
		return fmt.Errorf("homing: restore stall threshold: %w", err)
	}
	h.phase = homeDone
	h.result = Result{Stalled: stalled, Elapsed: now.Sub(h.started)}
	return nil
}
