// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"github.com/relabs-tech/adaptive_gripper/internal/mag"
)

// Snapshot is the per-cycle state published to telemetry. The JSON
// shape is the wire contract for the MQTT topic and the websocket.
type Snapshot struct {
	Time          string    `json:"time"`
	State         string    `json:"state"`
	Position      int       `json:"position"`
	Field         mag.Field `json:"field"`
	CurrentMA     float64   `json:"current_ma"`
	SlipIndicator float64   `json:"slip_indicator"`
	SlipFlag      bool      `json:"slip_flag"`
	CycleUS       int64     `json:"cycle_us"`
	Overrun       bool      `json:"overrun"`
}

// publish commits the snapshot unless a reader holds the lock; the
// control step never blocks on telemetry.
func (l *Loop) publish(s Snapshot) {
	if !l.snapMu.TryLock() {
		return
	}
	l.snap = s
	l.snapMu.Unlock()
}

// Snapshot returns a copy of the most recently committed cycle state.
func (l *Loop) Snapshot() Snapshot {
	l.snapMu.Lock()
	defer l.snapMu.Unlock()
	return l.snap
}
