// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control runs the per-cycle pipeline of the gripper: acquire
// the field sample, filter, detect slip, step the gripping state
// machine and command the actuator. Everything happens on one
// goroutine; other goroutines only ever see the published snapshot.
package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/adaptive_gripper/internal/actuator"
	"github.com/relabs-tech/adaptive_gripper/internal/filter"
	"github.com/relabs-tech/adaptive_gripper/internal/grip"
	"github.com/relabs-tech/adaptive_gripper/internal/mag"
	"github.com/relabs-tech/adaptive_gripper/internal/sensors"
	"github.com/relabs-tech/adaptive_gripper/internal/slip"
)

// Options sets the loop cadence. Current, button and actuator work run
// at divided rates derived from the scan interval.
type Options struct {
	ScanInterval     time.Duration
	CurrentInterval  time.Duration
	ButtonInterval   time.Duration
	ActuatorInterval time.Duration

	// StepsPerUnit scales jaw position units to motor steps when
	// forwarding state-machine targets to the actuator. Zero means 1.
	StepsPerUnit int64

	// WarmupReadings is the number of samples averaged into the
	// zero-field calibration before the loop starts.
	WarmupReadings int
}

// Loop owns the control cycle. Construct with New, run Calibrate once,
// then Run until the context ends.
type Loop struct {
	opts Options

	field   sensors.FieldSource
	current sensors.CurrentSource
	buttons sensors.ButtonSource

	bank    *filter.Bank
	det     *slip.Detector
	machine *grip.Machine
	act     *actuator.Controller

	cal mag.Calibration

	currentEvery  uint64
	buttonEvery   uint64
	actuatorEvery uint64
	cycle         uint64

	lastButtons sensors.ButtonState
	lastSample  mag.Sample
	readErrs    uint64

	resetReq atomic.Bool

	// snapMu guards snap. The control step commits with TryLock so a
	// slow reader can never stall a cycle; it skips the publish and
	// retries next cycle.
	snapMu sync.Mutex
	snap   Snapshot
}

// New wires the pipeline stages together.
func New(opts Options, field sensors.FieldSource, current sensors.CurrentSource,
	buttons sensors.ButtonSource, bank *filter.Bank, det *slip.Detector,
	machine *grip.Machine, act *actuator.Controller) *Loop {

	if opts.StepsPerUnit <= 0 {
		opts.StepsPerUnit = 1
	}
	return &Loop{
		opts:          opts,
		field:         field,
		current:       current,
		buttons:       buttons,
		bank:          bank,
		det:           det,
		machine:       machine,
		act:           act,
		currentEvery:  divider(opts.CurrentInterval, opts.ScanInterval),
		buttonEvery:   divider(opts.ButtonInterval, opts.ScanInterval),
		actuatorEvery: divider(opts.ActuatorInterval, opts.ScanInterval),
	}
}

func divider(interval, scan time.Duration) uint64 {
	if interval <= scan {
		return 1
	}
	return uint64(interval / scan)
}

// Calibrate measures the zero-field offsets over the warm-up window
// and logs the report. Must run with the gripper open and at rest.
func (l *Loop) Calibrate() error {
	log.Printf("control: calibrating over %d readings", l.opts.WarmupReadings)
	l.cal = mag.Calibration{}
	for i := 0; i < l.opts.WarmupReadings; i++ {
		x, y, z, err := l.field.Read()
		if err != nil {
			return fmt.Errorf("control: calibration read %d: %w", i, err)
		}
		l.cal.Observe(x, y, z)
		time.Sleep(l.opts.ScanInterval)
	}
	l.cal.Finish()
	log.Printf("control: calibration complete (%d readings)", l.cal.Readings)
	log.Printf("control: offsets x=%.3f y=%.3f z=%.3f", l.cal.XOffset, l.cal.YOffset, l.cal.ZOffset)
	log.Printf("control: ranges x=[%.3f,%.3f] y=[%.3f,%.3f] z=[%.3f,%.3f]",
		l.cal.XMin, l.cal.XMax, l.cal.YMin, l.cal.YMax, l.cal.ZMin, l.cal.ZMax)
	return nil
}

// Calibration returns the warm-up result for reporting.
func (l *Loop) Calibration() mag.Calibration { return l.cal }

// Run executes the control cycle on a ticker until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.ScanInterval)
	defer ticker.Stop()

	log.Printf("control: loop started, scan interval %v", l.opts.ScanInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("control: loop stopped")
			return ctx.Err()
		case now := <-ticker.C:
			l.step(now)
		}
	}
}

// step is one control cycle. Order matters: acquisition, calibration
// subtract, filters, slip detection, state machine, actuator.
func (l *Loop) step(now time.Time) {
	start := time.Now()
	l.cycle++

	if l.resetReq.CompareAndSwap(true, false) {
		l.Reset()
	}

	sample, fieldOK := l.acquire(now)
	sample = l.cal.Apply(sample)

	f := l.bank.ApplyMain(sample)
	l.bank.ApplyBandSplit(&f)

	// A held sample must not enter the spectral window: repeating the
	// previous value would fabricate a DC step in the spectrum.
	if fieldOK {
		l.det.Feed(f.XHigh, f.YHigh)
	}
	l.det.Tick()

	if l.cycle%l.currentEvery == 0 {
		if mA, err := l.current.ReadMilliAmps(); err != nil {
			log.Printf("control: current read error: %v", err)
		} else {
			l.bank.FilterCurrent(mA)
		}
	}

	if l.cycle%l.buttonEvery == 0 {
		if st, err := l.buttons.Read(); err != nil {
			log.Printf("control: button read error: %v", err)
		} else {
			l.lastButtons = st
		}
	}

	eff := l.machine.Process(now, grip.Inputs{
		Buttons: grip.Buttons{
			Grasp:    l.lastButtons.Grasp,
			Open:     l.lastButtons.Open,
			LiftUp:   l.lastButtons.LiftUp,
			LiftDown: l.lastButtons.LiftDown,
			Auto:     l.lastButtons.Auto,
		},
		CurrentMA:     l.bank.Current(),
		Magnitude:     f.MagnitudeLow,
		SlipFresh:     l.det.Fresh(),
		SlipFlag:      l.det.Flag(),
		SlipIndicator: l.det.Indicator(),
	})
	if eff.IgnoreSlipCycles > 0 {
		l.det.IgnoreFor(eff.IgnoreSlipCycles)
	}
	if eff.ResetSlip {
		l.det.Reset()
	}
	if eff.ConsumeSlip {
		l.det.Consume()
	}

	l.act.MoveTo(int64(l.machine.Position()) * l.opts.StepsPerUnit)
	if l.cycle%l.actuatorEvery == 0 {
		if err := l.act.Update(); err != nil {
			log.Printf("control: actuator: %v", err)
		}
	}

	elapsed := time.Since(start)
	l.publish(Snapshot{
		Time:          now.UTC().Format(time.RFC3339Nano),
		State:         l.machine.State().String(),
		Position:      l.machine.Position(),
		Field:         f,
		CurrentMA:     l.bank.Current(),
		SlipIndicator: l.det.Indicator(),
		SlipFlag:      l.det.Flag(),
		CycleUS:       elapsed.Microseconds(),
		Overrun:       elapsed > l.opts.ScanInterval,
	})
}

// acquire reads the field sensor, holding the previous sample on a
// transient failure so the filters see a continuous signal.
func (l *Loop) acquire(now time.Time) (mag.Sample, bool) {
	x, y, z, err := l.field.Read()
	if err != nil {
		l.readErrs++
		if l.readErrs == 1 || l.readErrs%1000 == 0 {
			log.Printf("control: field read error (%d total): %v", l.readErrs, err)
		}
		return l.lastSample, false
	}
	l.readErrs = 0
	l.lastSample = mag.Sample{X: x, Y: y, Z: z, Time: now}
	return l.lastSample, true
}

// Reset restores the pipeline to its initial state: machine to open,
// filters discharged, detector windows emptied. Safe to call repeatedly
// but only from the control goroutine; see RequestReset.
func (l *Loop) Reset() {
	l.machine.Reset()
	l.bank.Reset()
	l.det.Reset()
	l.act.MoveTo(int64(l.machine.Position()) * l.opts.StepsPerUnit)
	log.Println("control: pipeline reset")
}

// RequestReset schedules a pipeline reset for the start of the next
// control cycle. This is the recovery entry point for other
// goroutines, e.g. an operator command over MQTT.
func (l *Loop) RequestReset() {
	l.resetReq.Store(true)
}

// DiagnosticSpectrum exposes the X-window magnitudes for the debug
// streamer; ok is false when no fresh spectrum is available or the
// window is busy.
func (l *Loop) DiagnosticSpectrum() ([]float64, bool) {
	return l.det.DiagnosticSpectrum()
}

// SpectrumBinHz returns the per-bin frequency resolution.
func (l *Loop) SpectrumBinHz() float64 { return l.det.BinHz() }
