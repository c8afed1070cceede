// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires the gripper subsystems into runnable programs:
// the controller itself, the MQTT console, the web backend and the
// status display.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/host/v3"

	"github.com/relabs-tech/adaptive_gripper/internal/actuator"
	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
	"github.com/relabs-tech/adaptive_gripper/internal/filter"
	"github.com/relabs-tech/adaptive_gripper/internal/grip"
	"github.com/relabs-tech/adaptive_gripper/internal/sensors"
	"github.com/relabs-tech/adaptive_gripper/internal/slip"
)

// RunGripper is the main control binary: initialize hardware, home the
// actuator, calibrate the field sensor and run the control loop with
// telemetry until interrupted. With useMock set, every hardware
// collaborator is replaced by its simulated counterpart and homing is
// skipped, which is enough to exercise the whole pipeline on a desk.
func RunGripper(configPath string, useMock bool) error {
	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("gripper: config init: %w", err)
	}
	cfg := config.Get()

	if !useMock {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("gripper: periph host init: %w", err)
		}
	}

	field, current, buttons, drv, err := buildHardware(cfg, useMock)
	if err != nil {
		return err
	}

	ctrl := actuator.NewController(drv, actuator.Tuning{
		MaxSpeed:     cfg.MaxSpeed,
		Acceleration: cfg.Acceleration,
		Deadzone:     int64(cfg.Deadzone),
		CyclePeriod:  time.Duration(cfg.ActuatorIntervalMS) * time.Millisecond,
	})

	if !useMock {
		if err := runHoming(cfg, drv); err != nil {
			return err
		}
		if err := ctrl.Zero(); err != nil {
			return err
		}
	}

	bank := filter.NewBank(filter.Rates{
		MainCutoffHz:      cfg.MainCutoffHz,
		BandSplitCutoffHz: cfg.BandSplitCutoffHz,
		FieldSampleHz:     cfg.SampleRateHz(),
		CurrentCutoffHz:   cfg.CurrentCutoffHz,
		CurrentSampleHz:   cfg.CurrentSampleHz,
	})

	det, err := slip.New(slip.Options{
		Samples:     cfg.FFTSamples,
		SampleHz:    cfg.SampleRateHz(),
		FreqStartHz: cfg.SlipFreqStartHz,
		FreqEndHz:   cfg.SlipFreqEndHz,
		Threshold:   cfg.SlipThreshold,
	})
	if err != nil {
		return fmt.Errorf("gripper: slip detector: %w", err)
	}

	machine := grip.New(grip.Tuning{
		FullyOpen:           cfg.FullyOpen,
		FullyClosed:         cfg.FullyClosed,
		ReactionCooldown:    time.Duration(cfg.ReactionCooldownMS) * time.Millisecond,
		BackoffDelay:        time.Duration(cfg.BackoffDelayMS) * time.Millisecond,
		BackoffInterval:     time.Duration(cfg.BackoffIntervalMS) * time.Millisecond,
		CurrentThresholdMA:  cfg.GripCurrentThresholdMA,
		MagnitudeThreshold:  cfg.GripMagnitudeThreshold,
		MagnitudeDropMargin: cfg.GripMagnitudeDropMargin,
		GraspingStep:        cfg.GraspingStep,
		OpeningStep:         cfg.OpeningStep,
		BackoffStep:         cfg.BackoffStep,
		MaxReactionSteps:    cfg.MaxReactionSteps,
		SlipThreshold:       cfg.SlipThreshold,
		SlipIgnoreCycles:    cfg.SlipIgnoreCycles,
	})

	loop := control.New(control.Options{
		ScanInterval:     time.Duration(cfg.ScanIntervalUS) * time.Microsecond,
		CurrentInterval:  time.Duration(cfg.CurrentReadIntervalMS) * time.Millisecond,
		ButtonInterval:   time.Duration(cfg.ButtonReadIntervalMS) * time.Millisecond,
		ActuatorInterval: time.Duration(cfg.ActuatorIntervalMS) * time.Millisecond,
		StepsPerUnit:     int64(cfg.StepsPerUnit),
		WarmupReadings:   2 * cfg.FFTSamples,
	}, field, current, buttons, bank, det, machine, ctrl)

	if err := loop.Calibrate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := runTelemetry(ctx, cfg, loop); err != nil {
			log.Printf("gripper: telemetry stopped: %v", err)
		}
	}()

	if cfg.DiagSerialPort != "" {
		go func() {
			if err := runDiagStreamer(ctx, cfg, loop); err != nil {
				log.Printf("gripper: diag streamer stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("gripper: shutting down")
		cancel()
	}()

	err = loop.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// buildHardware opens the real sensors and motor driver, or their
// simulated counterparts in mock mode.
func buildHardware(cfg *config.Config, useMock bool) (sensors.FieldSource, sensors.CurrentSource, sensors.ButtonSource, actuator.Driver, error) {
	if useMock {
		log.Println("gripper: using simulated hardware")
		return sensors.NewMockField(), sensors.NewMockCurrent(), sensors.NewMockButtons(), mockDriver{}, nil
	}

	field, err := sensors.NewTLE493D(cfg.MagI2CBus, cfg.MagI2CAddr)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	current, err := sensors.NewCurrentMonitor(cfg.CurrentI2CBus, cfg.CurrentI2CAddr)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	buttons, err := sensors.NewGPIOButtons(cfg.ButtonGraspPin, cfg.ButtonOpenPin,
		cfg.ButtonLiftUpPin, cfg.ButtonLiftDownPin, cfg.ButtonAutoPin)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	drv, err := actuator.NewTMC2209(actuator.TMCOpts{
		PortName:  cfg.MotorSerialPort,
		BaudRate:  cfg.MotorBaudRate,
		SlaveAddr: cfg.MotorDriverAddr,
		EnablePin: cfg.MotorEnablePin,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return field, current, buttons, drv, nil
}

// runHoming drives the homing state machine to completion on a 10 ms
// tick. A timeout is reported but not fatal: the gripper runs with an
// uncalibrated zero.
func runHoming(cfg *config.Config, drv actuator.Driver) error {
	homer := actuator.NewHomer(drv, actuator.HomingConfig{
		CurrentMA:      cfg.HomingCurrentMA,
		StallThreshold: cfg.HomingThreshold,
		Speed:          cfg.HomingSpeed,
		AwayDuration:   time.Duration(cfg.HomingAwayMS) * time.Millisecond,
		SettleDuration: time.Duration(cfg.HomingSettleMS) * time.Millisecond,
		Timeout:        time.Duration(cfg.HomingTimeoutMS) * time.Millisecond,
		StallReadings:  cfg.HomingStallReadings,
		StallLoadLimit: cfg.HomingThreshold,
	}, cfg.RunCurrentMA, cfg.RunStallThreshold)

	if err := homer.Start(time.Now()); err != nil {
		return fmt.Errorf("gripper: homing: %w", err)
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for now := range ticker.C {
		if err := homer.Step(now); err != nil {
			return fmt.Errorf("gripper: homing: %w", err)
		}
		if homer.Done() {
			break
		}
	}

	res := homer.Result()
	if res.Stalled {
		log.Printf("gripper: homed in %v", res.Elapsed.Round(time.Millisecond))
	} else {
		log.Printf("gripper: homing did not find the end stop after %v, zero is uncalibrated",
			res.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// mockDriver lets the full control stack run without a motor attached.
type mockDriver struct{}

func (mockDriver) RunSpeed(int) error          { return nil }
func (mockDriver) ForceStop() error            { return nil }
func (mockDriver) EnableOutputs() error        { return nil }
func (mockDriver) DisableOutputs() error       { return nil }
func (mockDriver) Load() (int, error)          { return 400, nil }
func (mockDriver) SetCurrent(int) error        { return nil }
func (mockDriver) SetStallThreshold(int) error { return nil }
func (mockDriver) SetPosition(int64) error     { return nil }
func (mockDriver) Position() (int64, bool)     { return 0, false }
