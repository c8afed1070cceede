// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// GPIOButtons polls operator buttons on GPIO pins, active low with
// internal pull-ups. Pins with an empty name are left unwired and
// always report released, so a build without the lift rocker or the
// auto switch still runs.
type GPIOButtons struct {
	grasp    gpio.PinIn
	open     gpio.PinIn
	liftUp   gpio.PinIn
	liftDown gpio.PinIn
	auto     gpio.PinIn
}

// NewGPIOButtons resolves and configures the named pins. The grasp and
// open pins are required; the rest are optional.
func NewGPIOButtons(graspPin, openPin, liftUpPin, liftDownPin, autoPin string) (*GPIOButtons, error) {
	b := &GPIOButtons{}
	var err error
	if b.grasp, err = buttonPin(graspPin, true); err != nil {
		return nil, err
	}
	if b.open, err = buttonPin(openPin, true); err != nil {
		return nil, err
	}
	if b.liftUp, err = buttonPin(liftUpPin, false); err != nil {
		return nil, err
	}
	if b.liftDown, err = buttonPin(liftDownPin, false); err != nil {
		return nil, err
	}
	if b.auto, err = buttonPin(autoPin, false); err != nil {
		return nil, err
	}
	return b, nil
}

func buttonPin(name string, required bool) (gpio.PinIn, error) {
	if name == "" {
		if required {
			return nil, fmt.Errorf("buttons: required pin not configured")
		}
		return nil, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("buttons: pin %q not found", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("buttons: pin %q setup: %w", name, err)
	}
	return pin, nil
}

// Read returns the current state of all buttons. Polling at the button
// interval doubles as debounce.
func (b *GPIOButtons) Read() (ButtonState, error) {
	return ButtonState{
		Grasp:    pressed(b.grasp),
		Open:     pressed(b.open),
		LiftUp:   pressed(b.liftUp),
		LiftDown: pressed(b.liftDown),
		Auto:     pressed(b.auto),
	}, nil
}

func pressed(pin gpio.PinIn) bool {
	return pin != nil && pin.Read() == gpio.Low
}
