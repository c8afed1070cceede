// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
)

// CurrentMonitor reads the motor supply current through an INA219
// shunt monitor.
type CurrentMonitor struct {
	bus i2c.BusCloser
	dev *ina219.Dev
}

// NewCurrentMonitor opens the I2C bus and configures the INA219 for a
// 100 mΩ shunt and 1 A full scale, which covers the motor's stall
// current with margin.
func NewCurrentMonitor(busName string, addr uint16) (*CurrentMonitor, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("current: i2c open %q: %w", busName, err)
	}

	dev, err := ina219.New(bus, &ina219.Opts{
		Address:       int(addr),
		SenseResistor: 100 * physic.MilliOhm,
		MaxCurrent:    physic.Ampere,
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("current: ina219 init: %w", err)
	}

	log.Printf("current: INA219 ready at 0x%02X on bus %q", addr, busName)
	return &CurrentMonitor{bus: bus, dev: dev}, nil
}

// ReadMilliAmps returns the instantaneous current in mA.
func (m *CurrentMonitor) ReadMilliAmps() (float64, error) {
	pm, err := m.dev.Sense()
	if err != nil {
		return 0, fmt.Errorf("current: sense: %w", err)
	}
	return float64(pm.Current) / float64(physic.MilliAmpere), nil
}

// Close releases the I2C bus.
func (m *CurrentMonitor) Close() error {
	return m.bus.Close()
}
