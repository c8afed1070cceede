// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// TLE493D-W2B6 register map (datasheet rev 1.2). Data registers are
// read as one burst starting at Bx; the 12-bit axis values split their
// low nibbles across the shared LSB registers.
const (
	tleRegBx    = 0x00 // Bx[11:4]
	tleRegBy    = 0x01 // By[11:4]
	tleRegBz    = 0x02 // Bz[11:4]
	tleRegTemp  = 0x03 // Temp[11:4]
	tleRegBx2   = 0x04 // Bx[3:0] << 4 | By[3:0]
	tleRegTemp2 = 0x05 // Temp[1:0] << 6 | ID << 4 | Bz[3:0]
	tleRegDiag  = 0x06

	tleRegConfig = 0x10
	tleRegMod1   = 0x11

	// MOD1: one-byte read mode, interrupt disabled, master-controlled
	// mode. Parity bit computed over CONFIG+MOD1 at init.
	tleMod1Master = 0x15

	// CONFIG: full range, no temperature compensation tricks, trigger
	// on read of register 0x00.
	tleConfigDefault = 0x10

	// 7.7 LSB/mT full range sensitivity.
	tleScaleMT = 1.0 / 7.7
)

// TLE493D reads a TLE493D-W2B6 3D hall sensor over I2C in
// master-controlled mode: every burst read of the data registers
// triggers the next conversion, so the sample rate is set purely by
// the caller's polling cadence.
type TLE493D struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

// NewTLE493D opens the I2C bus and configures the sensor for
// master-controlled BxByBz measurement.
func NewTLE493D(busName string, addr uint16) (*TLE493D, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("mag: i2c open %q: %w", busName, err)
	}
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	s := &TLE493D{bus: bus, dev: dev}
	if err := s.configure(); err != nil {
		bus.Close()
		return nil, err
	}
	log.Printf("mag: TLE493D ready at 0x%02X on bus %q", addr, busName)
	return s, nil
}

func (s *TLE493D) configure() error {
	cfg := []byte{tleRegConfig, tleConfigDefault, oddParity(tleConfigDefault, tleMod1Master) | tleMod1Master}
	if err := s.dev.Tx(cfg, nil); err != nil {
		return fmt.Errorf("mag: sensor config write: %w", err)
	}

	// Read back DIAG once to confirm the sensor answered and clear any
	// power-up fault latch.
	var diag [1]byte
	if err := s.dev.Tx([]byte{tleRegDiag}, diag[:]); err != nil {
		return fmt.Errorf("mag: diag read: %w", err)
	}
	return nil
}

// Read performs the burst read of the six data registers and assembles
// the three signed 12-bit axis values, scaled to mT.
func (s *TLE493D) Read() (x, y, z float64, err error) {
	var raw [6]byte
	if err := s.dev.Tx([]byte{tleRegBx}, raw[:]); err != nil {
		return 0, 0, 0, fmt.Errorf("mag: field read: %w", err)
	}

	bx := assemble12(raw[0], raw[4]>>4)
	by := assemble12(raw[1], raw[4]&0x0F)
	bz := assemble12(raw[2], raw[5]&0x0F)

	return float64(bx) * tleScaleMT, float64(by) * tleScaleMT, float64(bz) * tleScaleMT, nil
}

// Close releases the I2C bus.
func (s *TLE493D) Close() error {
	return s.bus.Close()
}

// assemble12 joins the 8 MSBs and 4 LSBs of an axis into a signed
// 12-bit value.
func assemble12(msb byte, lsn byte) int16 {
	v := int16(msb)<<4 | int16(lsn&0x0F)
	if v >= 1<<11 {
		v -= 1 << 12
	}
	return v
}

// oddParity returns the FP bit for the MOD1 register: the total number
// of set bits across the written config bytes must be odd.
func oddParity(bytes ...byte) byte {
	var ones int
	for _, b := range bytes {
		for b != 0 {
			ones += int(b & 1)
			b >>= 1
		}
	}
	if ones%2 == 0 {
		return 0x80
	}
	return 0
}
