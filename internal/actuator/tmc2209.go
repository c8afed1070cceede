// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// TMC2209 register addresses (datasheet rev 1.09).
const (
	tmcRegGCONF     = 0x00
	tmcRegIFCNT     = 0x02
	tmcRegIHOLDIRUN = 0x10
	tmcRegTPOWERDWN = 0x11
	tmcRegTCOOLTHRS = 0x14
	tmcRegVACTUAL   = 0x22
	tmcRegSGTHRS    = 0x40
	tmcRegSGRESULT  = 0x41
	tmcRegCHOPCONF  = 0x6C

	tmcSync      = 0x05
	tmcWriteFlag = 0x80

	// VACTUAL is in 2^24/fCLK increments; with the internal 12 MHz
	// clock one unit is about 0.715 steps/s.
	tmcVactualPerStep = 1.0 / 0.715

	// CHOPCONF with TOFF=5, 16 microsteps, vsense high sensitivity.
	tmcChopconf = 0x14008005

	// IHOLD=8, IHOLDDELAY=10; IRUN filled in by SetCurrent.
	tmcIhold      = 8
	tmcIholdDelay = 10
)

// TMC2209 drives a TMC2209 stepper driver over its single-wire UART in
// pure velocity mode: motion is commanded through VACTUAL, so no step
// generation is needed on the host. The driver has no position
// feedback in this mode; Position reports ok=false and the command
// layer integrates open loop.
type TMC2209 struct {
	port      io.ReadWriteCloser
	slave     byte
	enablePin gpio.PinOut
	posRef    int64
}

// TMCOpts selects the serial link and driver address.
type TMCOpts struct {
	PortName  string
	BaudRate  int
	SlaveAddr int
	EnablePin string // active-low driver enable GPIO
}

// NewTMC2209 opens the UART, verifies the driver answers and applies
// the chopper configuration.
func NewTMC2209(opts TMCOpts) (*TMC2209, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              uint(opts.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 50,
	})
	if err != nil {
		return nil, fmt.Errorf("motor: serial open %q: %w", opts.PortName, err)
	}

	en := gpioreg.ByName(opts.EnablePin)
	if en == nil {
		port.Close()
		return nil, fmt.Errorf("motor: enable pin %q not found", opts.EnablePin)
	}
	if err := en.Out(gpio.High); err != nil { // disabled at startup
		port.Close()
		return nil, fmt.Errorf("motor: enable pin setup: %w", err)
	}

	d := &TMC2209{port: port, slave: byte(opts.SlaveAddr), enablePin: en}

	// IFCNT increments on every accepted write; reading it first proves
	// the UART link before any configuration goes out.
	if _, err := d.readRegister(tmcRegIFCNT); err != nil {
		port.Close()
		return nil, fmt.Errorf("motor: driver not answering: %w", err)
	}

	if err := d.writeRegister(tmcRegGCONF, 0x000001C0); err != nil { // pdn_disable, mstep_reg_select
		port.Close()
		return nil, fmt.Errorf("motor: gconf: %w", err)
	}
	if err := d.writeRegister(tmcRegCHOPCONF, tmcChopconf); err != nil {
		port.Close()
		return nil, fmt.Errorf("motor: chopconf: %w", err)
	}
	if err := d.writeRegister(tmcRegTPOWERDWN, 10); err != nil {
		port.Close()
		return nil, fmt.Errorf("motor: tpowerdown: %w", err)
	}
	// StallGuard needs TCOOLTHRS raised so SG_RESULT is valid at the
	// homing speed.
	if err := d.writeRegister(tmcRegTCOOLTHRS, 0xFFFFF); err != nil {
		port.Close()
		return nil, fmt.Errorf("motor: tcoolthrs: %w", err)
	}
	if err := d.writeRegister(tmcRegVACTUAL, 0); err != nil {
		port.Close()
		return nil, fmt.Errorf("motor: vactual clear: %w", err)
	}

	log.Printf("motor: TMC2209 ready on %s (addr %d)", opts.PortName, opts.SlaveAddr)
	return d, nil
}

// RunSpeed commands continuous motion at the signed speed in steps/s.
func (d *TMC2209) RunSpeed(stepsPerSec int) error {
	v := int32(float64(stepsPerSec) * tmcVactualPerStep)
	return d.writeRegister(tmcRegVACTUAL, uint32(v))
}

// ForceStop zeroes VACTUAL; the driver halts without a ramp.
func (d *TMC2209) ForceStop() error {
	return d.writeRegister(tmcRegVACTUAL, 0)
}

// EnableOutputs pulls the active-low enable line.
func (d *TMC2209) EnableOutputs() error {
	if err := d.enablePin.Out(gpio.Low); err != nil {
		return fmt.Errorf("motor: enable: %w", err)
	}
	return nil
}

// DisableOutputs releases the enable line, cutting motor current.
func (d *TMC2209) DisableOutputs() error {
	if err := d.enablePin.Out(gpio.High); err != nil {
		return fmt.Errorf("motor: disable: %w", err)
	}
	return nil
}

// Load reads SG_RESULT, the StallGuard load proxy. Lower means higher
// mechanical load; near zero means stall.
func (d *TMC2209) Load() (int, error) {
	v, err := d.readRegister(tmcRegSGRESULT)
	if err != nil {
		return 0, fmt.Errorf("motor: sg_result: %w", err)
	}
	return int(v & 0x3FF), nil
}

// SetCurrent programs IRUN from the requested rms current, assuming
// the 110 mΩ sense resistors and vsense=1 scaling of the gripper
// board: full scale 31 corresponds to about 1.2 A rms.
func (d *TMC2209) SetCurrent(mA int) error {
	irun := (mA*31 + 600) / 1200
	if irun < 1 {
		irun = 1
	}
	if irun > 31 {
		irun = 31
	}
	v := uint32(tmcIholdDelay)<<16 | uint32(irun)<<8 | uint32(tmcIhold)
	if err := d.writeRegister(tmcRegIHOLDIRUN, v); err != nil {
		return fmt.Errorf("motor: ihold_irun: %w", err)
	}
	return nil
}

// SetStallThreshold programs SGTHRS.
func (d *TMC2209) SetStallThreshold(v int) error {
	if err := d.writeRegister(tmcRegSGTHRS, uint32(v&0xFF)); err != nil {
		return fmt.Errorf("motor: sgthrs: %w", err)
	}
	return nil
}

// SetPosition overwrites the host-side reference. The TMC2209 keeps no
// step counter in velocity mode.
func (d *TMC2209) SetPosition(steps int64) error {
	d.posRef = steps
	return nil
}

// Position reports ok=false: velocity mode has no position feedback.
func (d *TMC2209) Position() (int64, bool) {
	return d.posRef, false
}

// Close stops the motor and releases the port.
func (d *TMC2209) Close() error {
	_ = d.ForceStop()
	_ = d.DisableOutputs()
	return d.port.Close()
}

// writeRegister sends an 8-byte write datagram.
func (d *TMC2209) writeRegister(reg byte, value uint32) error {
	buf := make([]byte, 8)
	buf[0] = tmcSync
	buf[1] = d.slave
	buf[2] = reg | tmcWriteFlag
	binary.BigEndian.PutUint32(buf[3:7], value)
	buf[7] = tmcCRC(buf[:7])
	if _, err := d.port.Write(buf); err != nil {
		return fmt.Errorf("uart write reg 0x%02X: %w", reg, err)
	}
	// The single-wire UART echoes the datagram back; drain it so it is
	// not mistaken for a read reply.
	drain := make([]byte, 8)
	_, _ = io.ReadFull(d.port, drain)
	return nil
}

// readRegister sends a 4-byte read request and parses the 8-byte reply.
func (d *TMC2209) readRegister(reg byte) (uint32, error) {
	req := []byte{tmcSync, d.slave, reg, 0}
	req[3] = tmcCRC(req[:3])
	if _, err := d.port.Write(req); err != nil {
		return 0, fmt.Errorf("uart read req 0x%02X: %w", reg, err)
	}

	// Echo of the request, then the reply datagram.
	raw := make([]byte, 12)
	deadline := time.Now().Add(100 * time.Millisecond)
	n := 0
	for n < len(raw) && time.Now().Before(deadline) {
		m, err := d.port.Read(raw[n:])
		if err != nil {
			return 0, fmt.Errorf("uart read reg 0x%02X: %w", reg, err)
		}
		n += m
	}
	if n < len(raw) {
		return 0, fmt.Errorf("uart read reg 0x%02X: short reply (%d bytes)", reg, n)
	}

	reply := raw[4:]
	if reply[0] != tmcSync || reply[2] != reg {
		return 0, fmt.Errorf("uart read reg 0x%02X: malformed reply", reg)
	}
	if tmcCRC(reply[:7]) != reply[7] {
		return 0, fmt.Errorf("uart read reg 0x%02X: bad crc", reg)
	}
	return binary.BigEndian.Uint32(reply[3:7]), nil
}

// tmcCRC is the CRC8-ATM (poly 0x07) over the datagram, bit-reversed
// per byte as the TMC2209 expects.
func tmcCRC(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b&1) != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}
