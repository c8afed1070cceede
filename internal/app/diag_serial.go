// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
)

// diagSections are the per-section stream toggles. The spectrum stream
// is exclusive: while enabled it replaces the normal line output
// entirely, so plotting tools get nothing but FFT frames.
type diagFlags struct {
	fft         bool
	magRaw      bool
	magFiltered bool
	current     bool
	slip        bool
	servo       bool
	system      bool
}

type diagSections struct {
	mu    sync.Mutex
	flags diagFlags
}

// runDiagStreamer serves the line-oriented diagnostic protocol on the
// configured serial port: one JSON object per line in, toggling stream
// sections ({"slip":true}, {"fft":false}, ...), one JSON object per
// interval out, carrying only the enabled sections.
func runDiagStreamer(ctx context.Context, cfg *config.Config, loop *control.Loop) error {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              cfg.DiagSerialPort,
		BaudRate:              uint(cfg.DiagBaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("diag: serial open %q: %w", cfg.DiagSerialPort, err)
	}
	defer port.Close()
	log.Printf("diag: serial link open on %s at %d baud", cfg.DiagSerialPort, cfg.DiagBaudRate)

	var sections diagSections

	// Command reader. Port close on ctx cancel unblocks the scanner.
	go func() {
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if reply := sections.apply(line); reply != "" {
				fmt.Fprintln(port, reply)
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sections.mu.Lock()
			s := sections.flags
			sections.mu.Unlock()

			if s.fft {
				data, ok := loop.DiagnosticSpectrum()
				if !ok {
					continue
				}
				frame := map[string]interface{}{
					"type":   "fft",
					"bin_hz": loop.SpectrumBinHz(),
					"data":   data,
				}
				b, _ := json.Marshal(frame)
				fmt.Fprintln(port, string(b))
				continue
			}

			out := s.compose(loop.Snapshot())
			if len(out) == 0 {
				continue
			}
			b, _ := json.Marshal(out)
			fmt.Fprintln(port, string(b))
		}
	}
}

// apply parses one command line and returns the acknowledgement to
// send back, if any.
func (d *diagSections) apply(line string) string {
	var cmd map[string]bool
	if err := json.Unmarshal([]byte(line), &cmd); err != nil {
		return fmt.Sprintf(`{"log":"unknown cmd: %s"}`, line)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reply := ""
	for key, on := range cmd {
		switch key {
		case "fft":
			d.flags.fft = on
			if on {
				reply = `{"status":"FFT_ENABLED"}`
			} else {
				reply = `{"status":"FFT_DISABLED"}`
			}
		case "mag_raw":
			d.flags.magRaw = on
		case "mag_filtered":
			d.flags.magFiltered = on
		case "current":
			d.flags.current = on
		case "slip":
			d.flags.slip = on
		case "servo":
			d.flags.servo = on
		case "system":
			d.flags.system = on
		default:
			reply = fmt.Sprintf(`{"log":"unknown cmd: %s"}`, line)
		}
	}
	return reply
}

// compose builds the output object from the enabled sections. Key
// names match the plotting tools that grew around the firmware.
func (d diagFlags) compose(snap control.Snapshot) map[string]interface{} {
	out := map[string]interface{}{}
	if d.magFiltered {
		out["mx"] = snap.Field.XLow
		out["my"] = snap.Field.YLow
		out["mz"] = snap.Field.ZLow
		out["mag"] = snap.Field.Magnitude
	}
	if d.magRaw {
		out["rmx"] = snap.Field.X
		out["rmy"] = snap.Field.Y
		out["rmz"] = snap.Field.Z
	}
	if d.current {
		out["cur"] = snap.CurrentMA
	}
	if d.slip {
		flag := 0
		if snap.SlipFlag {
			flag = 1
		}
		out["slip"] = flag
		out["s_ind"] = snap.SlipIndicator
	}
	if d.servo {
		out["srv"] = snap.Position
		out["grp"] = snap.State
	}
	if d.system {
		out["t"] = snap.CycleUS
	}
	return out
}
