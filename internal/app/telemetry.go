// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
)

// spectrumPayload is the JSON published on the spectrum topic when a
// fresh diagnostic FFT window is available.
type spectrumPayload struct {
	BinHz float64   `json:"bin_hz"`
	Data  []float64 `json:"data"`
	Time  string    `json:"time"`
}

// runTelemetry publishes control loop snapshots to MQTT at the
// telemetry interval, and the diagnostic spectrum whenever a window
// completes. The loop never waits on the broker: publishes run on the
// telemetry goroutine against the last committed snapshot.
func runTelemetry(ctx context.Context, cfg *config.Config, loop *control.Loop) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGripper)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("telemetry: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Operator commands. "reset" is the external recovery action: it is
	// only scheduled here, the control goroutine applies it.
	cmdToken := client.Subscribe(cfg.TopicCommand, 0, func(_ mqtt.Client, msg mqtt.Message) {
		switch cmd := strings.TrimSpace(string(msg.Payload())); cmd {
		case "reset":
			log.Println("telemetry: reset command received")
			loop.RequestReset()
		default:
			log.Printf("telemetry: unknown command %q", cmd)
		}
	})
	cmdToken.Wait()
	if cmdToken.Error() != nil {
		return cmdToken.Error()
	}
	log.Printf("telemetry: subscribed to %s", cfg.TopicCommand)

	ticker := time.NewTicker(time.Duration(cfg.TelemetryIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := loop.Snapshot()
			if snap.Time == "" {
				continue // no cycle committed yet
			}
			b, err := json.Marshal(snap)
			if err != nil {
				log.Printf("telemetry: snapshot marshal error: %v", err)
				continue
			}
			client.Publish(cfg.TopicSnapshot, 0, false, b)

			if data, ok := loop.DiagnosticSpectrum(); ok {
				sp := spectrumPayload{
					BinHz: loop.SpectrumBinHz(),
					Data:  data,
					Time:  snap.Time,
				}
				if b, err := json.Marshal(sp); err == nil {
					client.Publish(cfg.TopicSpectrum, 0, false, b)
				}
			}
		}
	}
}
