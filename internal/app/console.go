package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
)

// RunConsole subscribes to the gripper telemetry topics and prints one
// line per message. Useful over ssh while tuning thresholds.
func RunConsole(configPath string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("console: config init: %w", err)
	}
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	snapToken := client.Subscribe(cfg.TopicSnapshot, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s control.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: snapshot unmarshal error: %v", err)
			return
		}

		slipMark := " "
		if s.SlipFlag {
			slipMark = "!"
		}
		fmt.Printf(
			"[GRIP] %-8s pos=%3d  mag=%7.3f  cur=%6.2fmA  slip%s=%8.1f  cycle=%4dus\n",
			s.State, s.Position, s.Field.Magnitude, s.CurrentMA, slipMark, s.SlipIndicator, s.CycleUS,
		)
	})
	snapToken.Wait()
	if snapToken.Error() != nil {
		return snapToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSnapshot)

	spToken := client.Subscribe(cfg.TopicSpectrum, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var sp spectrumPayload
		if err := json.Unmarshal(msg.Payload(), &sp); err != nil {
			log.Printf("console: spectrum unmarshal error: %v", err)
			return
		}

		// Print the peak only; the full array is for the web viewer.
		peak, peakBin := 0.0, 0
		for i, v := range sp.Data {
			if v > peak {
				peak, peakBin = v, i
			}
		}
		fmt.Printf(
			"[SPEC] peak=%8.2f at %6.1fHz (%d bins)\n",
			peak, float64(peakBin)*sp.BinHz, len(sp.Data),
		)
	})
	spToken.Wait()
	if spToken.Error() != nil {
		return spToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSpectrum)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
