package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
)

// RunDisplay drives the 128x64 status OLED on the gripper body: state,
// position, filtered current and the slip indicator, fed from the
// telemetry topic.
func RunDisplay(configPath string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("display: config init: %w", err)
	}
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	var (
		mu       sync.RWMutex
		lastSnap control.Snapshot
		haveSnap bool
	)

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicSnapshot, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s control.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: snapshot unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastSnap = s
		haveSnap = true
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicSnapshot)

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		mu.RLock()
		snap := lastSnap
		have := haveSnap
		mu.RUnlock()

		if err := updateStatus(dev, snap, have); err != nil {
			log.Printf("display: update error: %v", err)
		}
	}
	return nil
}

func updateStatus(dev *ssd1306.Dev, snap control.Snapshot, haveData bool) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveData {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Gripper"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("%-8s pos:%3d", snap.State, snap.Position)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("I: %6.2f mA", snap.CurrentMA)))

		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("B: %6.2f mT", snap.Field.Magnitude)))

		slipLine := fmt.Sprintf("S: %8.1f", snap.SlipIndicator)
		if snap.SlipFlag {
			slipLine += " !!"
		}
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(slipLine))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Adaptive"))

	drawer.Dot = fixed.P(10, 43)
	drawer.DrawBytes([]byte("Gripper"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
