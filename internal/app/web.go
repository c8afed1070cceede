// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/adaptive_gripper/internal/config"
	"github.com/relabs-tech/adaptive_gripper/internal/control"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// RunWeb subscribes to the gripper telemetry topics and serves them to
// browsers: a JSON polling endpoint, a websocket push stream and the
// static viewer files.
func RunWeb(configPath string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("web: config init: %w", err)
	}
	cfg := config.Get()

	var (
		mu           sync.RWMutex
		lastSnap     control.Snapshot
		haveSnap     bool
		lastSpectrum spectrumPayload
		haveSpectrum bool
	)

	// 1) Connect to the MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to the snapshot and spectrum topics
	snapToken := client.Subscribe(cfg.TopicSnapshot, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s control.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: snapshot unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastSnap = s
		haveSnap = true
		mu.Unlock()
	})
	snapToken.Wait()
	if snapToken.Error() != nil {
		return snapToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicSnapshot)

	spToken := client.Subscribe(cfg.TopicSpectrum, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var sp spectrumPayload
		if err := json.Unmarshal(msg.Payload(), &sp); err != nil {
			log.Printf("web: spectrum unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastSpectrum = sp
		haveSpectrum = true
		mu.Unlock()
	})
	spToken.Wait()
	if spToken.Error() != nil {
		return spToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicSpectrum)

	// 3) JSON API endpoints
	http.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveSnap {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastSnap); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/spectrum", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveSpectrum {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastSpectrum); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 4) Websocket push: the latest snapshot every 100 ms
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("web: websocket client connected from %s", r.RemoteAddr)

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		lastSent := ""
		for range ticker.C {
			mu.RLock()
			snap := lastSnap
			ok := haveSnap
			mu.RUnlock()
			if !ok || snap.Time == lastSent {
				continue
			}
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("web: websocket client gone: %v", err)
				return
			}
			lastSent = snap.Time
		}
	})

	// 5) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
