// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/adaptive_gripper/internal/app"
)

func main() {
	configPath := flag.String("config", "./gripper_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting adaptive-gripper web server (MQTT subscriber)")

	if err := app.RunWeb(*configPath); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
