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
	mock := flag.Bool("mock", false, "run with simulated hardware")
	flag.Parse()

	log.Println("starting adaptive-gripper controller")

	if err := app.RunGripper(*configPath, *mock); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
