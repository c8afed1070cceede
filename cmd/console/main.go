package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/adaptive_gripper/internal/app"
)

func main() {
	configPath := flag.String("config", "./gripper_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting adaptive-gripper console (MQTT subscriber)")

	if err := app.RunConsole(*configPath); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
