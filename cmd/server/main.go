package main

import (
	"log"
	"os"

	"nudge/internal/config"
	"nudge/internal/logger"
	"nudge/internal/server"
)

func main() {
	cfg, err := config.Load("", nil)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	s, err := server.NewServer(cfg.Relay)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	if err := s.Run(); err != nil {
		log.Fatalf("Relay stopped: %v", err)
	}
}
