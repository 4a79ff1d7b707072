package main

import (
	"flag"
	"log"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/pkg/engine"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fiberlog.Fatalf("Failed to initialize engine: %v", err)
	}

	log.Println("Starting RateWatch server...")
	if err := eng.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
