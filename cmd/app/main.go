package main

import (
	"context"
	"flag"
	"log"
	"os"

	"StockAlert/internal/di"
	"StockAlert/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	mode := flag.String("mode", "", "process role: all, api or worker (overrides config)")
	flag.Parse()

	if *mode != "" {
		_ = os.Setenv("STOCKALERT_MODE", *mode)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s mode=%s broker=%s history=%s", cfg.Environment, cfg.Mode, cfg.Broker.Type, cfg.History.Backend)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
