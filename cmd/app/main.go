package main

import (
	"context"
	"flag"
	"log"
	"os"

	"BrentBreaks/internal/di"
	"BrentBreaks/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s prices=%s events=%s strategy=%s",
		cfg.Environment, cfg.Data.PriceSource, cfg.Data.EventSource, cfg.Analysis.Engine.Strategy)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v runs=%s refresh=%s", cfg.Kafka.Brokers, cfg.Kafka.RunsTopic, cfg.Kafka.RefreshTopic)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
