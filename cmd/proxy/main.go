package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/logging"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.Init(cfg.Log); err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	server, err := proxy.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create proxy server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = server.Start(ctx)
	stop()

	// Fatalf skips deferred calls
	if closeErr := server.Close(); closeErr != nil {
		logrus.Errorf("Failed to close cache storage: %v", closeErr)
	}
	if err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}
