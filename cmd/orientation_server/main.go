// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/orientation_server/internal/app"
	"github.com/relabs-tech/orientation_server/internal/config"
	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (KEY=VALUE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting orientation server", "device", cfg.Device, "port", cfg.Port)

	dev, err := device.Open(cfg)
	if err != nil {
		slog.Error("failed to open device", "device", cfg.Device, "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	initial := app.InitialSettings(cfg)
	dev.SetPrediction(initial.PredictionPeriod, initial.PredictionEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunServer(ctx, cfg, dev); err != nil {
		slog.Error("server failed", "error", err)
		dev.Close()
		os.Exit(1)
	}
	slog.Info("orientation server stopped")
}
