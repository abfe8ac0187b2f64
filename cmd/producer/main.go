package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/orientation_server/internal/app"
	"github.com/relabs-tech/orientation_server/internal/config"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockProducer(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
