// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/orientation_server/internal/app"
)

func main() {
	url := flag.String("url", "ws://localhost:9006/", "push channel URL of the orientation server")
	flag.Parse()

	log.Println("starting orientation console")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, *url, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
