package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/orientation_server/internal/config"
	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/settings"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// InitialSettings converts the startup configuration into runtime settings.
func InitialSettings(cfg *config.Config) settings.RuntimeConfig {
	return settings.RuntimeConfig{
		BroadcastInterval: time.Duration(cfg.BroadcastIntervalMS) * time.Millisecond,
		PredictionPeriod:  float32(cfg.PredictionMS / 1000),
		PredictionEnabled: cfg.PredictionMS != 0,
	}
}

// RunServer listens on cfg.Port and serves until ctx is cancelled. A bind
// failure is returned immediately.
func RunServer(ctx context.Context, cfg *config.Config, dev device.Device) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
	}
	return Serve(ctx, ln, cfg, dev)
}

// Serve runs the event loop and the HTTP server on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, cfg *config.Config, dev device.Device) error {
	writeTimeout := time.Duration(cfg.WriteTimeoutMS) * time.Millisecond
	loop := NewLoop(dev, InitialSettings(cfg), cfg.ServerName, writeTimeout, clockwork.NewRealClock())

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go loop.Run(loopCtx)

	srv := &http.Server{
		Handler:           NewHandler(loop, writeTimeout),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := startMetrics(cfg.MetricsAddr)
		defer shutdown(metricsSrv)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	slog.Info("orientation server listening",
		"push_url", fmt.Sprintf("ws://localhost:%d/", port),
		"orientation_url", fmt.Sprintf("http://localhost:%d/orientation", port),
		"device_url", fmt.Sprintf("http://localhost:%d/device", port),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdown(srv)
		<-errCh
		<-loop.done
		return nil
	case err := <-errCh:
		stopLoop()
		<-loop.done
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
}
