// Package main provides the HTTP job server for comfyrelay.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renderfleet/comfyrelay/internal/comfy"
	"github.com/renderfleet/comfyrelay/internal/config"
	"github.com/renderfleet/comfyrelay/internal/export"
	"github.com/renderfleet/comfyrelay/internal/metrics"
	"github.com/renderfleet/comfyrelay/internal/runner"
	"github.com/renderfleet/comfyrelay/internal/server"
	"github.com/renderfleet/comfyrelay/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Load()
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	logger.Info("starting comfyrelay-server",
		"port", cfg.ServerPort,
		"comfy_api_url", cfg.ComfyAPIURL)

	client := comfy.New(cfg, logger)

	var store export.ObjectStore
	if sCfg := storage.ConfigFrom(cfg); sCfg.Configured() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s, err := storage.New(ctx, sCfg, logger)
		cancel()
		if err != nil {
			logger.Error("failed to init object storage", "error", err)
			os.Exit(1)
		}
		store = s
		logger.Info("s3 rehosting enabled", "bucket", sCfg.Bucket)
	}

	collector := metrics.NewCollector()
	r := runner.New(client, export.New(client, store, logger), cfg, logger, collector)
	srv := server.New(r, client, collector, cfg, logger)

	// Shut down gracefully on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
