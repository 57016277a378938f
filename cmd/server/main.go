// Intent Orchestrator - fraud-risk orchestration for customer communications
package main

import (
	"context"
	"os"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/config"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/logging"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/server"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New("info", "text")
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "text")

	logger.Info("starting intent orchestrator",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"dispatch_deadline", cfg.DispatchDeadline,
		"provider_timeout", cfg.ProviderTimeout,
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTraces(context.Background()); err != nil {
			logger.Error("trace shutdown error", "error", err)
		}
	}()

	srv, err := server.New(ctx, cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
