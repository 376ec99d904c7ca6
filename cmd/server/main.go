// Cerberus - credential sentinel and decoy session server
package main

import (
	"context"
	"os"
	"time"

	_ "time/tzdata" // profile timezones resolve without a system zoneinfo

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/config"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/server"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/traces"
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
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting cerberus",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"webhook", cfg.AlertWebhookURL != "",
		"decoy_ttl", cfg.DecoyTTL.String(),
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
