// GigVault - wallet ledger and escrow settlement engine
package main

import (
	"context"
	"os"

	"github.com/gigvault/gigvault/internal/config"
	"github.com/gigvault/gigvault/internal/logging"
	"github.com/gigvault/gigvault/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting gigvault",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"require_deposit_intent", cfg.RequireDepositIntent,
		"platform_fee_bps", cfg.PlatformFeeBps,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
