// Command yieldcron runs the yield-to-target conversion engine on a simulated host.
// Deposits listed in the configuration are opened on first start; their accrued yield
// is redeemed and traded on each record's schedule.
//
// Usage:
//
//	yieldcron --config config.yaml
//	yieldcron --setup (interactive wizard, writes the config file first)
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/config"
	"github.com/vadiminshakov/yieldcron/internal"
	"github.com/vadiminshakov/yieldcron/internal/setup"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		if err := setup.RunTUI(flags.ConfigPath); err != nil {
			log.Fatal(err)
		}
	} else if _, err := os.Stat(flags.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("config file %s not found, run with --setup to create one", flags.ConfigPath)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close", zap.Error(err))
		}
	}()

	logger.Info("yieldcron started",
		zap.String("operator", cfg.Operator.String()),
		zap.String("listen", cfg.Listen),
		zap.Int("deposits", len(cfg.Deposits)))

	if err := app.Run(ctx); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		return
	}
	logger.Info("yieldcron stopped")
}
