package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graffio/internal/config"
	"graffio/internal/storage/postgres"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadMigrate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("migrate start", zap.Int("max_retries", cfg.MaxRetries))

	// Opening the store applies pending migrations.
	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:            cfg.PGDSN,
		ConnectRetries: cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBackoff,
	}, logger)
	if err != nil {
		return err
	}
	store.Close()

	logger.Info("migrate complete")
	return nil
}
