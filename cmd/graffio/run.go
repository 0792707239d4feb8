package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graffio/internal/api"
	"graffio/internal/config"
	"graffio/internal/flusher"
	"graffio/internal/indexer"
	"graffio/internal/metrics"
	"graffio/internal/processor"
	"graffio/internal/storage"
	"graffio/internal/storage/memory"
	"graffio/internal/storage/pebble"
	"graffio/internal/storage/postgres"
	"graffio/internal/storage/raster"
	"graffio/internal/stream"
)

func runGraffio(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadata, closeMetadata, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMetadata()

	var pixels storage.PixelStorage
	if cfg.UsesPixelStorage() {
		p, closePixels, err := openPixels(cfg, logger)
		if err != nil {
			return err
		}
		defer closePixels()
		pixels = p
	}

	var f flusher.Flusher
	if cfg.FlushTarget != config.FlushNone {
		if f, err = newFlusher(cfg, pixels, logger); err != nil {
			return err
		}
	}

	logger.Info("graffio start",
		zap.String("mode", cfg.Mode),
		zap.String("pixel_storage", cfg.PixelStorage),
		zap.String("metadata_storage", cfg.MetadataStorage),
		zap.String("flush_target", cfg.FlushTarget),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsProcessor() {
		if err := startProcessor(gctx, g, cfg, pixels, metadata, logger); err != nil {
			return err
		}
	}

	if cfg.ServesAPI() {
		srv := api.NewServer(api.Config{ListenAddress: cfg.APIListen}, pixels, metadata, logger)
		g.Go(supervise("api", func() error { return srv.Run(gctx) }))
	}

	if f != nil {
		m := metrics.NewFlusher(cfg.FlushTarget)
		g.Go(supervise("flusher", func() error {
			return flusher.Run(gctx, f, cfg.FlushMaxFailures, m, logger)
		}))
	}

	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Info("graffio stopped")
		return nil
	}
	logger.Error("graffio terminated", zap.Error(err))
	return err
}

// startProcessor resolves the starting version, opens the stream and runs the
// dispatcher on it. A clean end of stream is left to the dispatcher, which
// drains the queue before reporting indexer.ErrStreamClosed.
func startProcessor(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.Config,
	pixels storage.PixelStorage,
	metadata storage.MetadataStorage,
	logger *zap.Logger,
) error {
	proc, err := processor.NewCanvasProcessor(processor.Config{ContractAddress: cfg.ContractAddress}, logger)
	if err != nil {
		return err
	}

	client, err := stream.NewClient(stream.Config{
		Address:                 cfg.StreamAddress,
		AuthToken:               cfg.AuthToken,
		RequestName:             cfg.RequestName,
		PingInterval:            cfg.PingInterval,
		PingTimeout:             cfg.PingTimeout,
		BufferSize:              cfg.BufferSize,
		MaxResponseSize:         cfg.MaxResponseSize,
		InitialStartingVersion:  cfg.InitialStartingVersion,
		StartingVersionOverride: cfg.StartingVersionOverride,
		EndingVersion:           cfg.EndingVersion,
	}, logger, stream.WithMetrics(metrics.NewStream(cfg.RequestName)))
	if err != nil {
		return err
	}

	var fromDB *uint64
	version, ok, err := metadata.ReadLastProcessedVersion(ctx, proc.Name())
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		fromDB = &version
	}
	startingVersion, origin := client.ResolveStartingVersion(fromDB)

	handle, err := client.Start(ctx, startingVersion)
	if err != nil {
		return err
	}

	dispatcher, err := indexer.NewDispatcher(indexer.Config{
		StartingVersion:      startingVersion,
		Concurrency:          cfg.Concurrency,
		AttributionBatchSize: cfg.AttributionBatchSize,
	}, handle.Batches, proc, pixels, metadata, metrics.NewDispatcher(proc.Name()), logger)
	if err != nil {
		return err
	}

	logger.Info("processor start",
		zap.String("processor_name", proc.Name()),
		zap.String("contract_address", cfg.ContractAddress),
		zap.Uint64("starting_version", startingVersion),
		zap.String("starting_version_origin", string(origin)),
	)

	g.Go(func() error {
		if err := handle.Wait(); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		logger.Info("stream ended")
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	return nil
}

// supervise turns a task returning without error into a failure: the run
// command only stops on a signal.
func supervise(name string, task func() error) func() error {
	return func() error {
		if err := task(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s exited unexpectedly", name)
	}
}

func openPixels(cfg config.Config, logger *zap.Logger) (storage.PixelStorage, func(), error) {
	switch cfg.PixelStorage {
	case config.PixelStorageMemory:
		return raster.NewMemoryStorage(), func() {}, nil
	default:
		s, err := raster.NewMmapStorage(raster.MmapConfig{
			StorageDirectory: cfg.StorageDirectory,
			SyncWrites:       cfg.SyncWrites,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close pixel storage", zap.Error(err))
			}
		}, nil
	}
}

func openMetadata(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.MetadataStorage, func(), error) {
	switch cfg.MetadataStorage {
	case config.MetadataStorageMemory:
		logger.Warn("memory metadata storage loses checkpoints on restart")
		return memory.New(), func() {}, nil
	case config.MetadataStoragePebble:
		s, err := pebble.Open(cfg.PebbleDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close pebble", zap.Error(err))
			}
		}, nil
	default:
		s, err := postgres.NewStore(ctx, postgres.Config{
			DSN:            cfg.PGDSN,
			MaxConns:       cfg.PGMaxConns,
			ConnectRetries: cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBackoff,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newFlusher(cfg config.Config, pixels storage.PixelStorage, logger *zap.Logger) (flusher.Flusher, error) {
	if cfg.FlushTarget == config.FlushLocal {
		return flusher.NewLocalFlusher(pixels, cfg.FlushDir, cfg.FlushInterval, logger)
	}
	return flusher.NewHTTPFlusher(pixels, flusher.HTTPConfig{
		BaseURL:           cfg.FlushURL,
		AuthToken:         cfg.FlushAuthToken,
		Interval:          cfg.FlushInterval,
		Retries:           cfg.FlushRetries,
		RequestsPerSecond: cfg.FlushRPS,
	}, logger)
}
