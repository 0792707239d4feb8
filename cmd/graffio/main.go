package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graffio/internal/api"
	"graffio/internal/config"
	"graffio/internal/flusher"
	"graffio/internal/processor"
	"graffio/internal/stream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "graffio",
		Short:        "Canvas contract indexer and pixel server",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream transactions, maintain canvases and serve them",
		RunE:  runGraffio,
	}

	f := runCmd.Flags()
	f.String("mode", config.ModeAllInOne, "run mode (all-in-one, processor-only, metadata-api-only)")
	f.String("stream-address", "", "transaction stream gRPC address")
	f.String("auth-token", "", "transaction stream auth token")
	f.String("request-name", processor.Name, "request name sent to the stream service")
	f.Duration("ping-interval", stream.DefaultPingInterval, "gRPC keepalive ping interval")
	f.Duration("ping-timeout", stream.DefaultPingTimeout, "gRPC keepalive ping timeout")
	f.Int("buffer-size", stream.DefaultBufferSize, "batches buffered between stream and dispatcher")
	f.Int("max-response-size", stream.DefaultMaxResponseSize, "maximum gRPC message size in bytes")
	f.Uint64("initial-starting-version", 0, "version to start from when no checkpoint exists")
	f.Uint64("starting-version-override", 0, "version to start from regardless of checkpoint")
	f.Uint64("ending-version", 0, "last version to process (inclusive)")
	f.String("contract-address", "", "canvas contract address")
	f.Int("concurrency", 1, "batch processing concurrency (only 1 is supported)")
	f.Int("attribution-batch-size", 1000, "attribution rows per storage call")
	f.String("pixel-storage", config.PixelStorageMmap, "pixel storage backend (mmap, memory)")
	f.String("storage-dir", "./data/canvases", "canvas file directory")
	f.Bool("sync-writes", false, "msync canvas files after every batch")
	f.String("metadata-storage", config.MetadataStoragePostgres, "metadata storage backend (postgres, pebble, memory)")
	f.String("pg-dsn", "", "Postgres DSN")
	f.Int32("pg-max-conns", 0, "Postgres pool size, 0 uses the driver default")
	f.String("pebble-dir", "./data/metadata", "pebble metadata directory")
	f.Int("max-retries", 5, "maximum connect retry attempts")
	f.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	f.String("api-listen", api.DefaultListenAddress, "HTTP API listen address")
	f.String("flush-target", config.FlushNone, "canvas image flush target (none, local, http)")
	f.String("flush-dir", "./data", "local flush directory, images go under <dir>/images")
	f.String("flush-url", "", "base URL for http flush")
	f.String("flush-auth-token", "", "bearer token for http flush")
	f.Duration("flush-interval", 30*time.Second, "flush interval")
	f.Int("flush-rps", 0, "http flush uploads per second, 0 means unlimited")
	f.Int("flush-retries", 2, "http flush retries per upload")
	f.Int("flush-max-failures", flusher.DefaultMaxConsecutiveFailures, "consecutive flush failures before giving up")
	f.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a transactions JSONL file into intents offline",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input transactions JSONL")
	decodeCmd.Flags().String("out", "./data/intents.jsonl", "output intents JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("contract-address", "", "canvas contract address")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().Int("max-retries", 5, "maximum connect retry attempts")
	migrateCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
