package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"graffio/internal/model"
)

const envPrefix = "GRAFFIO"

// Run modes.
const (
	ModeAllInOne        = "all-in-one"
	ModeProcessorOnly   = "processor-only"
	ModeMetadataAPIOnly = "metadata-api-only"
)

// Storage and flush backends.
const (
	PixelStorageMmap   = "mmap"
	PixelStorageMemory = "memory"

	MetadataStoragePostgres = "postgres"
	MetadataStoragePebble   = "pebble"
	MetadataStorageMemory   = "memory"

	FlushNone  = "none"
	FlushLocal = "local"
	FlushHTTP  = "http"
)

// Config holds configuration for the run command.
type Config struct {
	Mode     string
	LogLevel string

	StreamAddress           string
	AuthToken               string
	RequestName             string
	PingInterval            time.Duration
	PingTimeout             time.Duration
	BufferSize              int
	MaxResponseSize         int
	InitialStartingVersion  *uint64
	StartingVersionOverride *uint64
	EndingVersion           *uint64

	ContractAddress      string
	Concurrency          int
	AttributionBatchSize int

	PixelStorage     string
	StorageDirectory string
	SyncWrites       bool

	MetadataStorage string
	PGDSN           string
	PGMaxConns      int32
	PebbleDir       string
	MaxRetries      int
	RetryBackoff    time.Duration

	APIListen string

	FlushTarget      string
	FlushDir         string
	FlushURL         string
	FlushAuthToken   string
	FlushInterval    time.Duration
	FlushRPS         int
	FlushRetries     int
	FlushMaxFailures int
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"mode":                   ModeAllInOne,
		"log-level":              "info",
		"request-name":           "CanvasProcessor",
		"ping-interval":          30 * time.Second,
		"ping-timeout":           10 * time.Second,
		"buffer-size":            50,
		"max-response-size":      20 * 1024 * 1024,
		"concurrency":            1,
		"attribution-batch-size": 1000,
		"pixel-storage":          PixelStorageMmap,
		"storage-dir":            "./data/canvases",
		"sync-writes":            false,
		"metadata-storage":       MetadataStoragePostgres,
		"pebble-dir":             "./data/metadata",
		"max-retries":            5,
		"retry-backoff":          500 * time.Millisecond,
		"api-listen":             "0.0.0.0:7645",
		"flush-target":           FlushNone,
		"flush-dir":              "./data",
		"flush-interval":         30 * time.Second,
		"flush-retries":          2,
		"flush-max-failures":     5,
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:     v.GetString("mode"),
		LogLevel: v.GetString("log-level"),

		StreamAddress:           v.GetString("stream-address"),
		AuthToken:               v.GetString("auth-token"),
		RequestName:             v.GetString("request-name"),
		PingInterval:            v.GetDuration("ping-interval"),
		PingTimeout:             v.GetDuration("ping-timeout"),
		BufferSize:              v.GetInt("buffer-size"),
		MaxResponseSize:         v.GetInt("max-response-size"),
		InitialStartingVersion:  getOptionalUint64(v, "initial-starting-version"),
		StartingVersionOverride: getOptionalUint64(v, "starting-version-override"),
		EndingVersion:           getOptionalUint64(v, "ending-version"),

		ContractAddress:      v.GetString("contract-address"),
		Concurrency:          v.GetInt("concurrency"),
		AttributionBatchSize: v.GetInt("attribution-batch-size"),

		PixelStorage:     v.GetString("pixel-storage"),
		StorageDirectory: v.GetString("storage-dir"),
		SyncWrites:       v.GetBool("sync-writes"),

		MetadataStorage: v.GetString("metadata-storage"),
		PGDSN:           v.GetString("pg-dsn"),
		PGMaxConns:      v.GetInt32("pg-max-conns"),
		PebbleDir:       v.GetString("pebble-dir"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),

		APIListen: v.GetString("api-listen"),

		FlushTarget:      v.GetString("flush-target"),
		FlushDir:         v.GetString("flush-dir"),
		FlushURL:         v.GetString("flush-url"),
		FlushAuthToken:   v.GetString("flush-auth-token"),
		FlushInterval:    v.GetDuration("flush-interval"),
		FlushRPS:         v.GetInt("flush-rps"),
		FlushRetries:     v.GetInt("flush-retries"),
		FlushMaxFailures: v.GetInt("flush-max-failures"),
	}

	return cfg, nil
}

// Validate checks the settings the selected mode depends on.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAllInOne, ModeProcessorOnly, ModeMetadataAPIOnly:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if c.RunsProcessor() {
		if c.StreamAddress == "" {
			return fmt.Errorf("stream-address is required in %s mode", c.Mode)
		}
		if c.ContractAddress == "" {
			return fmt.Errorf("contract-address is required in %s mode", c.Mode)
		}
		if _, err := model.ParseAddress(c.ContractAddress); err != nil {
			return fmt.Errorf("contract-address: %w", err)
		}
		if c.InitialStartingVersion != nil && c.EndingVersion != nil && *c.EndingVersion < *c.InitialStartingVersion {
			return fmt.Errorf("ending-version %d is below initial-starting-version %d", *c.EndingVersion, *c.InitialStartingVersion)
		}
	}

	if c.UsesPixelStorage() {
		switch c.PixelStorage {
		case PixelStorageMmap:
			if c.StorageDirectory == "" {
				return fmt.Errorf("storage-dir is required for mmap pixel storage")
			}
		case PixelStorageMemory:
		default:
			return fmt.Errorf("unknown pixel-storage %q", c.PixelStorage)
		}
	}

	switch c.MetadataStorage {
	case MetadataStoragePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for postgres metadata storage")
		}
	case MetadataStoragePebble:
		if c.PebbleDir == "" {
			return fmt.Errorf("pebble-dir is required for pebble metadata storage")
		}
	case MetadataStorageMemory:
	default:
		return fmt.Errorf("unknown metadata-storage %q", c.MetadataStorage)
	}

	switch c.FlushTarget {
	case FlushNone:
	case FlushLocal, FlushHTTP:
		if !c.UsesPixelStorage() {
			return fmt.Errorf("flush-target %s needs pixel storage, not available in %s mode", c.FlushTarget, c.Mode)
		}
		if c.FlushInterval <= 0 {
			return fmt.Errorf("flush-interval must be greater than zero")
		}
		if c.FlushTarget == FlushLocal && c.FlushDir == "" {
			return fmt.Errorf("flush-dir is required for local flush")
		}
		if c.FlushTarget == FlushHTTP && c.FlushURL == "" {
			return fmt.Errorf("flush-url is required for http flush")
		}
	default:
		return fmt.Errorf("unknown flush-target %q", c.FlushTarget)
	}
	return nil
}

// RunsProcessor reports whether the stream and dispatcher run.
func (c Config) RunsProcessor() bool {
	return c.Mode == ModeAllInOne || c.Mode == ModeProcessorOnly
}

// ServesAPI reports whether the HTTP API runs.
func (c Config) ServesAPI() bool {
	return c.Mode == ModeAllInOne || c.Mode == ModeMetadataAPIOnly
}

// UsesPixelStorage reports whether pixel storage is opened. The metadata
// API mode serves attribution only.
func (c Config) UsesPixelStorage() bool {
	return c.RunsProcessor()
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// getOptionalUint64 returns nil unless key was set by a flag, env or file.
func getOptionalUint64(v *viper.Viper, key string) *uint64 {
	if !v.IsSet(key) {
		return nil
	}
	val := v.GetUint64(key)
	return &val
}
