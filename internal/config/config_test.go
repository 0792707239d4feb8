package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func runFlags(args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("mode", ModeAllInOne, "")
	flags.String("stream-address", "", "")
	flags.String("contract-address", "", "")
	flags.Uint64("initial-starting-version", 0, "")
	flags.Uint64("starting-version-override", 0, "")
	flags.Uint64("ending-version", 0, "")
	flags.String("metadata-storage", MetadataStoragePostgres, "")
	flags.Duration("flush-interval", 30*time.Second, "")
	_ = flags.Parse(args)
	return flags
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("", runFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeAllInOne {
		t.Fatalf("expected default mode, got %q", cfg.Mode)
	}
	if cfg.BufferSize != 50 || cfg.PingInterval != 30*time.Second || cfg.PingTimeout != 10*time.Second {
		t.Fatalf("unexpected stream defaults: %+v", cfg)
	}
	if cfg.MaxResponseSize != 20*1024*1024 {
		t.Fatalf("expected 20MiB max response, got %d", cfg.MaxResponseSize)
	}
	if cfg.InitialStartingVersion != nil || cfg.StartingVersionOverride != nil || cfg.EndingVersion != nil {
		t.Fatalf("expected unset optional versions")
	}
	if cfg.RequestName != "CanvasProcessor" {
		t.Fatalf("unexpected request name %q", cfg.RequestName)
	}
}

func TestLoadOptionalVersionsFromFlags(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("", runFlags("--starting-version-override=0", "--ending-version=500"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StartingVersionOverride == nil || *cfg.StartingVersionOverride != 0 {
		t.Fatalf("expected explicit zero override, got %v", cfg.StartingVersionOverride)
	}
	if cfg.EndingVersion == nil || *cfg.EndingVersion != 500 {
		t.Fatalf("expected ending version 500, got %v", cfg.EndingVersion)
	}
	if cfg.InitialStartingVersion != nil {
		t.Fatalf("expected unset initial version")
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GRAFFIO_METADATA_STORAGE", "pebble")
	t.Setenv("GRAFFIO_INITIAL_STARTING_VERSION", "42")
	t.Setenv("GRAFFIO_FLUSH_TARGET", "local")

	cfg, err := Load("", runFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MetadataStorage != MetadataStoragePebble {
		t.Fatalf("expected pebble, got %q", cfg.MetadataStorage)
	}
	if cfg.InitialStartingVersion == nil || *cfg.InitialStartingVersion != 42 {
		t.Fatalf("expected initial version 42, got %v", cfg.InitialStartingVersion)
	}
	if cfg.FlushTarget != FlushLocal {
		t.Fatalf("expected local flush, got %q", cfg.FlushTarget)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "graffio.yaml")
	body := "mode: processor-only\nstream-address: localhost:50051\ncontract-address: \"0xaa\"\nsync-writes: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProcessorOnly || cfg.StreamAddress != "localhost:50051" || !cfg.SyncWrites {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func validConfig() Config {
	return Config{
		Mode:             ModeAllInOne,
		StreamAddress:    "localhost:50051",
		ContractAddress:  "0xaa",
		PixelStorage:     PixelStorageMmap,
		StorageDirectory: "./data",
		MetadataStorage:  MetadataStorageMemory,
		FlushTarget:      FlushNone,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	v := func(x uint64) *uint64 { return &x }
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "replay" }},
		{"missing stream", func(c *Config) { c.StreamAddress = "" }},
		{"bad contract", func(c *Config) { c.ContractAddress = "0xzz" }},
		{"ending before initial", func(c *Config) { c.InitialStartingVersion, c.EndingVersion = v(10), v(9) }},
		{"unknown pixel storage", func(c *Config) { c.PixelStorage = "s3" }},
		{"postgres without dsn", func(c *Config) { c.MetadataStorage = MetadataStoragePostgres }},
		{"http flush without url", func(c *Config) { c.FlushTarget, c.FlushInterval = FlushHTTP, time.Second }},
		{"flush without interval", func(c *Config) { c.FlushTarget, c.FlushDir = FlushLocal, "./out" }},
		{"flush in api mode", func(c *Config) {
			c.Mode, c.FlushTarget, c.FlushDir, c.FlushInterval = ModeMetadataAPIOnly, FlushLocal, "./out", time.Second
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMetadataAPIModeNeedsNoStream(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = ModeMetadataAPIOnly
	cfg.StreamAddress = ""
	cfg.ContractAddress = ""
	cfg.PixelStorage = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid api-only config, got %v", err)
	}
	if cfg.RunsProcessor() || !cfg.ServesAPI() || cfg.UsesPixelStorage() {
		t.Fatalf("unexpected mode predicates for %s", cfg.Mode)
	}
}

func TestLoadDecodeAndMigrate(t *testing.T) {
	chdirTemp(t)
	flags := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flags.String("in", "", "")
	flags.String("contract-address", "", "")
	_ = flags.Parse([]string{"--in=txns.jsonl", "--contract-address=0xaa"})

	dcfg, err := LoadDecode("", flags)
	if err != nil {
		t.Fatalf("load decode: %v", err)
	}
	if dcfg.In != "txns.jsonl" || dcfg.ContractAddress != "0xaa" || dcfg.Out != "./data/intents.jsonl" {
		t.Fatalf("unexpected decode config: %+v", dcfg)
	}

	t.Setenv("GRAFFIO_PG_DSN", "postgres://localhost/graffio")
	mcfg, err := LoadMigrate("", nil)
	if err != nil {
		t.Fatalf("load migrate: %v", err)
	}
	if mcfg.PGDSN != "postgres://localhost/graffio" || mcfg.MaxRetries != 5 {
		t.Fatalf("unexpected migrate config: %+v", mcfg)
	}
}
