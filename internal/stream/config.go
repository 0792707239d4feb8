package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPingInterval    = 30 * time.Second
	DefaultPingTimeout     = 10 * time.Second
	DefaultBufferSize      = 50
	DefaultMaxResponseSize = 20 * 1024 * 1024
)

var (
	ErrInvalidConfiguration = errors.New("invalid stream configuration")
	ErrFailedToConnect      = errors.New("failed to connect to stream")
)

// Config describes how to reach the transaction stream service.
type Config struct {
	Address         string
	AuthToken       string
	RequestName     string
	PingInterval    time.Duration
	PingTimeout     time.Duration
	BufferSize      int
	MaxResponseSize int

	InitialStartingVersion  *uint64
	StartingVersionOverride *uint64
	EndingVersion           *uint64
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = DefaultMaxResponseSize
	}
}

// Validate reports configuration errors. The ending version is checked
// against the starting version when the stream starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfiguration)
	}
	if _, _, err := target(c.Address); err != nil {
		return err
	}
	if c.RequestName == "" {
		return fmt.Errorf("%w: request name is required", ErrInvalidConfiguration)
	}
	return nil
}

// target splits an address into a dial target and whether TLS is wanted.
// Bare host:port and http:// are plaintext, https:// uses TLS. Any other
// scheme is a gRPC resolver target and is passed through as is.
func target(address string) (string, bool, error) {
	if !strings.Contains(address, "://") {
		return address, false, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", false, fmt.Errorf("%w: address %q is not a valid URI: %v", ErrInvalidConfiguration, address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return address, false, nil
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("%w: address %q has no host", ErrInvalidConfiguration, address)
	}
	if u.Scheme == "http" {
		return u.Host, false, nil
	}
	host := u.Host
	if u.Port() == "" {
		host += ":443"
	}
	return host, true, nil
}

// Origin names where a starting version came from.
type Origin string

const (
	OriginOverride Origin = "starting_version_override"
	OriginDB       Origin = "starting_version_from_db"
	OriginInitial  Origin = "initial_starting_version"
	OriginDefault  Origin = "default"
)

// ResolveStartingVersion picks the first available of override, the stored
// checkpoint and the initial version, falling back to 0.
func ResolveStartingVersion(override, fromDB, initial *uint64, logger *zap.Logger) (uint64, Origin) {
	if logger == nil {
		logger = zap.NewNop()
	}
	version, origin := uint64(0), OriginDefault
	switch {
	case override != nil:
		version, origin = *override, OriginOverride
	case fromDB != nil:
		version, origin = *fromDB, OriginDB
	case initial != nil:
		version, origin = *initial, OriginInitial
	}
	logger.Info("resolved starting version",
		zap.Uint64("starting_version", version),
		zap.String("starting_version_origin", string(origin)),
	)
	return version, origin
}

// TransactionCount converts an inclusive ending version into the number of
// transactions to request. A nil ending means unbounded.
func TransactionCount(starting uint64, ending *uint64) (*uint64, error) {
	if ending == nil {
		return nil, nil
	}
	if *ending < starting {
		return nil, fmt.Errorf("%w: ending version %d is below starting version %d", ErrInvalidConfiguration, *ending, starting)
	}
	count := *ending - starting + 1
	return &count, nil
}
