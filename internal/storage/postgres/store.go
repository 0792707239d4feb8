package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"graffio/internal/model"
	"graffio/internal/storage"
)

var _ storage.MetadataStorage = (*Store)(nil)

// Config configures the Postgres metadata store.
type Config struct {
	DSN            string
	MaxConns       int32
	ConnectRetries int
	RetryBaseDelay time.Duration
	// SkipMigrations leaves the schema untouched on open.
	SkipMigrations bool
}

// Store provides Postgres persistence for checkpoints and pixel attribution.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects, waits for the server to answer and applies migrations.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	err = withRetry(ctx, cfg.ConnectRetries, cfg.RetryBaseDelay, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("postgres not ready", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if !cfg.SkipMigrations {
		if err := Migrate(pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for the migrate command.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) ReadChainID(ctx context.Context) (uint8, bool, error) {
	var id int16
	err := s.pool.QueryRow(ctx, `SELECT chain_id FROM chain_id WHERE id`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint8(id), true, nil
}

func (s *Store) WriteChainID(ctx context.Context, chainID uint8) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_id (id, chain_id, updated_at)
		VALUES (TRUE, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET chain_id = EXCLUDED.chain_id, updated_at = now()
	`, int16(chainID))
	return err
}

// ReadLastProcessedVersion returns the checkpoint for a processor name.
func (s *Store) ReadLastProcessedVersion(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("processor name required")
	}
	var version int64
	row := s.pool.QueryRow(ctx, `SELECT version FROM last_processed_version WHERE processor=$1`, name)
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(version), true, nil
}

// WriteLastProcessedVersion upserts the checkpoint. The WHERE clause keeps the
// stored value when the new one is lower; no affected row means regression.
func (s *Store) WriteLastProcessedVersion(ctx context.Context, name string, version uint64) error {
	if name == "" {
		return fmt.Errorf("processor name required")
	}
	if version > math.MaxInt64 {
		return fmt.Errorf("version %d exceeds bigint", version)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO last_processed_version (processor, version, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (processor) DO UPDATE
		SET version = EXCLUDED.version, updated_at = now()
		WHERE last_processed_version.version <= EXCLUDED.version
	`, name, int64(version))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s to %d", storage.ErrCheckpointRegression, name, version)
	}
	return nil
}

func (s *Store) UpdateAttribution(ctx context.Context, intent model.UpdateAttributionIntent) error {
	return s.UpdateAttributions(ctx, []model.UpdateAttributionIntent{intent})
}

// UpdateAttributions upserts attribution rows in one round trip.
func (s *Store) UpdateAttributions(ctx context.Context, intents []model.UpdateAttributionIntent) error {
	if len(intents) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, intent := range intents {
		batch.Queue(`
			INSERT INTO pixel_attribution (
				canvas_address, pixel_index, artist_address, drawn_at_secs, updated_at
			) VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (canvas_address, pixel_index)
			DO UPDATE SET
				artist_address = EXCLUDED.artist_address,
				drawn_at_secs = EXCLUDED.drawn_at_secs,
				updated_at = now()
		`,
			intent.CanvasAddress.String(),
			int64(intent.Index),
			intent.ArtistAddress.String(),
			int64(intent.DrawnAtSecs),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range intents {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Attribution(ctx context.Context, canvas model.Address, index uint64) (model.Attribution, bool, error) {
	var (
		artist  string
		drawnAt int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT artist_address, drawn_at_secs FROM pixel_attribution
		WHERE canvas_address=$1 AND pixel_index=$2
	`, canvas.String(), int64(index))
	if err := row.Scan(&artist, &drawnAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Attribution{}, false, nil
		}
		return model.Attribution{}, false, err
	}
	address, err := model.ParseAddress(artist)
	if err != nil {
		return model.Attribution{}, false, fmt.Errorf("stored artist address: %w", err)
	}
	return model.Attribution{ArtistAddress: address, DrawnAtSecs: uint64(drawnAt)}, true, nil
}
