// Package indexer applies transformed batches to storage in stream order and
// advances the checkpoint only after a batch is fully applied.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"graffio/internal/model"
	"graffio/internal/storage"
)

const defaultAttributionBatchSize = 1000

var (
	ErrChainIDMismatch = errors.New("chain id mismatch")
	ErrOutOfOrderBatch = errors.New("out of order batch")
	ErrStreamClosed    = errors.New("transaction stream closed")
)

// Transformer turns a batch of transactions into storage intents.
type Transformer interface {
	Name() string
	Process(txns []model.Transaction, startVersion, endVersion uint64) (model.Intents, error)
}

// Metrics receives dispatcher observations.
type Metrics interface {
	ObserveBatch(err error, started time.Time)
	ObserveIntents(creates, writes, attributions int)
	SetLastProcessedVersion(version uint64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBatch(error, time.Time) {}
func (nopMetrics) ObserveIntents(int, int, int) {}
func (nopMetrics) SetLastProcessedVersion(uint64) {}

// Config holds dispatcher settings.
type Config struct {
	// StartingVersion is the version the stream was opened at. The first batch
	// must start exactly here.
	StartingVersion uint64
	// Concurrency is accepted for compatibility and always runs as 1.
	Concurrency int
	// AttributionBatchSize caps attribution intents per storage call.
	AttributionBatchSize int
}

// Dispatcher consumes batches one at a time.
type Dispatcher struct {
	cfg         Config
	batches     <-chan model.Batch
	transformer Transformer
	pixels      storage.PixelStorage
	metadata    storage.MetadataStorage
	logger      *zap.Logger
	metrics     Metrics

	chainID     *uint8
	nextVersion uint64
	// checkpoint is the highest stored version, nil before the first write.
	checkpoint *uint64
}

// NewDispatcher wires a dispatcher. metrics may be nil.
func NewDispatcher(
	cfg Config,
	batches <-chan model.Batch,
	transformer Transformer,
	pixels storage.PixelStorage,
	metadata storage.MetadataStorage,
	metrics Metrics,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch queue is nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer is nil")
	}
	if pixels == nil {
		return nil, fmt.Errorf("pixel storage is nil")
	}
	if metadata == nil {
		return nil, fmt.Errorf("metadata storage is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.AttributionBatchSize <= 0 {
		cfg.AttributionBatchSize = defaultAttributionBatchSize
	}
	logger = logger.Named("dispatcher").With(zap.String("processor_name", transformer.Name()))
	if cfg.Concurrency > 1 {
		logger.Warn("concurrent batch processing is not supported, using 1", zap.Int("requested", cfg.Concurrency))
	}
	cfg.Concurrency = 1

	return &Dispatcher{
		cfg:         cfg,
		batches:     batches,
		transformer: transformer,
		pixels:      pixels,
		metadata:    metadata,
		logger:      logger,
		metrics:     metrics,
		nextVersion: cfg.StartingVersion,
	}, nil
}

// Run blocks until ctx ends, the queue closes or a batch fails. It never
// returns nil: a closed queue yields ErrStreamClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	stored, ok, err := d.metadata.ReadChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if ok {
		d.chainID = &stored
		d.logger.Info("loaded chain id", zap.Uint8("chain_id", stored))
	}
	version, ok, err := d.metadata.ReadLastProcessedVersion(ctx, d.transformer.Name())
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		d.checkpoint = &version
	}

	d.logger.Info("dispatcher started", zap.Uint64("starting_version", d.cfg.StartingVersion))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-d.batches:
			if !ok {
				d.logger.Warn("stream queue closed")
				return ErrStreamClosed
			}
			if err := d.handle(ctx, batch); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, batch model.Batch) (err error) {
	if len(batch.Transactions) == 0 {
		d.logger.Debug("skipping empty batch")
		return nil
	}
	start, end := batch.StartVersion(), batch.EndVersion()
	started := time.Now()
	defer func() { d.metrics.ObserveBatch(err, started) }()

	if start != d.nextVersion || end < start {
		return fmt.Errorf("%w: expected start %d, got [%d, %d]", ErrOutOfOrderBatch, d.nextVersion, start, end)
	}
	if err := d.checkChainID(ctx, batch.ChainID); err != nil {
		return err
	}

	intents, err := d.transformer.Process(batch.Transactions, start, end)
	if err != nil {
		return fmt.Errorf("process [%d, %d]: %w", start, end, err)
	}
	if err := d.apply(ctx, intents); err != nil {
		return fmt.Errorf("apply [%d, %d]: %w", start, end, err)
	}
	if err := d.advanceCheckpoint(ctx, start, end); err != nil {
		return err
	}

	d.nextVersion = end + 1
	d.metrics.ObserveIntents(len(intents.Creates), len(intents.Writes), len(intents.Attributions))
	d.logger.Info("batch applied",
		zap.Uint64("start_version", start),
		zap.Uint64("end_version", end),
		zap.Int("transactions", len(batch.Transactions)),
		zap.Int("intents", intents.Len()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// advanceCheckpoint stores end unless a higher checkpoint already exists, as
// happens when a starting version override replays older versions.
func (d *Dispatcher) advanceCheckpoint(ctx context.Context, start, end uint64) error {
	if d.checkpoint != nil && end < *d.checkpoint {
		if start == d.cfg.StartingVersion {
			d.logger.Warn("replaying below stored checkpoint, keeping it",
				zap.Uint64("checkpoint", *d.checkpoint),
				zap.Uint64("starting_version", d.cfg.StartingVersion),
			)
		}
		return nil
	}
	if err := d.metadata.WriteLastProcessedVersion(ctx, d.transformer.Name(), end); err != nil {
		return fmt.Errorf("write checkpoint %d: %w", end, err)
	}
	d.checkpoint = &end
	d.metrics.SetLastProcessedVersion(end)
	return nil
}

// checkChainID persists the first chain id seen and rejects any other.
func (d *Dispatcher) checkChainID(ctx context.Context, chainID uint8) error {
	if d.chainID != nil {
		if *d.chainID != chainID {
			return fmt.Errorf("%w: stored %d, stream sent %d", ErrChainIDMismatch, *d.chainID, chainID)
		}
		return nil
	}
	if err := d.metadata.WriteChainID(ctx, chainID); err != nil {
		return fmt.Errorf("write chain id: %w", err)
	}
	d.chainID = &chainID
	d.logger.Info("recorded chain id", zap.Uint8("chain_id", chainID))
	return nil
}

// apply writes creates, then pixels, then attributions.
func (d *Dispatcher) apply(ctx context.Context, intents model.Intents) error {
	for _, create := range intents.Creates {
		if err := d.pixels.CreateCanvas(ctx, create); err != nil {
			return fmt.Errorf("create canvas %s: %w", create.CanvasAddress, err)
		}
	}
	if len(intents.Writes) > 0 {
		if err := d.pixels.WritePixels(ctx, intents.Writes); err != nil {
			return fmt.Errorf("write pixels: %w", err)
		}
	}
	if len(intents.Attributions) == 0 {
		return nil
	}
	chunks, err := SplitRange(0, len(intents.Attributions)-1, d.cfg.AttributionBatchSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := d.metadata.UpdateAttributions(ctx, intents.Attributions[chunk.From:chunk.To+1]); err != nil {
			return fmt.Errorf("update attributions: %w", err)
		}
	}
	return nil
}
