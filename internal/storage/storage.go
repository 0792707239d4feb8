package storage

import (
	"context"

	"graffio/internal/model"
)

// PixelStorage creates, updates and renders canvases.
type PixelStorage interface {
	CreateCanvas(ctx context.Context, intent model.CreateCanvasIntent) error
	WritePixel(ctx context.Context, intent model.WritePixelIntent) error
	WritePixels(ctx context.Context, intents []model.WritePixelIntent) error
	CanvasPNG(ctx context.Context, canvas model.Address) ([]byte, error)
	// CanvasPNGs renders every canvas touched since the storage was opened.
	CanvasPNGs(ctx context.Context) (map[model.Address][]byte, error)
}

// CheckpointStorage tracks where an indexer is and which chain it follows.
type CheckpointStorage interface {
	ReadChainID(ctx context.Context) (uint8, bool, error)
	WriteChainID(ctx context.Context, chainID uint8) error
	ReadLastProcessedVersion(ctx context.Context, indexerName string) (uint64, bool, error)
	// WriteLastProcessedVersion upserts the checkpoint. A version lower than the
	// stored one is rejected with ErrCheckpointRegression.
	WriteLastProcessedVersion(ctx context.Context, indexerName string, version uint64) error
}

// MetadataStorage is the relational projection: checkpoints plus attribution.
type MetadataStorage interface {
	CheckpointStorage
	UpdateAttribution(ctx context.Context, intent model.UpdateAttributionIntent) error
	UpdateAttributions(ctx context.Context, intents []model.UpdateAttributionIntent) error
	Attribution(ctx context.Context, canvas model.Address, index uint64) (model.Attribution, bool, error)
}
