package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"graffio/internal/model"
	"graffio/internal/storage"
)

// Runs against a live database when GRAFFIO_TEST_PG_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("GRAFFIO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GRAFFIO_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, Config{DSN: dsn, ConnectRetries: 3}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if _, err := s.Pool().Exec(ctx, `TRUNCATE chain_id, last_processed_version, pixel_attribution`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if err := s.WriteChainID(ctx, 4); err != nil {
		t.Fatalf("write chain id: %v", err)
	}
	id, ok, err := s.ReadChainID(ctx)
	if err != nil || !ok || id != 4 {
		t.Fatalf("expected chain id 4, got %d ok=%v err=%v", id, ok, err)
	}

	if err := s.WriteLastProcessedVersion(ctx, "CanvasProcessor", 101); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	if err := s.WriteLastProcessedVersion(ctx, "CanvasProcessor", 101); err != nil {
		t.Fatalf("rewrite checkpoint: %v", err)
	}
	err = s.WriteLastProcessedVersion(ctx, "CanvasProcessor", 50)
	if !errors.Is(err, storage.ErrCheckpointRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	v, ok, err := s.ReadLastProcessedVersion(ctx, "CanvasProcessor")
	if err != nil || !ok || v != 101 {
		t.Fatalf("expected checkpoint 101, got %d ok=%v err=%v", v, ok, err)
	}

	canvas := model.MustParseAddress("0xc")
	artist := model.MustParseAddress("0xbb")
	intent := model.UpdateAttributionIntent{CanvasAddress: canvas, ArtistAddress: artist, Index: 1, DrawnAtSecs: 1000}
	if err := s.UpdateAttributions(ctx, []model.UpdateAttributionIntent{intent, intent}); err != nil {
		t.Fatalf("update attributions: %v", err)
	}
	got, ok, err := s.Attribution(ctx, canvas, 1)
	if err != nil || !ok {
		t.Fatalf("expected attribution, ok=%v err=%v", ok, err)
	}
	if got.ArtistAddress != artist || got.DrawnAtSecs != 1000 {
		t.Fatalf("unexpected attribution %+v", got)
	}
}
