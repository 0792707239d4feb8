package pebble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graffio/internal/model"
	"graffio/internal/storage"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestCheckpointPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openStore(t, dir)
	_, ok, err := s.ReadLastProcessedVersion(ctx, "CanvasProcessor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteChainID(ctx, 1))
	require.NoError(t, s.WriteLastProcessedVersion(ctx, "CanvasProcessor", 101))
	require.ErrorIs(t, s.WriteLastProcessedVersion(ctx, "CanvasProcessor", 100), storage.ErrCheckpointRegression)
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()
	v, ok, err := s.ReadLastProcessedVersion(ctx, "CanvasProcessor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(101), v)

	id, ok, err := s.ReadChainID(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), id)
}

func TestAttributions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	canvas := model.MustParseAddress("0xc")
	artist := model.MustParseAddress("0xbb")
	intents := []model.UpdateAttributionIntent{
		{CanvasAddress: canvas, ArtistAddress: model.MustParseAddress("0xaa"), Index: 1, DrawnAtSecs: 900},
		{CanvasAddress: canvas, ArtistAddress: artist, Index: 1, DrawnAtSecs: 1000},
		{CanvasAddress: canvas, ArtistAddress: artist, Index: 0, DrawnAtSecs: 1000},
	}
	require.NoError(t, s.UpdateAttributions(ctx, intents))
	require.NoError(t, s.UpdateAttributions(ctx, intents))

	got, ok, err := s.Attribution(ctx, canvas, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Attribution{ArtistAddress: artist, DrawnAtSecs: 1000}, got)

	_, ok, err = s.Attribution(ctx, canvas, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttributionKeyOrdering(t *testing.T) {
	canvas := model.MustParseAddress("0xc")
	a := attributionKey(canvas, 1)
	b := attributionKey(canvas, 256)
	assert.Len(t, a, attributionKeyBytes)
	assert.Less(t, string(a), string(b))
}
