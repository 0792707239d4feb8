// Package pebble keeps checkpoints and pixel attribution in an embedded
// key-value store, for deployments that run without Postgres.
package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"graffio/internal/model"
	"graffio/internal/storage"
)

var _ storage.MetadataStorage = (*Store)(nil)

var (
	chainIDKey          = []byte("chain_id")
	checkpointPrefix    = []byte("last_processed_version/")
	attributionPrefix   = []byte("pixel_attribution/")
	attributionKeyBytes = len(attributionPrefix) + len(model.Address{}) + 8
)

// Store implements storage.MetadataStorage on a pebble database. Writes are
// synced before they return.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the database under dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("pebble directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{Logger: logger.Named("pebble").Sugar()})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func checkpointKey(indexerName string) []byte {
	key := make([]byte, 0, len(checkpointPrefix)+len(indexerName))
	key = append(key, checkpointPrefix...)
	return append(key, indexerName...)
}

// attributionKey orders entries by canvas, then by pixel index.
func attributionKey(canvas model.Address, index uint64) []byte {
	key := make([]byte, 0, attributionKeyBytes)
	key = append(key, attributionPrefix...)
	key = append(key, canvas[:]...)
	return binary.BigEndian.AppendUint64(key, index)
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *Store) ReadChainID(context.Context) (uint8, bool, error) {
	val, ok, err := s.get(chainIDKey)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(val) != 1 {
		return 0, false, fmt.Errorf("chain id: unexpected value length %d", len(val))
	}
	return val[0], true, nil
}

func (s *Store) WriteChainID(_ context.Context, chainID uint8) error {
	return s.db.Set(chainIDKey, []byte{chainID}, pebble.Sync)
}

func (s *Store) ReadLastProcessedVersion(_ context.Context, indexerName string) (uint64, bool, error) {
	val, ok, err := s.get(checkpointKey(indexerName))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("checkpoint %s: unexpected value length %d", indexerName, len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func (s *Store) WriteLastProcessedVersion(ctx context.Context, indexerName string, version uint64) error {
	current, ok, err := s.ReadLastProcessedVersion(ctx, indexerName)
	if err != nil {
		return err
	}
	if ok && version < current {
		return fmt.Errorf("%w: %s at %d, got %d", storage.ErrCheckpointRegression, indexerName, current, version)
	}
	return s.db.Set(checkpointKey(indexerName), binary.BigEndian.AppendUint64(nil, version), pebble.Sync)
}

func (s *Store) UpdateAttribution(ctx context.Context, intent model.UpdateAttributionIntent) error {
	return s.UpdateAttributions(ctx, []model.UpdateAttributionIntent{intent})
}

// UpdateAttributions commits all intents in one synced batch. Later intents
// for the same pixel overwrite earlier ones.
func (s *Store) UpdateAttributions(_ context.Context, intents []model.UpdateAttributionIntent) error {
	if len(intents) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, intent := range intents {
		val := encodeAttribution(intent.ArtistAddress, intent.DrawnAtSecs)
		if err := b.Set(attributionKey(intent.CanvasAddress, intent.Index), val, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) Attribution(_ context.Context, canvas model.Address, index uint64) (model.Attribution, bool, error) {
	val, ok, err := s.get(attributionKey(canvas, index))
	if err != nil || !ok {
		return model.Attribution{}, false, err
	}
	a, err := decodeAttribution(val)
	if err != nil {
		return model.Attribution{}, false, err
	}
	return a, true, nil
}

// Attribution values are drawn_at_secs (be64) followed by the artist address.
func encodeAttribution(artist model.Address, drawnAtSecs uint64) []byte {
	val := make([]byte, 0, 8+len(artist))
	val = binary.BigEndian.AppendUint64(val, drawnAtSecs)
	return append(val, artist[:]...)
}

func decodeAttribution(val []byte) (model.Attribution, error) {
	var a model.Attribution
	if len(val) != 8+len(a.ArtistAddress) {
		return a, fmt.Errorf("attribution: unexpected value length %d", len(val))
	}
	a.DrawnAtSecs = binary.BigEndian.Uint64(val[:8])
	copy(a.ArtistAddress[:], val[8:])
	return a, nil
}
