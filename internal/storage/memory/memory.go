// Package memory is an in-process MetadataStorage for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"graffio/internal/model"
	"graffio/internal/storage"
)

var _ storage.MetadataStorage = (*Store)(nil)

type pixelKey struct {
	canvas model.Address
	index  uint64
}

// Store keeps checkpoints, the chain id and attributions in maps guarded by a
// single RWMutex. Nothing survives a restart.
type Store struct {
	mu           sync.RWMutex
	chainID      *uint8
	checkpoints  map[string]uint64
	attributions map[pixelKey]model.Attribution
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		checkpoints:  make(map[string]uint64),
		attributions: make(map[pixelKey]model.Attribution),
	}
}

func (s *Store) ReadChainID(context.Context) (uint8, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chainID == nil {
		return 0, false, nil
	}
	return *s.chainID, true, nil
}

func (s *Store) WriteChainID(_ context.Context, chainID uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = &chainID
	return nil
}

func (s *Store) ReadLastProcessedVersion(_ context.Context, indexerName string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.checkpoints[indexerName]
	return v, ok, nil
}

func (s *Store) WriteLastProcessedVersion(_ context.Context, indexerName string, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.checkpoints[indexerName]; ok && version < current {
		return fmt.Errorf("%w: %s at %d, got %d", storage.ErrCheckpointRegression, indexerName, current, version)
	}
	s.checkpoints[indexerName] = version
	return nil
}

func (s *Store) UpdateAttribution(ctx context.Context, intent model.UpdateAttributionIntent) error {
	return s.UpdateAttributions(ctx, []model.UpdateAttributionIntent{intent})
}

func (s *Store) UpdateAttributions(_ context.Context, intents []model.UpdateAttributionIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, intent := range intents {
		s.attributions[pixelKey{canvas: intent.CanvasAddress, index: intent.Index}] = model.Attribution{
			ArtistAddress: intent.ArtistAddress,
			DrawnAtSecs:   intent.DrawnAtSecs,
		}
	}
	return nil
}

func (s *Store) Attribution(_ context.Context, canvas model.Address, index uint64) (model.Attribution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attributions[pixelKey{canvas: canvas, index: index}]
	return a, ok, nil
}

// Len returns the number of stored attributions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attributions)
}
