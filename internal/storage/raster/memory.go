package raster

import (
	"context"
	"fmt"
	"sync"

	"graffio/internal/model"
	"graffio/internal/storage"
)

var _ storage.PixelStorage = (*MemoryStorage)(nil)

// MemoryStorage holds canvases in process memory using the same byte layout
// as the file store. Used by tests and the dry-run mode.
type MemoryStorage struct {
	mu       sync.Mutex
	canvases map[model.Address]*canvas
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{canvases: make(map[model.Address]*canvas)}
}

func (s *MemoryStorage) CreateCanvas(_ context.Context, intent model.CreateCanvasIntent) error {
	size, err := FileSize(intent.Width, intent.Height)
	if err != nil {
		return err
	}
	data := make([]byte, size)
	row := fillRow(intent.DefaultColor, int(intent.Width))
	for off := 0; off < len(data)-TrailerSize; off += len(row) {
		copy(data[off:], row)
	}
	PutTrailer(data, intent.Width, intent.Height)

	c, err := newCanvas(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.canvases[intent.CanvasAddress] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) lookup(address model.Address) (*canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.canvases[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, address)
	}
	return c, nil
}

func (s *MemoryStorage) WritePixel(ctx context.Context, intent model.WritePixelIntent) error {
	return s.WritePixels(ctx, []model.WritePixelIntent{intent})
}

func (s *MemoryStorage) WritePixels(_ context.Context, intents []model.WritePixelIntent) error {
	order, groups := groupByCanvas(intents)
	targets := make([]*canvas, len(order))
	for i, address := range order {
		c, err := s.lookup(address)
		if err != nil {
			return err
		}
		if err := c.check(groups[address]); err != nil {
			return err
		}
		targets[i] = c
	}
	for i, address := range order {
		targets[i].set(groups[address])
	}
	return nil
}

func (s *MemoryStorage) CanvasPNG(_ context.Context, address model.Address) ([]byte, error) {
	c, err := s.lookup(address)
	if err != nil {
		return nil, err
	}
	return c.png()
}

func (s *MemoryStorage) CanvasPNGs(_ context.Context) (map[model.Address][]byte, error) {
	s.mu.Lock()
	snapshot := make(map[model.Address]*canvas, len(s.canvases))
	for address, c := range s.canvases {
		snapshot[address] = c
	}
	s.mu.Unlock()

	out := make(map[model.Address][]byte, len(snapshot))
	for address, c := range snapshot {
		img, err := c.png()
		if err != nil {
			return nil, fmt.Errorf("render canvas %s: %w", address, err)
		}
		out[address] = img
	}
	return out, nil
}

// Bytes returns a copy of the raw canvas bytes, trailer included.
func (s *MemoryStorage) Bytes(address model.Address) ([]byte, error) {
	c, err := s.lookup(address)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.data...), nil
}
