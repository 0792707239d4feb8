package raster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"graffio/internal/model"
	"graffio/internal/storage"
)

var _ storage.PixelStorage = (*MmapStorage)(nil)

const shardCount = 16

// MmapConfig configures the file backed pixel store.
type MmapConfig struct {
	StorageDirectory string
	// SyncWrites msyncs mapped pages after each write call.
	SyncWrites bool
}

// MmapStorage keeps one file per canvas and serves reads and writes through a
// shared memory mapping, so edits land in the page cache without a copy.
type MmapStorage struct {
	cfg    MmapConfig
	logger *zap.Logger
	shards [shardCount]mappingShard
}

type mappingShard struct {
	mu       sync.Mutex
	canvases map[model.Address]*canvas
}

// NewMmapStorage creates the storage directory if needed.
func NewMmapStorage(cfg MmapConfig, logger *zap.Logger) (*MmapStorage, error) {
	if cfg.StorageDirectory == "" {
		return nil, errors.New("storage directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.StorageDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &MmapStorage{cfg: cfg, logger: logger}
	for i := range s.shards {
		s.shards[i].canvases = make(map[model.Address]*canvas)
	}
	return s, nil
}

func (s *MmapStorage) shard(address model.Address) *mappingShard {
	return &s.shards[xxhash.Sum64(address[:])%shardCount]
}

func (s *MmapStorage) path(address model.Address) string {
	return filepath.Join(s.cfg.StorageDirectory, Filename(address))
}

// CreateCanvas writes a fresh file filled with the default color. An existing
// file for the same address is overwritten and any cached mapping dropped.
func (s *MmapStorage) CreateCanvas(ctx context.Context, intent model.CreateCanvasIntent) error {
	size, err := FileSize(intent.Width, intent.Height)
	if err != nil {
		return err
	}

	sh := s.shard(intent.CanvasAddress)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.canvases[intent.CanvasAddress]; ok {
		delete(sh.canvases, intent.CanvasAddress)
		if err := unmap(existing); err != nil {
			return fmt.Errorf("unmap canvas %s: %w", intent.CanvasAddress, err)
		}
	}

	if err := s.writeFile(intent, size); err != nil {
		return fmt.Errorf("create canvas %s: %w", intent.CanvasAddress, err)
	}

	c, err := s.mapFile(intent.CanvasAddress)
	if err != nil {
		return err
	}
	sh.canvases[intent.CanvasAddress] = c
	s.logger.Debug("canvas created",
		zap.String("canvas", intent.CanvasAddress.String()),
		zap.Uint64("width", intent.Width),
		zap.Uint64("height", intent.Height),
		zap.Int64("bytes", size),
	)
	return nil
}

func (s *MmapStorage) writeFile(intent model.CreateCanvasIntent, size int64) error {
	f, err := os.OpenFile(s.path(intent.CanvasAddress), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<16)
	row := fillRow(intent.DefaultColor, int(intent.Width))
	for y := uint64(0); y < intent.Height; y++ {
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	trailer := make([]byte, TrailerSize)
	PutTrailer(trailer, intent.Width, intent.Height)
	if _, err := w.Write(trailer); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != size {
		return fmt.Errorf("%w: wrote %d bytes, want %d", ErrCorruptCanvas, info.Size(), size)
	}
	return f.Sync()
}

// mapFile opens and maps a canvas file. The descriptor is closed once mapped.
func (s *MmapStorage) mapFile(address model.Address) (*canvas, error) {
	f, err := os.OpenFile(s.path(address), os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, address)
		}
		return nil, fmt.Errorf("open canvas %s: %w", address, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat canvas %s: %w", address, err)
	}
	if info.Size() < TrailerSize {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrCorruptCanvas, address, info.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap canvas %s: %w", address, err)
	}
	c, err := newCanvas(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("canvas %s: %w", address, err)
	}
	return c, nil
}

// canvas returns the cached mapping, mapping the file on first use.
func (s *MmapStorage) canvas(address model.Address) (*canvas, error) {
	sh := s.shard(address)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c, ok := sh.canvases[address]; ok {
		return c, nil
	}
	c, err := s.mapFile(address)
	if err != nil {
		return nil, err
	}
	sh.canvases[address] = c
	return c, nil
}

func (s *MmapStorage) WritePixel(ctx context.Context, intent model.WritePixelIntent) error {
	return s.WritePixels(ctx, []model.WritePixelIntent{intent})
}

// WritePixels applies intents in order. Every target canvas is resolved and
// every index checked before the first byte is written.
func (s *MmapStorage) WritePixels(ctx context.Context, intents []model.WritePixelIntent) error {
	if len(intents) == 0 {
		return nil
	}
	order, groups := groupByCanvas(intents)
	targets := make([]*canvas, len(order))
	for i, address := range order {
		c, err := s.canvas(address)
		if err != nil {
			return err
		}
		if err := c.check(groups[address]); err != nil {
			return err
		}
		targets[i] = c
	}

	for i, address := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := targets[i]
		c.set(groups[address])
		if s.cfg.SyncWrites {
			c.mu.RLock()
			err := unix.Msync(c.data, unix.MS_SYNC)
			c.mu.RUnlock()
			if err != nil {
				return fmt.Errorf("msync canvas %s: %w", address, err)
			}
		}
	}
	return nil
}

func (s *MmapStorage) CanvasPNG(ctx context.Context, address model.Address) ([]byte, error) {
	c, err := s.canvas(address)
	if err != nil {
		return nil, err
	}
	return c.png()
}

// CanvasPNGs renders every canvas mapped since the storage was opened.
func (s *MmapStorage) CanvasPNGs(ctx context.Context) (map[model.Address][]byte, error) {
	touched := make(map[model.Address]*canvas)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for address, c := range sh.canvases {
			touched[address] = c
		}
		sh.mu.Unlock()
	}

	out := make(map[model.Address][]byte, len(touched))
	for address, c := range touched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := c.png()
		if err != nil {
			return nil, fmt.Errorf("render canvas %s: %w", address, err)
		}
		out[address] = img
	}
	return out, nil
}

// Close unmaps every cached canvas.
func (s *MmapStorage) Close() error {
	var errs []error
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for address, c := range sh.canvases {
			if err := unmap(c); err != nil {
				errs = append(errs, fmt.Errorf("unmap canvas %s: %w", address, err))
			}
			delete(sh.canvases, address)
		}
		sh.mu.Unlock()
	}
	return errors.Join(errs...)
}

func unmap(c *canvas) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := unix.Munmap(c.data)
	c.data = nil
	return err
}
