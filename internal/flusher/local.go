package flusher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"graffio/internal/storage"
)

// LocalFlusher writes <dir>/images/<address>.png for every touched canvas.
type LocalFlusher struct {
	pixels   storage.PixelStorage
	dir      string
	interval time.Duration
	logger   *zap.Logger
}

func NewLocalFlusher(pixels storage.PixelStorage, dir string, interval time.Duration, logger *zap.Logger) (*LocalFlusher, error) {
	if pixels == nil {
		return nil, fmt.Errorf("pixel storage is nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("flush directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalFlusher{pixels: pixels, dir: dir, interval: interval, logger: logger}, nil
}

func (f *LocalFlusher) Interval() time.Duration {
	return f.interval
}

func (f *LocalFlusher) Flush(ctx context.Context) error {
	images, err := f.pixels.CanvasPNGs(ctx)
	if err != nil {
		return fmt.Errorf("render canvases: %w", err)
	}
	out := filepath.Join(f.dir, "images")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	var errs []error
	for address, data := range images {
		path := filepath.Join(out, address.String()+".png")
		if err := writeAtomic(path, data); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
		}
	}
	f.logger.Debug("flushed canvases", zap.Int("count", len(images)), zap.String("dir", out))
	return errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
