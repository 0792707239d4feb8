package flusher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"graffio/internal/storage"
)

// HTTPConfig configures uploads to an object store that accepts PUT.
type HTTPConfig struct {
	BaseURL   string
	AuthToken string
	Interval  time.Duration
	Timeout   time.Duration
	Retries   int
	// RequestsPerSecond paces uploads within one flush. Zero means unlimited.
	RequestsPerSecond int
}

// HTTPFlusher PUTs <base>/images/<address>.png for every touched canvas.
type HTTPFlusher struct {
	cfg    HTTPConfig
	pixels storage.PixelStorage
	client *resty.Client
	rl     ratelimit.Limiter
	logger *zap.Logger
}

func NewHTTPFlusher(pixels storage.PixelStorage, cfg HTTPConfig, logger *zap.Logger) (*HTTPFlusher, error) {
	if pixels == nil {
		return nil, fmt.Errorf("pixel storage is nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("flush base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	rl := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.RequestsPerSecond)
	}
	return &HTTPFlusher{cfg: cfg, pixels: pixels, client: client, rl: rl, logger: logger}, nil
}

func (f *HTTPFlusher) Interval() time.Duration {
	return f.cfg.Interval
}

func (f *HTTPFlusher) Flush(ctx context.Context) error {
	images, err := f.pixels.CanvasPNGs(ctx)
	if err != nil {
		return fmt.Errorf("render canvases: %w", err)
	}

	var errs []error
	for address, data := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.rl.Take()
		path := "/images/" + address.String() + ".png"
		resp, err := f.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "image/png").
			SetBody(data).
			Put(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", path, err))
			continue
		}
		if resp.IsError() {
			errs = append(errs, fmt.Errorf("upload %s: status %s", path, resp.Status()))
		}
	}
	f.logger.Debug("uploaded canvases", zap.Int("count", len(images)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}
