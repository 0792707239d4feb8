// Package flusher periodically publishes rendered canvases.
package flusher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxConsecutiveFailures is the failure budget before Run gives up.
const DefaultMaxConsecutiveFailures = 5

var ErrTooManyFailures = errors.New("too many consecutive flush failures")

// Flusher publishes every canvas image once per call.
type Flusher interface {
	Flush(ctx context.Context) error
	Interval() time.Duration
}

// Metrics receives flush outcomes.
type Metrics interface {
	ObserveFlush(err error, started time.Time)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFlush(error, time.Time) {}

// Run flushes every f.Interval() until ctx ends. A success resets the failure
// count; reaching maxFailures consecutive failures returns ErrTooManyFailures.
func Run(ctx context.Context, f Flusher, maxFailures int, m Metrics, logger *zap.Logger) error {
	if f == nil {
		return fmt.Errorf("flusher is nil")
	}
	if f.Interval() <= 0 {
		return fmt.Errorf("flush interval must be greater than zero")
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("flusher")

	ticker := time.NewTicker(f.Interval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		started := time.Now()
		err := f.Flush(ctx)
		m.ObserveFlush(err, started)
		if err == nil {
			if failures > 0 {
				logger.Info("flush recovered", zap.Int("previous_failures", failures))
			}
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		logger.Warn("flush failed", zap.Error(err), zap.Int("consecutive_failures", failures))
		if failures >= maxFailures {
			return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, failures, err)
		}
	}
}
