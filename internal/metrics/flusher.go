package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flusher",
		Name:      "flushes_total",
		Help:      "Count of PNG flush rounds.",
	}, []string{"target", "status"})

	flushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "flusher",
		Name:      "flush_duration_seconds",
		Help:      "Duration of a PNG flush round.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"target", "status"})
)

// Flusher records flush rounds for one target kind.
type Flusher struct {
	target string
}

func NewFlusher(target string) *Flusher {
	if target == "" {
		target = "unknown"
	}
	return &Flusher{target: target}
}

func (m *Flusher) ObserveFlush(err error, started time.Time) {
	s := status(err)
	flushTotal.WithLabelValues(m.target, s).Inc()
	flushDuration.WithLabelValues(m.target, s).Observe(time.Since(started).Seconds())
}
