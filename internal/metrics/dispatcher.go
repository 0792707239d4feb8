package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatcherBatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "batches_total",
		Help:      "Count of batches applied by the dispatcher.",
	}, []string{"processor", "status"})

	dispatcherBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "batch_duration_seconds",
		Help:      "Duration of transforming and applying a batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"processor", "status"})

	dispatcherIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "intents_applied_total",
		Help:      "Count of storage intents applied, by kind.",
	}, []string{"processor", "kind"})

	dispatcherLastVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "last_processed_version",
		Help:      "Last checkpointed transaction version.",
	}, []string{"processor"})
)

// Dispatcher records dispatcher progress for one processor.
type Dispatcher struct {
	processor string
}

func NewDispatcher(processor string) *Dispatcher {
	if processor == "" {
		processor = "unknown"
	}
	return &Dispatcher{processor: processor}
}

func (m *Dispatcher) ObserveBatch(err error, started time.Time) {
	s := status(err)
	dispatcherBatchTotal.WithLabelValues(m.processor, s).Inc()
	dispatcherBatchDuration.WithLabelValues(m.processor, s).Observe(time.Since(started).Seconds())
}

func (m *Dispatcher) ObserveIntents(creates, writes, attributions int) {
	dispatcherIntentsTotal.WithLabelValues(m.processor, "create_canvas").Add(float64(creates))
	dispatcherIntentsTotal.WithLabelValues(m.processor, "write_pixel").Add(float64(writes))
	dispatcherIntentsTotal.WithLabelValues(m.processor, "update_attribution").Add(float64(attributions))
}

func (m *Dispatcher) SetLastProcessedVersion(version uint64) {
	dispatcherLastVersion.WithLabelValues(m.processor).Set(float64(version))
}
