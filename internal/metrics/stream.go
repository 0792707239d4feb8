package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "responses_total",
		Help:      "Count of stream responses received.",
	}, []string{"request_name", "status"})

	streamTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "transactions_total",
		Help:      "Count of transactions received from the stream.",
	}, []string{"request_name"})

	streamReceiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "receive_duration_seconds",
		Help:      "Time spent waiting for the next stream response.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"request_name", "status"})

	streamQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "queue_depth",
		Help:      "Batches waiting in the queue between stream and dispatcher.",
	}, []string{"request_name"})
)

// Stream records stream client activity.
type Stream struct {
	requestName string
}

func NewStream(requestName string) *Stream {
	if requestName == "" {
		requestName = "unknown"
	}
	return &Stream{requestName: requestName}
}

// ObserveReceive records one Recv call and the transactions it carried.
func (m *Stream) ObserveReceive(err error, transactions int, started time.Time) {
	s := status(err)
	streamResponsesTotal.WithLabelValues(m.requestName, s).Inc()
	streamReceiveDuration.WithLabelValues(m.requestName, s).Observe(time.Since(started).Seconds())
	if err == nil {
		streamTransactionsTotal.WithLabelValues(m.requestName).Add(float64(transactions))
	}
}

func (m *Stream) SetQueueDepth(n int) {
	streamQueueDepth.WithLabelValues(m.requestName).Set(float64(n))
}
