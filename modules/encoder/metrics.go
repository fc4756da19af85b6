package encoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "minicast"

var (
	metricQueueBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "encoder_queue_blocks",
		Help:      "Sample blocks waiting to be encoded.",
	})

	metricBlocksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "encoder_blocks_rejected_total",
		Help:      "Sample blocks not queued, by reason.",
	}, []string{"reason"})

	metricSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "encoder_sessions_total",
		Help:      "Codec sessions started.",
	})

	metricChunkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "encoder_chunk_errors_total",
		Help:      "Chunks the codec failed to encode and that were skipped.",
	})

	metricEncodedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "stream_bytes_total",
		Help:      "Encoded bytes appended to the stream buffer.",
	})
)
