package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "minicast"

var (
	metricTracks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "source_tracks_total",
		Help:      "Playlist entries handled, by result.",
	}, []string{"result"})

	metricSourceSamples = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "source_samples_total",
		Help:      "Samples per channel delivered to the encoder.",
	})

	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "source_reconnects_total",
		Help:      "Reconnection attempts to remote streams.",
	})
)
