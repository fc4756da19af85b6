package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "minicast"

var (
	metricListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "listeners",
		Help:      "Currently connected listeners.",
	})

	metricConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "connections_total",
		Help:      "Connections handled, by outcome.",
	}, []string{"result"})

	metricAcceptErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "accept_errors_total",
		Help:      "Failed accepts that were retried.",
	})
)
