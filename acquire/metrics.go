package acquire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Name:      "buffers_delivered_total",
		Help:      "Buffers handed to a handler or the result queue.",
	}, []string{"session"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Name:      "buffers_dropped_total",
		Help:      "Ready buffers released without reaching a consumer.",
	}, []string{"session", "reason"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrab",
		Name:      "result_queue_depth",
		Help:      "Buffers waiting in the result queue.",
	}, []string{"session"})

	runningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrab",
		Name:      "session_running",
		Help:      "1 while the acquisition goroutine is active.",
	}, []string{"session"})
)
