// Package metrics registers the process-level Prometheus collectors
// exposed at GET /metrics (§6.1).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowplane",
		Name:      "active_streams",
		Help:      "Number of streams with is_active=true.",
	})

	ReconcileIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "reconcile_iterations_total",
		Help:      "Number of completed reconciliation ticks.",
	})

	WorkerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "worker_restarts_total",
		Help:      "Number of worker restarts issued, by stream.",
	}, []string{"stream_id"})

	BrokerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "broker_reconnects_total",
		Help:      "Number of pub/sub reconnect attempts by the frame broker.",
	})

	FramesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "frames_forwarded_total",
		Help:      "Number of frame messages forwarded past the FPS cap.",
	})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "frames_dropped_total",
		Help:      "Number of frame messages dropped by the FPS cap.",
	})

	HubSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowplane",
		Name:      "hub_subscribers",
		Help:      "Current count of connected WebSocket frame subscribers.",
	})

	HubSubscriberDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowplane",
		Name:      "hub_subscriber_drops_total",
		Help:      "Number of frame messages dropped due to subscriber backpressure.",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveStreams,
		ReconcileIterations,
		WorkerRestarts,
		BrokerReconnects,
		FramesForwarded,
		FramesDropped,
		HubSubscribers,
		HubSubscriberDrops,
	)
}
