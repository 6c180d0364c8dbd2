// Package metrics exposes Prometheus instrumentation for the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations counts service-layer mutations by collection, kind and
	// how they resolved: confirmed (direct remote call succeeded),
	// optimistic (queued for later replay) or rejected (validation
	// failure surfaced to the caller).
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pouch_mutations_total",
		Help: "Mutations applied by the data context.",
	}, []string{"collection", "kind", "result"})

	// OpsEnqueued counts operations appended to the pending queue.
	OpsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pouch_sync_ops_enqueued_total",
		Help: "Operations appended to the pending operation queue.",
	}, []string{"collection", "kind"})

	// OpsReplayed counts operations successfully replayed by a drain.
	OpsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pouch_sync_ops_replayed_total",
		Help: "Queued operations successfully replayed against the remote store.",
	})

	// DrainFailures counts drain passes halted by a failed replay.
	DrainFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pouch_sync_drain_failures_total",
		Help: "Drain passes halted by a failed operation replay.",
	})

	// QueueDepth is the current number of queued operations.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pouch_sync_queue_depth",
		Help: "Operations currently waiting in the pending operation queue.",
	})

	// Online is 1 while the remote store is reachable, 0 otherwise.
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pouch_online",
		Help: "Whether the remote store is currently reachable.",
	})
)
