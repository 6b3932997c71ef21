// Package metrics exposes the watcher's operational counters via
// prometheus/client_golang, the metrics library used throughout the retrieved
// corpus (Exca-DK-juno, MetalBlockchain-coreth, luxfi-evm all depend on it
// directly). This is observability, not the forbidden RPC/HTTP transport
// (spec.md §1's non-goal is about the blockchain connection).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric the core touches. Construct with NewRegistry and
// pass to components that need to record against it.
type Registry struct {
	EventsEmitted   *prometheus.CounterVec
	Reconnects      prometheus.Counter
	BackfillBlocks  prometheus.Counter
	BackfillErrors  prometheus.Counter
	EndpointHealth  *prometheus.GaugeVec
	DedupSetSize    prometheus.Gauge
	LastProcessed   prometheus.Gauge
	PendingDisabled prometheus.Gauge
}

// NewRegistry constructs metrics registered against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmwatch",
			Name:      "events_emitted_total",
			Help:      "Transfer events handed to the sink, labeled by type and watched side.",
		}, []string{"type", "watched_side"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evmwatch",
			Name:      "pool_reconnects_total",
			Help:      "Number of times the endpoint pool completed a (re)connection.",
		}),
		BackfillBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evmwatch",
			Name:      "continuity_backfill_blocks_total",
			Help:      "Blocks fetched to close a continuity gap.",
		}),
		BackfillErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evmwatch",
			Name:      "continuity_backfill_errors_total",
			Help:      "Backfill blocks that failed to fetch and were skipped.",
		}),
		EndpointHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "evmwatch",
			Name:      "endpoint_status",
			Help:      "Endpoint health status: 0=healthy 1=degraded 2=down.",
		}, []string{"endpoint"}),
		DedupSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmwatch",
			Name:      "dedup_set_size",
			Help:      "Current number of transaction hashes held in the dedup set.",
		}),
		LastProcessed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmwatch",
			Name:      "last_processed_block",
			Help:      "Highest block number processed by the continuity engine.",
		}),
		PendingDisabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evmwatch",
			Name:      "pending_watch_disabled",
			Help:      "1 if pending-transaction monitoring has been disabled for this session.",
		}),
	}
}
