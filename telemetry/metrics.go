// Package telemetry defines vixy's Prometheus metric registry (spec
// §6). Rendering the registry as Prometheus text format is left to the
// promhttp.Handler wired into the server's /metrics route — that glue
// is the one piece this package's external-collaborator note in spec §1
// excludes from scope.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ELRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "el_requests_total",
		Help:      "Total number of EL JSON-RPC requests proxied, by node and tier.",
	}, []string{"node", "tier"})

	CLRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "cl_requests_total",
		Help:      "Total number of CL REST requests proxied, by node.",
	}, []string{"node"})

	ELFailoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "el_failovers_total",
		Help:      "Total number of times EL failover activated (no primary healthy).",
	})

	WSConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "ws_connections_total",
		Help:      "Total number of WebSocket client connections accepted.",
	})

	WSMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "ws_messages_total",
		Help:      "Total number of WebSocket frames relayed, by direction.",
	}, []string{"direction"})

	WSReconnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "ws_reconnections_total",
		Help:      "Total number of successful WebSocket upstream reconnections.",
	})

	WSReconnectionAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "ws_reconnection_attempts_total",
		Help:      "Total number of WebSocket upstream reconnection attempts, by outcome.",
	}, []string{"status"})

	WSSubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vixy",
		Name:      "ws_subscriptions_total",
		Help:      "Total number of client subscriptions created (replays do not count).",
	})

	ELNodeBlockNumber = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "el_node_block_number",
		Help:      "Last observed block number per EL node.",
	}, []string{"node", "tier"})

	ELNodeLagBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "el_node_lag_blocks",
		Help:      "Blocks behind the EL chain head per node.",
	}, []string{"node", "tier"})

	ELNodeHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "el_node_healthy",
		Help:      "1 if the EL node is healthy, 0 otherwise.",
	}, []string{"node", "tier"})

	CLNodeSlot = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "cl_node_slot",
		Help:      "Last observed slot per CL node.",
	}, []string{"node"})

	CLNodeLagSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "cl_node_lag_slots",
		Help:      "Slots behind the CL chain head per node.",
	}, []string{"node"})

	CLNodeHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "cl_node_healthy",
		Help:      "1 if the CL node is healthy, 0 otherwise.",
	}, []string{"node"})

	ELChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "el_chain_head",
		Help:      "Highest EL block number observed across all upstreams.",
	})

	CLChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "cl_chain_head",
		Help:      "Highest CL slot observed across all upstreams.",
	})

	ELHealthyNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "el_healthy_nodes",
		Help:      "Count of currently healthy EL nodes.",
	})

	CLHealthyNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "cl_healthy_nodes",
		Help:      "Count of currently healthy CL nodes.",
	})

	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "ws_connections_active",
		Help:      "Count of currently open WebSocket client connections.",
	})

	WSSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "ws_subscriptions_active",
		Help:      "Count of currently live client subscriptions.",
	})

	WSUpstreamNode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vixy",
		Name:      "ws_upstream_node",
		Help:      "1 for the node currently selected by each WS connection, 0 otherwise.",
	}, []string{"node"})

	ELRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vixy",
		Name:      "el_request_duration_seconds",
		Help:      "EL JSON-RPC request latency, by node and tier.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"node", "tier"})

	CLRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vixy",
		Name:      "cl_request_duration_seconds",
		Help:      "CL REST request latency, by node.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"node"})
)

// SetWSUpstreamNode flips the gauge for newNode to 1 and, if oldNode is
// non-empty and different, flips it to 0 first. Per spec §6's key
// metric invariant, the old node's gauge must transition to 0 before
// the new node's transitions to 1.
func SetWSUpstreamNode(oldNode, newNode string) {
	if oldNode != "" && oldNode != newNode {
		WSUpstreamNode.WithLabelValues(oldNode).Set(0)
	}
	if newNode != "" {
		WSUpstreamNode.WithLabelValues(newNode).Set(1)
	}
}
