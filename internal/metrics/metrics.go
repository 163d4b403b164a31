// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics exposes the orchestrator's Prometheus instrumentation:
// active peers, active transfers, retransmits, and gossip traffic counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the gauges and counters the orchestrator updates as it
// drives gossip and file-transfer operations. Each instance owns its own
// prometheus.Registry so tests can create isolated registries without
// colliding on the global default one.
type Registry struct {
	reg *prometheus.Registry

	ActivePeers       prometheus.Gauge
	ActiveTransfers   prometheus.Gauge
	BytesTransferred  prometheus.Counter
	Retransmits       prometheus.Counter
	GossipSent        prometheus.Counter
	GossipDiscarded   prometheus.Counter
	TransfersFailed   prometheus.Counter
	TransfersOK       prometheus.Counter
}

// New builds a Registry with all metrics registered under the gossipxfer_
// namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gossipxfer",
			Name:      "active_peers",
			Help:      "Number of peers currently marked active in the membership table.",
		}),
		ActiveTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gossipxfer",
			Name:      "active_transfers",
			Help:      "Number of file transfers currently in progress.",
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "bytes_transferred_total",
			Help:      "Total bytes transferred across all completed transfers.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "retransmits_total",
			Help:      "Total AIMD retransmits (timeout + fast) across all transfers.",
		}),
		GossipSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "gossip_messages_sent_total",
			Help:      "Total gossip rounds sent.",
		}),
		GossipDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "gossip_messages_discarded_total",
			Help:      "Total inbound gossip messages discarded as stale.",
		}),
		TransfersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "transfers_failed_total",
			Help:      "Total file transfers that ended in error.",
		}),
		TransfersOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gossipxfer",
			Name:      "transfers_succeeded_total",
			Help:      "Total file transfers that completed successfully.",
		}),
	}

	reg.MustRegister(
		r.ActivePeers,
		r.ActiveTransfers,
		r.BytesTransferred,
		r.Retransmits,
		r.GossipSent,
		r.GossipDiscarded,
		r.TransfersFailed,
		r.TransfersOK,
	)
	return r
}

// Registry exposes the underlying prometheus.Registry for an external
// promhttp.Handler to scrape; wiring an HTTP listener is a driver concern.
func (r *Registry) Registry() *prometheus.Registry { return r.reg }
