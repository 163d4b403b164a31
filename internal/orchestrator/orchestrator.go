// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package orchestrator is the façade that wires gossip peer discovery,
// the pluggable transfer strategies, and the node's ambient stack
// (config, logging, metrics, system monitoring) into a single runnable
// node: SendFile/ReceiveFile dispatch by mode, ListPeers/HealthCheck read
// the gossip membership view, and a background scheduler periodically
// exports transfer statistics.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/gossipxfer/internal/config"
	"github.com/nishisan-dev/gossipxfer/internal/congestion"
	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/gossip"
	"github.com/nishisan-dev/gossipxfer/internal/metrics"
	"github.com/nishisan-dev/gossipxfer/internal/qos"
	"github.com/nishisan-dev/gossipxfer/internal/sysmon"
	"github.com/nishisan-dev/gossipxfer/internal/transfer"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// Mode names one of the six pluggable transfer strategies.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeTokenBucket Mode = "token_bucket"
	ModeAIMD        Mode = "aimd"
	ModeParallel    Mode = "parallel"
	ModeQoS         Mode = "qos"
	ModeMulticast   Mode = "multicast"
)

// reliabilityMaxRetries mirrors the gossip package's own MarkFailure
// threshold so a transfer failure counts against a peer's liveness the
// same way a failed gossip send-with-retry does.
const reliabilityMaxRetries = 3

// Node ties the gossip discovery service, transfer strategies, and
// ambient stack together behind one small API surface.
type Node struct {
	cfg    *config.Config
	codec  *crypto.Codec
	logger *slog.Logger

	discovery  *gossip.Discovery
	monitor    *sysmon.Monitor
	qosManager *qos.Manager
	metrics    *metrics.Registry
	cron       *cron.Cron

	mu                 sync.Mutex
	defaultMode        Mode
	aimdOpts           congestion.Options
	parallelStreams    int
	totalBytesSent     int64
	successfulTransfers int64
	failedTransfers    int64

	activeTransfers int32
}

// New builds a Node from cfg. Call Start to bind the gossip socket,
// background monitor, and scheduler.
func New(cfg *config.Config, codec *crypto.Codec, logger *slog.Logger) *Node {
	monitor := sysmon.New(logger, 15*time.Second)

	discovery := gossip.New(gossip.Options{
		Host:           cfg.Self.Host,
		Port:           cfg.Self.Port,
		GossipInterval: cfg.Gossip.Interval,
		MaxRetries:     cfg.Gossip.Retries,
		Timeout:        cfg.Gossip.Timeout,
		Monitor:        monitor,
	}, logger)

	return &Node{
		cfg:             cfg,
		codec:           codec,
		logger:          logger,
		discovery:       discovery,
		monitor:         monitor,
		qosManager:      qos.NewManager(cfg.QoS.TotalBandwidth),
		metrics:         metrics.New(),
		defaultMode:     Mode(cfg.Default.Mode),
		parallelStreams: cfg.Parallel.Streams,
		aimdOpts: congestion.Options{
			InitialWindow:  cfg.AIMD.InitialWindow,
			MinWindow:      cfg.AIMD.MinWindow,
			MaxWindow:      cfg.AIMD.MaxWindow,
			TimeoutEnabled: cfg.AIMD.TimeoutEnabled,
			DupAckEnabled:  cfg.AIMD.DupAckEnabled,
		},
	}
}

// Start launches the background monitor, the gossip discovery service
// (unless gossip is disabled), and the periodic stats-export scheduler.
func (n *Node) Start() error {
	n.monitor.Start()

	if !n.cfg.Gossip.Disabled {
		if err := n.discovery.Start(); err != nil {
			return fmt.Errorf("starting gossip discovery: %w", err)
		}
	}

	n.cron = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(n.logger.Handler(), slog.LevelDebug))))
	if _, err := n.cron.AddFunc("@every 5m", n.exportStats); err != nil {
		return fmt.Errorf("scheduling stats export: %w", err)
	}
	n.cron.Start()

	n.logger.Info("orchestrator started", "self", fmt.Sprintf("%s:%d", n.cfg.Self.Host, n.cfg.Self.Port), "gossip_enabled", !n.cfg.Gossip.Disabled)
	return nil
}

// Stop gracefully halts the scheduler, gossip service, and monitor.
func (n *Node) Stop() {
	if n.cron != nil {
		ctx := n.cron.Stop()
		<-ctx.Done()
	}
	if !n.cfg.Gossip.Disabled {
		n.discovery.Stop()
	}
	n.monitor.Stop()
	n.logger.Info("orchestrator stopped")
}

// SetMode changes the default transfer mode used by SendFile/ReceiveFile
// when no explicit mode is requested.
func (n *Node) SetMode(mode Mode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.defaultMode = mode
}

// ConfigureAIMD overrides the congestion controller options used by
// subsequent AIMD-mode transfers.
func (n *Node) ConfigureAIMD(opts congestion.Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aimdOpts = opts
}

// ConfigureGossip applies new gossip tuning to the running discovery
// service by replacing it; callers must not hold a reference to the old
// Discovery past this call.
func (n *Node) ConfigureGossip(opts gossip.Options) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.cfg.Gossip.Disabled {
		n.discovery.Stop()
	}
	n.discovery = gossip.New(opts, n.logger)
	if !n.cfg.Gossip.Disabled {
		return n.discovery.Start()
	}
	return nil
}

// ListPeers returns the current gossip membership view.
func (n *Node) ListPeers() []gossip.Peer {
	return n.discovery.Table().Snapshot()
}

// HealthCheck reports whether the local node is alive, enriched with the
// system monitor's latest load snapshot.
func (n *Node) HealthCheck() sysmon.Snapshot {
	return n.monitor.Snapshot()
}

// JoinNetwork bootstraps this node's membership view from an existing
// peer.
func (n *Node) JoinNetwork(ctx context.Context, bootstrapHost string, bootstrapPort int) error {
	return n.discovery.JoinNetwork(ctx, bootstrapHost, bootstrapPort)
}

// SendFile drives a Send on the named mode (or the node's default mode
// when mode is empty), updating the gossip reliability score for the
// destination peer the way a gossip send-with-retry outcome does (a
// success records an RTT of 0), and recording session-wide counters and
// Prometheus metrics.
func (n *Node) SendFile(ctx context.Context, mode Mode, path, host string, port int) error {
	strat, err := n.strategyFor(mode)
	if err != nil {
		return err
	}

	atomic.AddInt32(&n.activeTransfers, 1)
	n.metrics.ActiveTransfers.Set(float64(atomic.LoadInt32(&n.activeTransfers)))
	defer func() {
		atomic.AddInt32(&n.activeTransfers, -1)
		n.metrics.ActiveTransfers.Set(float64(atomic.LoadInt32(&n.activeTransfers)))
	}()

	sendErr := strat.Send(ctx, path, host, port)

	n.mu.Lock()
	if sendErr != nil {
		n.failedTransfers++
	} else {
		n.successfulTransfers++
		if st := strat.Stats(); st != nil {
			n.totalBytesSent += st.BytesTransferred
		}
	}
	n.mu.Unlock()

	if sendErr != nil {
		n.metrics.TransfersFailed.Inc()
		n.discovery.Table().MarkFailure(host, port, reliabilityMaxRetries)
		n.logger.Warn("send failed", "mode", mode, "host", host, "port", port, "error", sendErr)
		return sendErr
	}

	n.metrics.TransfersOK.Inc()
	if st := strat.Stats(); st != nil {
		n.metrics.BytesTransferred.Add(float64(st.BytesTransferred))
		n.metrics.Retransmits.Add(float64(st.TotalRetransmits))
	}
	n.discovery.Table().MarkSuccess(host, port, 0)
	return nil
}

// ReceiveFile drives a Receive on the named mode (or the node's default
// mode when mode is empty).
func (n *Node) ReceiveFile(ctx context.Context, mode Mode, host string, port int) (transfer.Result, error) {
	strat, err := n.strategyFor(mode)
	if err != nil {
		return transfer.Result{}, err
	}

	atomic.AddInt32(&n.activeTransfers, 1)
	n.metrics.ActiveTransfers.Set(float64(atomic.LoadInt32(&n.activeTransfers)))
	defer func() {
		atomic.AddInt32(&n.activeTransfers, -1)
		n.metrics.ActiveTransfers.Set(float64(atomic.LoadInt32(&n.activeTransfers)))
	}()

	res, recvErr := strat.Receive(ctx, host, port)
	if recvErr != nil {
		n.metrics.TransfersFailed.Inc()
		return transfer.Result{}, recvErr
	}
	n.metrics.TransfersOK.Inc()
	if st := strat.Stats(); st != nil {
		n.metrics.BytesTransferred.Add(float64(st.BytesTransferred))
	}
	return res, nil
}

// Stats reports the session-wide counters accumulated across every
// SendFile call on this node.
type Stats struct {
	TotalBytesTransferred int64
	SuccessfulTransfers   int64
	FailedTransfers       int64
}

// Stats returns a snapshot of the session-wide counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{
		TotalBytesTransferred: n.totalBytesSent,
		SuccessfulTransfers:   n.successfulTransfers,
		FailedTransfers:       n.failedTransfers,
	}
}

// Metrics exposes the Prometheus registry for an external promhttp
// handler to scrape.
func (n *Node) Metrics() *metrics.Registry { return n.metrics }

func (n *Node) strategyFor(mode Mode) (transfer.Strategy, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	m := mode
	if m == "" {
		m = n.defaultMode
	}

	switch m {
	case ModeNormal:
		return &transfer.Normal{Codec: n.codec, Logger: n.logger}, nil
	case ModeTokenBucket:
		return &transfer.TokenBucket{Codec: n.codec, Logger: n.logger}, nil
	case ModeAIMD:
		return &transfer.AIMD{Codec: n.codec, Logger: n.logger, Options: n.aimdOpts}, nil
	case ModeParallel:
		return &transfer.Parallel{Codec: n.codec, Logger: n.logger, Options: transfer.ParallelOptions{Streams: n.parallelStreams}}, nil
	case ModeQoS:
		return &transfer.QoS{Codec: n.codec, Logger: n.logger, Manager: n.qosManager}, nil
	case ModeMulticast:
		return &transfer.Multicast{Codec: n.codec, Logger: n.logger}, nil
	default:
		return nil, xfererr.Newf(xfererr.KindConfig, "orchestrator.strategyFor", "unrecognized transfer mode %q", m)
	}
}

func (n *Node) exportStats() {
	n.mu.Lock()
	snap := Stats{
		TotalBytesTransferred: n.totalBytesSent,
		SuccessfulTransfers:   n.successfulTransfers,
		FailedTransfers:       n.failedTransfers,
	}
	n.mu.Unlock()

	activePeers := len(n.discovery.Table().ActivePeers())
	n.metrics.ActivePeers.Set(float64(activePeers))

	n.logger.Info("periodic stats export",
		"active_peers", activePeers,
		"total_bytes_transferred", snap.TotalBytesTransferred,
		"successful_transfers", snap.SuccessfulTransfers,
		"failed_transfers", snap.FailedTransfers,
	)
}
