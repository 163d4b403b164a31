// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gossip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	mrand "math/rand"
	"net"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nishisan-dev/gossipxfer/internal/sysmon"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

const datagramMTU = 65535

// Options configures a Discovery instance.
type Options struct {
	Host           string
	Port           int
	GossipInterval time.Duration
	MaxRetries     int
	Timeout        time.Duration
	// Monitor, if set, enriches outgoing health_check_ack replies with
	// local system load.
	Monitor *sysmon.Monitor
}

// Discovery runs the gossip loop, discovery listener, and health-probe
// loop for one node's membership view.
type Discovery struct {
	host           string
	port           int
	gossipInterval time.Duration
	maxRetries     int
	baseTimeout    time.Duration
	monitor        *sysmon.Monitor

	table  *MembershipTable
	logger *slog.Logger

	conn *net.UDPConn

	dedup *gocache.Cache

	rng *mrand.Rand

	shutdown chan struct{}
	wg       sync.WaitGroup

	sendMu sync.Mutex
}

// New creates a Discovery for (host, port). Call Start to bind the socket
// and launch its background loops.
func New(opts Options, logger *slog.Logger) *Discovery {
	interval := opts.GossipInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Discovery{
		host:           opts.Host,
		port:           opts.Port,
		gossipInterval: interval,
		maxRetries:     retries,
		baseTimeout:    timeout,
		monitor:        opts.Monitor,
		table:          NewMembershipTable(opts.Host, opts.Port),
		logger:         logger.With("component", "gossip", "self", peerID(opts.Host, opts.Port)),
		dedup:          gocache.New(3*interval, interval),
		rng:            mrand.New(mrand.NewSource(seedFromCrypto())),
		shutdown:       make(chan struct{}),
	}
}

func seedFromCrypto() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return time.Now().UnixNano()
	}
	return n.Int64()
}

// Start binds the UDP socket and launches the gossip, listener, and
// health-probe loops in the background.
func (d *Discovery) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(d.host), Port: d.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return xfererr.New(xfererr.KindIO, "gossip.Start", err)
	}
	d.conn = conn

	d.wg.Add(3)
	go d.gossipLoop()
	go d.listenLoop()
	go d.healthCheckLoop()

	d.logger.Info("gossip peer discovery started")
	return nil
}

// Stop signals every loop to exit and closes the socket to unblock any
// blocked ReadFromUDP call, then waits for all loops to return.
func (d *Discovery) Stop() {
	close(d.shutdown)
	if d.conn != nil {
		d.conn.Close()
	}
	d.wg.Wait()
	d.logger.Info("gossip peer discovery stopped")
}

// Table exposes the membership table. The orchestrator borrows this
// reference to read membership and to record transfer outcomes; gossip
// never references the orchestrator back.
func (d *Discovery) Table() *MembershipTable { return d.table }

// ActivePeers returns the set of (host, port) currently marked active.
func (d *Discovery) ActivePeers() []Peer { return d.table.ActivePeers() }

// ReliablePeers returns active peers at or above minReliability, sorted
// descending.
func (d *Discovery) ReliablePeers(minReliability float64) []Peer {
	return d.table.ReliablePeers(minReliability)
}

func (d *Discovery) gossipLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.runGossipRound()
		}
	}
}

func (d *Discovery) runGossipRound() {
	active := d.table.ActivePeers()
	if len(active) == 0 {
		return
	}

	targets := selectGossipTargets(active, 3, d.rng)
	dtos := toDTOs(active)

	for _, target := range targets {
		msg := GossipMessage{
			Type:      TypeGossip,
			Source:    Addr{Host: d.host, Port: d.port},
			Peers:     dtos,
			Timestamp: nowUnix(),
		}
		addr := &net.UDPAddr{IP: net.ParseIP(target.Host), Port: target.Port}
		if _, err := d.sendWithRetry(msg, addr, false); err != nil {
			d.logger.Warn("gossip send failed", "target", peerID(target.Host, target.Port), "error", err)
			d.table.MarkFailure(target.Host, target.Port, d.maxRetries)
		}
	}
}

func (d *Discovery) healthCheckLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(2 * d.gossipInterval)
	defer ticker.Stop()

	staleAfter := 3 * d.gossipInterval

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			for _, p := range d.table.ProbeCandidates(staleAfter) {
				d.probe(p)
			}
		}
	}
}

func (d *Discovery) probe(p Peer) {
	msg := HealthCheckMessage{
		Type:      TypeHealthCheck,
		ID:        newMessageID(),
		Source:    Addr{Host: d.host, Port: d.port},
		Timestamp: nowUnix(),
	}
	addr := &net.UDPAddr{IP: net.ParseIP(p.Host), Port: p.Port}

	resp, err := d.sendWithRetry(msg, addr, true)
	if err != nil {
		d.logger.Warn("health check failed", "peer", peerID(p.Host, p.Port), "error", err)
		d.table.MarkFailure(p.Host, p.Port, d.maxRetries)
		return
	}

	var ack HealthCheckAck
	if jsonErr := json.Unmarshal(resp, &ack); jsonErr != nil {
		d.logger.Warn("malformed health_check_ack", "peer", peerID(p.Host, p.Port), "error", jsonErr)
		return
	}
	d.table.Recover(p.Host, p.Port)
	d.logger.Info("peer recovered via health check", "peer", peerID(p.Host, p.Port))
}

func (d *Discovery) listenLoop() {
	defer d.wg.Done()

	buf := make([]byte, datagramMTU)
	for {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.shutdown:
				return
			default:
				d.logger.Error("discovery listener read error", "error", err)
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		d.handleDatagram(payload, addr)
	}
}

func (d *Discovery) handleDatagram(payload []byte, from *net.UDPAddr) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Warn("received invalid JSON", "from", from.String())
		return
	}

	switch env.Type {
	case TypeGossip:
		d.handleGossip(payload, from)
	case TypeJoin:
		d.handleJoin(payload, from)
	case TypeHealthCheck:
		d.handleHealthCheck(payload, from)
	default:
		d.logger.Debug("ignoring unknown message type", "type", env.Type, "from", from.String())
	}
}

func (d *Discovery) handleGossip(payload []byte, from *net.UDPAddr) {
	var msg GossipMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn("malformed gossip message", "from", from.String())
		return
	}

	if nowUnix()-msg.Timestamp > 3*d.gossipInterval.Seconds() {
		d.logger.Warn("discarding outdated gossip message", "from", from.String())
		return
	}

	d.table.Upsert(msg.Source.Host, msg.Source.Port)
	for _, p := range msg.Peers {
		d.table.Upsert(p.Host, p.Port)
	}
}

func (d *Discovery) handleJoin(payload []byte, from *net.UDPAddr) {
	var msg JoinMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn("malformed join message", "from", from.String())
		return
	}
	if d.seenRecently(msg.ID) {
		return
	}

	d.table.Upsert(msg.Peer.Host, msg.Peer.Port)

	ack := JoinAck{Type: TypeJoinAck, Peers: toDTOs(d.table.ActivePeers())}
	b, err := json.Marshal(ack)
	if err != nil {
		d.logger.Error("marshal join_ack", "error", err)
		return
	}
	if _, err := d.conn.WriteToUDP(b, from); err != nil {
		d.logger.Warn("send join_ack failed", "to", from.String(), "error", err)
		return
	}
	d.logger.Info("new peer joined", "peer", from.String())
}

func (d *Discovery) handleHealthCheck(payload []byte, from *net.UDPAddr) {
	var msg HealthCheckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn("malformed health_check message", "from", from.String())
		return
	}
	if d.seenRecently(msg.ID) {
		return
	}

	ack := HealthCheckAck{Type: TypeHealthCheckAck, Status: "healthy", Timestamp: nowUnix()}
	if d.monitor != nil {
		snap := d.monitor.Snapshot()
		cpu, mem, load := snap.CPUPercent, snap.MemoryPercent, snap.LoadAverage
		ack.CPUPercent, ack.MemoryPct, ack.LoadAverage = &cpu, &mem, &load
	}

	b, err := json.Marshal(ack)
	if err != nil {
		d.logger.Error("marshal health_check_ack", "error", err)
		return
	}
	if _, err := d.conn.WriteToUDP(b, from); err != nil {
		d.logger.Warn("send health_check_ack failed", "to", from.String(), "error", err)
	}

	d.table.Upsert(from.IP.String(), from.Port)
}

// seenRecently reports whether id was handled within the last
// 3×gossip_interval, recording it if not — deduping retransmitted join or
// health_check datagrams under the sender's retry policy.
func (d *Discovery) seenRecently(id string) bool {
	if id == "" {
		return false
	}
	if _, found := d.dedup.Get(id); found {
		return true
	}
	d.dedup.SetDefault(id, struct{}{})
	return false
}

// clientSocket opens a fresh ephemeral UDP socket bound to this node's
// host, for a single request/response exchange. listenLoop blocks reading
// d.conn continuously; a reply read on that same socket races the
// listener and is delivered to whichever goroutine's ReadFromUDP call
// happens to win, so request/response traffic never reads from d.conn.
func (d *Discovery) clientSocket() (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(d.host), Port: 0})
}

// sendWithRetry sends msg to addr, retrying up to maxRetries times with a
// timeout that grows ×1.5 per attempt (capped at 10s) when expectResponse
// is true. Returns the raw response payload when one was requested and
// received.
func (d *Discovery) sendWithRetry(msg any, addr *net.UDPAddr, expectResponse bool) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, xfererr.New(xfererr.KindProtocol, "gossip.sendWithRetry", err)
	}

	if !expectResponse {
		d.sendMu.Lock()
		defer d.sendMu.Unlock()
		if _, err := d.conn.WriteToUDP(b, addr); err != nil {
			return nil, xfererr.New(xfererr.KindIO, "gossip.sendWithRetry", err)
		}
		return nil, nil
	}

	client, err := d.clientSocket()
	if err != nil {
		return nil, xfererr.New(xfererr.KindIO, "gossip.sendWithRetry", err)
	}
	defer client.Close()

	timeout := d.baseTimeout
	start := time.Now()

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if _, err := client.WriteToUDP(b, addr); err != nil {
			return nil, xfererr.New(xfererr.KindIO, "gossip.sendWithRetry", err)
		}

		client.SetReadDeadline(time.Now().Add(timeout))
		resp := make([]byte, datagramMTU)
		n, _, err := client.ReadFromUDP(resp)

		if err == nil {
			rtt := time.Since(start)
			d.table.MarkSuccess(addr.IP.String(), addr.Port, rtt)
			return resp[:n], nil
		}

		timeout = timeout * 3 / 2
		if timeout > 10*time.Second {
			timeout = 10 * time.Second
		}
	}

	return nil, xfererr.Newf(xfererr.KindTimeout, "gossip.sendWithRetry", "no response from %s after %d attempts", addr.String(), d.maxRetries)
}

// JoinNetwork sends a join request to a bootstrap peer, retrying up to
// maxRetries times with a per-attempt timeout of timeout*(attempt+1), and
// merges the returned peers into the membership table on success.
func (d *Discovery) JoinNetwork(ctx context.Context, bootstrapHost string, bootstrapPort int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(bootstrapHost), Port: bootstrapPort}

	client, err := d.clientSocket()
	if err != nil {
		return xfererr.New(xfererr.KindIO, "gossip.JoinNetwork", err)
	}
	defer client.Close()

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return xfererr.New(xfererr.KindTimeout, "gossip.JoinNetwork", ctx.Err())
		default:
		}

		msg := JoinMessage{
			Type:      TypeJoin,
			ID:        newMessageID(),
			Peer:      Addr{Host: d.host, Port: d.port},
			Timestamp: nowUnix(),
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return xfererr.New(xfererr.KindProtocol, "gossip.JoinNetwork", err)
		}

		d.logger.Info("joining network", "bootstrap", addr.String(), "attempt", attempt+1)

		if _, err := client.WriteToUDP(b, addr); err != nil {
			lastErr = xfererr.New(xfererr.KindIO, "gossip.JoinNetwork", err)
			continue
		}

		timeout := d.baseTimeout * time.Duration(attempt+1)
		client.SetReadDeadline(time.Now().Add(timeout))
		resp := make([]byte, datagramMTU)
		n, _, err := client.ReadFromUDP(resp)
		if err != nil {
			lastErr = xfererr.New(xfererr.KindTimeout, "gossip.JoinNetwork", err)
			continue
		}

		var ack JoinAck
		if err := json.Unmarshal(resp[:n], &ack); err != nil {
			lastErr = xfererr.New(xfererr.KindProtocol, "gossip.JoinNetwork", err)
			continue
		}
		for _, p := range ack.Peers {
			d.table.Upsert(p.Host, p.Port)
		}
		d.logger.Info("joined network", "peers_learned", len(ack.Peers))
		return nil
	}

	return xfererr.New(xfererr.KindPeerUnreachable, "gossip.JoinNetwork", fmt.Errorf("exhausted %d attempts: %w", d.maxRetries, lastErr))
}

func toDTOs(peers []Peer) []PeerDTO {
	out := make([]PeerDTO, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerDTO{
			Host:           p.Host,
			Port:           p.Port,
			LastSeen:       float64(p.LastSeen.Unix()),
			Status:         string(p.Status),
			FailedAttempts: p.FailedAttempts,
			RTT:            p.RTT.Seconds(),
			Reliability:    p.Reliability,
		})
	}
	return out
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func newMessageID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
