// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gossip implements SWIM-style peer membership: push gossip to a
// weighted-random subset of active peers, a join handshake for new nodes,
// and background health probing of peers that have gone quiet.
package gossip

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a peer's liveness classification.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Peer is a known network endpoint and everything learned about its
// liveness and latency.
type Peer struct {
	Host           string
	Port           int
	LastSeen       time.Time
	Status         Status
	FailedAttempts int
	RTT            time.Duration
	Reliability    float64
}

func peerID(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// MembershipTable maps peer_id (host:port) to Peer, mutex-guarded, owned
// by one Discovery instance. The orchestrator reaches it through
// Discovery.Table() to read membership and to record transfer outcomes;
// gossip never references the orchestrator, keeping the relationship
// one-way.
type MembershipTable struct {
	mu       sync.Mutex
	selfHost string
	selfPort int
	peers    map[string]*Peer
}

// NewMembershipTable creates an empty table that refuses to ever insert
// an entry for (selfHost, selfPort).
func NewMembershipTable(selfHost string, selfPort int) *MembershipTable {
	return &MembershipTable{
		selfHost: selfHost,
		selfPort: selfPort,
		peers:    make(map[string]*Peer),
	}
}

// Upsert records a sighting of (host, port): refreshes last_seen, flips
// status to active, and clears failed_attempts on an existing entry;
// creates a fresh unknown→active entry otherwise. A sighting of self is
// silently dropped.
func (t *MembershipTable) Upsert(host string, port int) {
	if host == t.selfHost && port == t.selfPort {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := peerID(host, port)
	now := time.Now()
	if p, ok := t.peers[id]; ok {
		p.LastSeen = now
		p.Status = StatusActive
		p.FailedAttempts = 0
		return
	}

	t.peers[id] = &Peer{
		Host:        host,
		Port:        port,
		LastSeen:    now,
		Status:      StatusActive,
		Reliability: 1.0,
	}
}

// MarkFailure records a failed send-with-retry to (host, port):
// reliability drops by 0.2 (floored at 0.1), failed_attempts increments,
// and status flips to inactive once failed_attempts reaches maxRetries.
// Unknown peers are ignored — a failure can only be recorded against a
// peer already in the table.
func (t *MembershipTable) MarkFailure(host string, port int, maxRetries int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := peerID(host, port)
	p, ok := t.peers[id]
	if !ok {
		return
	}
	p.FailedAttempts++
	p.Reliability -= 0.2
	if p.Reliability < 0.1 {
		p.Reliability = 0.1
	}
	if p.FailedAttempts >= maxRetries {
		p.Status = StatusInactive
	}
}

// MarkSuccess records a successful request/response to (host, port):
// reliability rises by 0.1 (capped at 1.0), failed_attempts resets, RTT is
// updated, and status flips back to active.
func (t *MembershipTable) MarkSuccess(host string, port int, rtt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := peerID(host, port)
	p, ok := t.peers[id]
	if !ok {
		return
	}
	p.Reliability += 0.1
	if p.Reliability > 1.0 {
		p.Reliability = 1.0
	}
	p.FailedAttempts = 0
	p.RTT = rtt
	p.Status = StatusActive
}

// Recover flips a peer back to active after a successful health probe,
// without touching reliability (the probe's own success path already
// goes through MarkSuccess if it carries an RTT sample).
func (t *MembershipTable) Recover(host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := peerID(host, port)
	if p, ok := t.peers[id]; ok {
		p.Status = StatusActive
		p.FailedAttempts = 0
	}
}

// ActivePeers returns a snapshot of all peers with status == active.
func (t *MembershipTable) ActivePeers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Status == StatusActive {
			out = append(out, *p)
		}
	}
	return out
}

// ReliablePeers returns active peers with reliability >= minReliability,
// sorted by reliability descending.
func (t *MembershipTable) ReliablePeers(minReliability float64) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Status == StatusActive && p.Reliability >= minReliability {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reliability > out[j].Reliability })
	return out
}

// ProbeCandidates returns peers needing a health probe: inactive, or with
// pending failures, and quiet for longer than staleAfter.
func (t *MembershipTable) ProbeCandidates(staleAfter time.Duration) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var out []Peer
	for _, p := range t.peers {
		if (p.Status == StatusInactive || p.FailedAttempts > 0) && now.Sub(p.LastSeen) > staleAfter {
			out = append(out, *p)
		}
	}
	return out
}

// Snapshot returns every known peer, regardless of status.
func (t *MembershipTable) Snapshot() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// Get looks up a single peer by host/port.
func (t *MembershipTable) Get(host string, port int) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[peerID(host, port)]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}
