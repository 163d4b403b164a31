// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gossip

// Message type discriminants.
const (
	TypeGossip          = "gossip"
	TypeJoin            = "join"
	TypeJoinAck         = "join_ack"
	TypeHealthCheck     = "health_check"
	TypeHealthCheckAck  = "health_check_ack"
)

// Addr is the {host, port} pair embedded in wire messages.
type Addr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PeerDTO is the wire representation of one Peer entry inside a gossip or
// join_ack message.
type PeerDTO struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	LastSeen       float64 `json:"last_seen"`
	Status         string  `json:"status"`
	FailedAttempts int     `json:"failed_attempts"`
	RTT            float64 `json:"rtt"`
	Reliability    float64 `json:"reliability"`
}

// envelope is embedded to read the type discriminant before fully
// decoding a datagram into its concrete message type.
type envelope struct {
	Type string `json:"type"`
}

// GossipMessage carries a push of the sender's active-peer view.
type GossipMessage struct {
	Type      string    `json:"type"`
	Source    Addr      `json:"source"`
	Peers     []PeerDTO `json:"peers"`
	Timestamp float64   `json:"timestamp"`
}

// JoinMessage is sent by a node bootstrapping into the mesh.
type JoinMessage struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Peer      Addr    `json:"peer"`
	Timestamp float64 `json:"timestamp"`
}

// JoinAck answers a JoinMessage with the responder's active peers.
type JoinAck struct {
	Type  string    `json:"type"`
	Peers []PeerDTO `json:"peers"`
}

// HealthCheckMessage probes a quiet peer's liveness.
type HealthCheckMessage struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Source    Addr    `json:"source"`
	Timestamp float64 `json:"timestamp"`
}

// HealthCheckAck answers a HealthCheckMessage, optionally enriched with
// local system load so the asker can weigh more than a boolean signal.
type HealthCheckAck struct {
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Timestamp   float64  `json:"timestamp"`
	CPUPercent  *float64 `json:"cpu_percent,omitempty"`
	MemoryPct   *float64 `json:"memory_percent,omitempty"`
	LoadAverage *float64 `json:"load_average,omitempty"`
}
