// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gossip

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var mockAddr = net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19999}

func marshalForTest(v any) ([]byte, error) {
	return json.Marshal(v)
}

func newTestDiscovery(t *testing.T, port int) *Discovery {
	t.Helper()
	d := New(Options{
		Host:           "127.0.0.1",
		Port:           port,
		GossipInterval: 50 * time.Millisecond,
		MaxRetries:     3,
		Timeout:        100 * time.Millisecond,
	}, testLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDiscovery_JoinNetworkMergesPeers(t *testing.T) {
	bootstrap := newTestDiscovery(t, 19100)
	joiner := newTestDiscovery(t, 19101)

	bootstrap.table.Upsert("127.0.0.1", 19102)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := joiner.JoinNetwork(ctx, "127.0.0.1", 19100); err != nil {
		t.Fatalf("JoinNetwork() error = %v", err)
	}

	if _, ok := joiner.table.Get("127.0.0.1", 19102); !ok {
		t.Error("joiner did not learn bootstrap's known peer")
	}
	if _, ok := bootstrap.table.Get("127.0.0.1", 19101); !ok {
		t.Error("bootstrap did not record joiner as a peer")
	}
}

func TestDiscovery_JoinNetworkFailsAgainstDeadPort(t *testing.T) {
	joiner := newTestDiscovery(t, 19103)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := joiner.JoinNetwork(ctx, "127.0.0.1", 19999); err == nil {
		t.Error("expected JoinNetwork to a dead port to fail")
	}
}

func TestDiscovery_HandleGossipDiscardsOutdatedMessage(t *testing.T) {
	d := newTestDiscovery(t, 19104)

	msg := GossipMessage{
		Type:      TypeGossip,
		Source:    Addr{Host: "127.0.0.1", Port: 19105},
		Peers:     []PeerDTO{{Host: "127.0.0.1", Port: 19106}},
		Timestamp: nowUnix() - 1000,
	}
	b, _ := marshalForTest(msg)
	d.handleDatagram(b, &mockAddr)

	if _, ok := d.table.Get("127.0.0.1", 19105); ok {
		t.Error("expected outdated gossip message to be discarded, but source was recorded")
	}
}

func TestDiscovery_HandleGossipAcceptsFreshMessage(t *testing.T) {
	d := newTestDiscovery(t, 19107)

	msg := GossipMessage{
		Type:      TypeGossip,
		Source:    Addr{Host: "127.0.0.1", Port: 19108},
		Peers:     nil,
		Timestamp: nowUnix(),
	}
	b, _ := marshalForTest(msg)
	d.handleDatagram(b, &mockAddr)

	if _, ok := d.table.Get("127.0.0.1", 19108); !ok {
		t.Error("expected fresh gossip message source to be upserted")
	}
}

func TestDiscovery_SeenRecentlyDedupsMessageID(t *testing.T) {
	d := newTestDiscovery(t, 19109)

	if d.seenRecently("abc123") {
		t.Fatal("first sighting of id should not be seen")
	}
	if !d.seenRecently("abc123") {
		t.Error("second sighting of same id should be deduped")
	}
}

func TestDiscovery_SeenRecentlyEmptyIDNeverDeduped(t *testing.T) {
	d := newTestDiscovery(t, 19110)

	if d.seenRecently("") {
		t.Error("empty id should never be treated as seen")
	}
	if d.seenRecently("") {
		t.Error("empty id should never be treated as seen, even on repeat")
	}
}

func TestDiscovery_GossipRoundPropagatesPeerList(t *testing.T) {
	a := newTestDiscovery(t, 19111)
	b := newTestDiscovery(t, 19112)

	a.table.Upsert("127.0.0.1", 19112)
	a.table.Upsert("127.0.0.1", 19113)
	b.table.Upsert("127.0.0.1", 19111)

	a.runGossipRound()

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.table.Get("127.0.0.1", 19113); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected b to learn about peer 19113 via gossip from a")
}
