// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package orchestrator

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/gossipxfer/internal/config"
	"github.com/nishisan-dev/gossipxfer/internal/crypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCodec(t *testing.T) *crypto.Codec {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func testConfig(host string, port int) *config.Config {
	return &config.Config{
		Self:    config.SelfInfo{Host: host, Port: port},
		Default: config.DefaultInfo{Mode: "normal"},
		Gossip:  config.GossipInfo{Disabled: true},
		AIMD:    config.AIMDInfo{InitialWindow: 1024, MinWindow: 1024, MaxWindow: 64 * 1024},
		Parallel: config.ParallelInfo{Streams: 2},
		QoS:      config.QoSInfo{TotalBandwidth: 1_000_000},
		Logging:  config.LoggingInfo{Level: "info", Format: "text"},
	}
}

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestNode_SendFileAndReceiveFile_DefaultMode(t *testing.T) {
	chdirTemp(t)
	codec := testCodec(t)

	sender := New(testConfig("127.0.0.1", 30100), codec, testLogger())
	receiver := New(testConfig("127.0.0.1", 30101), codec, testLogger())

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	want := make([]byte, 2048)
	rand.Read(want)
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	port := 20200
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recvDone := make(chan struct{})
	var recvErr error
	go func() {
		defer close(recvDone)
		_, recvErr = receiver.ReceiveFile(ctx, "", "127.0.0.1", port)
	}()
	time.Sleep(50 * time.Millisecond)

	if err := sender.SendFile(ctx, "", path, "127.0.0.1", port); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}
	<-recvDone
	if recvErr != nil {
		t.Fatalf("ReceiveFile() error = %v", recvErr)
	}

	got, err := os.ReadFile("received_payload.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("received bytes do not match source")
	}

	snap := sender.Stats()
	if snap.SuccessfulTransfers != 1 {
		t.Errorf("SuccessfulTransfers = %d, want 1", snap.SuccessfulTransfers)
	}
	if snap.TotalBytesTransferred != int64(len(want)) {
		t.Errorf("TotalBytesTransferred = %d, want %d", snap.TotalBytesTransferred, len(want))
	}
}

func TestNode_SendFile_UnreachablePeerMarksFailureAndCounts(t *testing.T) {
	chdirTemp(t)
	codec := testCodec(t)
	sender := New(testConfig("127.0.0.1", 30102), codec, testLogger())

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sender.SendFile(ctx, "", path, "127.0.0.1", 1); err == nil {
		t.Fatal("expected SendFile to fail against an unreachable port")
	}

	snap := sender.Stats()
	if snap.FailedTransfers != 1 {
		t.Errorf("FailedTransfers = %d, want 1", snap.FailedTransfers)
	}
}

func TestNode_StrategyFor_UnknownModeRejected(t *testing.T) {
	codec := testCodec(t)
	node := New(testConfig("127.0.0.1", 30103), codec, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := node.SendFile(ctx, Mode("bogus"), "/nonexistent", "127.0.0.1", 1); err == nil {
		t.Fatal("expected an error for an unrecognized transfer mode")
	}
}

func TestNode_ListPeers_EmptyBeforeAnyGossip(t *testing.T) {
	codec := testCodec(t)
	node := New(testConfig("127.0.0.1", 30104), codec, testLogger())
	if peers := node.ListPeers(); len(peers) != 0 {
		t.Errorf("ListPeers() = %v, want empty", peers)
	}
}
