// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stats

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestTransfer_RecordChunkAccumulates(t *testing.T) {
	tr := New("normal", "test_1024.txt")
	tr.RecordChunk(1024)
	tr.RecordChunk(2048)

	if tr.BytesTransferred != 3072 {
		t.Errorf("BytesTransferred = %d, want 3072", tr.BytesTransferred)
	}
	if tr.ChunksSent != 2 {
		t.Errorf("ChunksSent = %d, want 2", tr.ChunksSent)
	}
}

func TestTransfer_WriteJSON(t *testing.T) {
	dir := t.TempDir()
	tr := New("aimd", "payload.bin")
	tr.RecordChunk(8192)
	tr.RecordCongestionEvent(2, 1, 3, 1500*time.Millisecond)
	tr.Finish()

	path, err := tr.WriteJSON(dir)
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.HasSuffix(path, "transfer_stats_payload.bin.json") {
		t.Errorf("unexpected path: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stats file: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["mode"] != "aimd" {
		t.Errorf("mode = %v, want aimd", got["mode"])
	}
	if got["timeouts"].(float64) != 2 {
		t.Errorf("timeouts = %v, want 2", got["timeouts"])
	}
}

func TestTransfer_WriteBandwidthCSV(t *testing.T) {
	dir := t.TempDir()
	tr := New("aimd", "f.bin")
	tr.RecordRateSample(RateSample{ElapsedSeconds: 0.5, BandwidthKBps: 120.0, ChunkSize: 1024, Window: 1024})
	tr.RecordRateSample(RateSample{ElapsedSeconds: 1.0, BandwidthKBps: 150.0, ChunkSize: 1024, Window: 2048})

	path, err := tr.WriteBandwidthCSV(dir)
	if err != nil {
		t.Fatalf("WriteBandwidthCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "Time(s)") || !strings.Contains(lines[0], "Bandwidth(KB/s)") {
		t.Errorf("unexpected header: %s", lines[0])
	}
}

func TestTransfer_AverageRateKBps(t *testing.T) {
	tr := New("normal", "f")
	tr.StartTime = time.Now().Add(-2 * time.Second)
	tr.RecordChunk(2048)
	tr.Finish()

	rate := tr.AverageRateKBps()
	if rate <= 0 {
		t.Errorf("expected positive average rate, got %v", rate)
	}
}
