// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stats tracks per-transfer timing, throughput, and error counts,
// and serialises them on completion to the formats external drivers (the
// CLI, dashboards) read.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// RateSample is one point in a transfer's rate/window timeline, the data
// behind the original's live console feed (see transfer.AIMD).
type RateSample struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	BandwidthKBps  float64 `json:"bandwidth_kbps"`
	ChunkSize      int     `json:"chunk_size"`
	Window         int     `json:"window,omitempty"`
}

// Transfer accumulates statistics for one transfer, owned exclusively by
// the goroutine driving it and snapshotted for serialisation on
// completion.
type Transfer struct {
	mu sync.Mutex

	Mode      string
	Filename  string
	StartTime time.Time
	EndTime   time.Time

	BytesTransferred int64
	ChunksSent       int64
	Retries          int64
	Errors           int64

	Timeouts         int64
	FastRetransmits  int64
	TotalRetransmits int64
	FinalRTO         time.Duration

	rateHistory []RateSample
}

// New starts a Transfer clock for mode/filename.
func New(mode, filename string) *Transfer {
	return &Transfer{
		Mode:      mode,
		Filename:  filename,
		StartTime: time.Now(),
	}
}

// RecordChunk accounts for one chunk of n bytes sent or received.
func (t *Transfer) RecordChunk(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BytesTransferred += int64(n)
	t.ChunksSent++
}

// RecordRetry increments the retry counter (used by strategies without
// dedicated AIMD congestion counters, e.g. Parallel's connect retries).
func (t *Transfer) RecordRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Retries++
}

// RecordError increments the error counter.
func (t *Transfer) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Errors++
}

// RecordCongestionEvent folds the AIMD controller's counters into the
// transfer's stats; called periodically or on completion.
func (t *Transfer) RecordCongestionEvent(timeouts, fastRetransmits, totalRetransmits int, rto time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Timeouts = int64(timeouts)
	t.FastRetransmits = int64(fastRetransmits)
	t.TotalRetransmits = int64(totalRetransmits)
	t.FinalRTO = rto
}

// RecordRateSample appends one point to the running rate/window timeline.
func (t *Transfer) RecordRateSample(s RateSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rateHistory = append(t.rateHistory, s)
}

// Finish stamps the end time. Call once, when the transfer completes or
// fails.
func (t *Transfer) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
}

// Duration returns elapsed time between start and (end, or now if not yet
// finished).
func (t *Transfer) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.StartTime)
}

// AverageRateKBps returns the mean throughput over the transfer's elapsed
// duration.
func (t *Transfer) AverageRateKBps() float64 {
	d := t.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	t.mu.Lock()
	bytes := t.BytesTransferred
	t.mu.Unlock()
	return float64(bytes) / 1024.0 / d
}

// snapshot is the JSON-serialisable view of a Transfer, matching the
// transfer_stats_<filename>.json schema.
type snapshot struct {
	Mode             string       `json:"mode"`
	Filename         string       `json:"filename"`
	StartTime        string       `json:"start_time"`
	EndTime          string       `json:"end_time"`
	DurationSeconds  float64      `json:"duration_seconds"`
	BytesTransferred int64        `json:"bytes_transferred"`
	ChunksSent       int64        `json:"chunks_sent"`
	Retries          int64        `json:"retries"`
	Errors           int64        `json:"errors"`
	Timeouts         int64        `json:"timeouts"`
	FastRetransmits  int64        `json:"fast_retransmits"`
	TotalRetransmits int64        `json:"total_retransmits"`
	FinalRTOSeconds  float64      `json:"final_rto_seconds"`
	RateHistory      []RateSample `json:"rate_history"`
}

// WriteJSON persists the transfer's snapshot to
// transfer_stats_<filename>.json inside dir.
func (t *Transfer) WriteJSON(dir string) (string, error) {
	t.mu.Lock()
	end := t.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	snap := snapshot{
		Mode:             t.Mode,
		Filename:         t.Filename,
		StartTime:        t.StartTime.Format(time.RFC3339),
		DurationSeconds:  end.Sub(t.StartTime).Seconds(),
		BytesTransferred: t.BytesTransferred,
		ChunksSent:       t.ChunksSent,
		Retries:          t.Retries,
		Errors:           t.Errors,
		Timeouts:         t.Timeouts,
		FastRetransmits:  t.FastRetransmits,
		TotalRetransmits: t.TotalRetransmits,
		FinalRTOSeconds:  t.FinalRTO.Seconds(),
		RateHistory:      append([]RateSample{}, t.rateHistory...),
	}
	if !t.EndTime.IsZero() {
		snap.EndTime = t.EndTime.Format(time.RFC3339)
	}
	t.mu.Unlock()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transfer stats: %w", err)
	}

	path := fmt.Sprintf("%s/transfer_stats_%s.json", dir, snap.Filename)
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", fmt.Errorf("writing transfer stats: %w", err)
	}
	return path, nil
}

// WriteBandwidthCSV persists the AIMD rate history to bandwidth_stats.csv
// inside dir, with header "Time(s),Bandwidth(KB/s)".
func (t *Transfer) WriteBandwidthCSV(dir string) (string, error) {
	t.mu.Lock()
	history := append([]RateSample{}, t.rateHistory...)
	t.mu.Unlock()

	path := dir + "/bandwidth_stats.csv"
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating bandwidth csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Time(s)", "Bandwidth(KB/s)"}); err != nil {
		return "", fmt.Errorf("writing bandwidth csv header: %w", err)
	}
	for _, s := range history {
		row := []string{
			strconv.FormatFloat(s.ElapsedSeconds, 'f', 3, 64),
			strconv.FormatFloat(s.BandwidthKBps, 'f', 3, 64),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("writing bandwidth csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing bandwidth csv: %w", err)
	}
	return path, nil
}
