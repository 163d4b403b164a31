// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestTokenBucket_EndToEnd10KiB(t *testing.T) {
	chdirTemp(t)
	codec := testCodec(t)
	path := writeRandomFile(t, 10*1024)
	want := readFile(t, path)
	port := 20110

	opts := TokenBucketOptions{Capacity: 1024, Rate: 512, AckTimeout: 2 * time.Second}
	sender := &TokenBucket{Codec: codec, Logger: testLogger(), Options: opts}
	receiver := &TokenBucket{Codec: codec, Logger: testLogger(), Options: opts}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recvDone := make(chan Result, 1)
	recvErr := make(chan error, 1)
	go func() {
		res, err := receiver.Receive(ctx, "127.0.0.1", port)
		recvDone <- res
		recvErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := sender.Send(ctx, path, "127.0.0.1", port); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	elapsed := time.Since(start)

	res := <-recvDone
	if err := <-recvErr; err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	got := readFile(t, "received_"+res.Filename)
	if !bytes.Equal(got, want) {
		t.Error("received bytes do not match source")
	}

	// Tokens are KiB, so the 1024-token bucket covers this 10 KiB file in
	// its initial burst; the check bounds the average rate at four times
	// the 512 KiB/s refill rate.
	avgRateKBps := float64(len(want)) / 1024.0 / elapsed.Seconds()
	if avgRateKBps > 512*4 {
		t.Errorf("average rate %.1f KiB/s exceeds rate limit with generous tolerance", avgRateKBps)
	}
}
