// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimit implements the lazy-refill token bucket used by the
// TokenBucket transfer strategy. Its try-consume/wait-time
// contract is distinct from golang.org/x/time/rate's reservation API (used
// elsewhere for connection-level pacing, see internal/netutil), and is
// load-bearing for the bucket-monotonicity invariant: tokens never exceed
// capacity and never go negative.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is not safe for unsynchronized concurrent use from outside;
// a strategy instance owns one bucket and serialises access within its own
// send loop, matching the original's single-threaded-per-transfer model.
// An internal mutex is still kept since a strategy may read Tokens() from
// a stats-reporting goroutine concurrently with the send loop mutating it.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64 // tokens per second
	tokens     float64
	lastUpdate time.Time
}

// New creates a bucket starting full, with the given capacity and refill
// rate (tokens/second). Tokens are application-chosen units; the transfer
// strategies use "1 token ≈ 1 KiB".
func New(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		rate:       rate,
		tokens:     capacity,
		lastUpdate: time.Now(),
	}
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastUpdate = now
}

// TryConsume refills the bucket for elapsed time, then atomically debits n
// tokens and returns true, or leaves state unchanged and returns false.
func (b *TokenBucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// WaitTimeFor returns how long to wait, after an implicit refill, before n
// tokens would be available: max(0, (n - tokens) / rate).
func (b *TokenBucket) WaitTimeFor(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens >= n {
		return 0
	}
	if b.rate <= 0 {
		return time.Duration(1<<63 - 1) // effectively forever
	}
	secs := (n - b.tokens) / b.rate
	return time.Duration(secs * float64(time.Second))
}

// Available returns the current token count after an implicit refill, for
// callers (e.g. the sender shrinking a chunk to whatever is available)
// that need to know without consuming.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return b.tokens
}

// Capacity returns the bucket's configured capacity.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}
