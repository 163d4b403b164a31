// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transfer implements the six pluggable send/receive strategies
// that move an encrypted file between two peers over a reliable stream:
// Normal, TokenBucket, AIMD, Parallel, QoS, and Multicast. Every strategy
// shares the same two-method contract so the orchestrator can dispatch on
// a selected mode without a bag-of-kwargs signature.
package transfer

import (
	"context"

	"github.com/nishisan-dev/gossipxfer/internal/stats"
)

// ChunkSize is the unit of work for every framed, chunked strategy.
const ChunkSize = 8 * 1024

// Result reports the outcome of a Receive call.
type Result struct {
	OK       bool
	Filename string
}

// Strategy is the common contract every transport implements. Send reads
// path from disk, connects to host:port, and drives a transfer to
// completion. Receive listens (or otherwise accepts an inbound transfer,
// depending on the mode's listening contract) and writes the result to
// disk as received_<Result.Filename>, where Result.Filename is the sent
// file's basename (Multicast prefixes it with the sender's address).
type Strategy interface {
	Send(ctx context.Context, path, host string, port int) error
	Receive(ctx context.Context, host string, port int) (Result, error)
	Stats() *stats.Transfer
}
