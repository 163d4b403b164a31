// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package netutil

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds the rate limiter burst to 256 KiB regardless of the
// configured rate, so a paced writer never reserves an unbounded burst.
const maxBurstSize = 256 * 1024

// ThrottledWriter is an io.Writer that paces writes to a byte/sec budget
// using a token-bucket rate limiter. It sits underneath the Parallel
// strategy's per-substream sockets, distinct from the hand-rolled ratelimit.TokenBucket used for the
// TokenBucket strategy's try-consume/wait-time contract.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter returns a writer capped at bytesPerSec. A non-positive
// bytesPerSec disables throttling and returns w unchanged.
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer, splitting writes larger than the burst size
// so tokens are consumed gradually instead of in one oversized reservation.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
