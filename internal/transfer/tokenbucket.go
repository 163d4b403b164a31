// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/fsio"
	"github.com/nishisan-dev/gossipxfer/internal/protocol"
	"github.com/nishisan-dev/gossipxfer/internal/ratelimit"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// TokenBucketOptions configures the rate-limited strategy. Tokens are
// counted in KiB: one token ≈ 1 KiB.
type TokenBucketOptions struct {
	Capacity   float64
	Rate       float64
	AckTimeout time.Duration
}

// TokenBucket paces each chunk against a shared-capacity bucket before
// emitting it, shrinking the chunk rather than blocking indefinitely when
// only a fraction of the ideal token count is available.
type TokenBucket struct {
	Codec   *crypto.Codec
	Logger  *slog.Logger
	Options TokenBucketOptions

	stats *stats.Transfer
}

func (tb *TokenBucket) Stats() *stats.Transfer { return tb.stats }

func (tb *TokenBucket) ackTimeout() time.Duration {
	if tb.Options.AckTimeout > 0 {
		return tb.Options.AckTimeout
	}
	return 5 * time.Second
}

// Send paces chunk emission against a token bucket: it requests
// tokens_needed = max(1, chunk_size/1024) tokens, sleeping up to the
// bucket's wait-time estimate, and shrinks the chunk to whatever is
// actually available once the cap is reached.
func (tb *TokenBucket) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tb.stats = stats.New("tokenbucket", path)
	bucket := ratelimit.New(tb.Options.Capacity, tb.Options.Rate)

	conn, err := dialTCP(ctx, host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	hs := protocol.Handshake{Filename: filepath.Base(path), FileSize: size}
	if err := protocol.WriteHandshake(conn, hs); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	for {
		nRead, readErr := f.Read(buf)
		if nRead > 0 {
			chunk := tb.throttledChunk(buf[:nRead], bucket)
			cipher, encErr := tb.Codec.Encrypt(chunk)
			if encErr != nil {
				tb.stats.RecordError()
				return xfererr.New(xfererr.KindProtocol, "transfer.TokenBucket.Send", encErr)
			}
			if err := protocol.WriteFrame(conn, cipher); err != nil {
				tb.stats.RecordError()
				return err
			}
			if err := awaitByteAck(conn, tb.ackTimeout()); err != nil {
				tb.stats.RecordError()
				return err
			}
			tb.stats.RecordChunk(len(chunk))

			// Unread bytes (the chunk was shrunk to available tokens) are
			// pushed back by rewinding the read offset.
			if len(chunk) < nRead {
				if _, err := f.Seek(int64(len(chunk)-nRead), io.SeekCurrent); err != nil {
					return xfererr.New(xfererr.KindIO, "transfer.TokenBucket.Send", err)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tb.stats.RecordError()
			return xfererr.New(xfererr.KindIO, "transfer.TokenBucket.Send", readErr)
		}
	}

	tb.stats.Finish()
	tb.Logger.Info("tokenbucket transfer sent", "path", path, "bytes", tb.stats.BytesTransferred)
	return nil
}

// throttledChunk blocks for the bucket's estimated wait time, then
// consumes as many tokens as are available up to tokensNeeded, shrinking
// the chunk to match when the bucket cannot grant the full amount.
func (tb *TokenBucket) throttledChunk(chunk []byte, bucket *ratelimit.TokenBucket) []byte {
	tokensNeeded := tokensFor(len(chunk))

	if bucket.TryConsume(tokensNeeded) {
		return chunk
	}

	wait := bucket.WaitTimeFor(tokensNeeded)
	if wait > 0 {
		time.Sleep(wait)
	}
	if bucket.TryConsume(tokensNeeded) {
		return chunk
	}

	available := bucket.Available()
	if available < 1 {
		return chunk[:0]
	}
	shrunk := int(available * 1024)
	if shrunk > len(chunk) {
		shrunk = len(chunk)
	}
	if shrunk < 1 {
		shrunk = 1
	}
	bucket.TryConsume(tokensFor(shrunk))
	return chunk[:shrunk]
}

func tokensFor(chunkSize int) float64 {
	t := float64(chunkSize) / 1024.0
	if t < 1 {
		t = 1
	}
	return t
}

// Receive rate-limits symmetrically with a soft wait capped at 100ms and
// ACKs each record with a single '1' byte.
func (tb *TokenBucket) Receive(ctx context.Context, host string, port int) (Result, error) {
	ln, err := listenTCP(host, port)
	if err != nil {
		return Result{}, err
	}
	defer ln.Close()

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	hs, err := protocol.ReadHandshake(conn)
	if err != nil {
		return Result{}, err
	}

	tb.stats = stats.New("tokenbucket", hs.Filename)
	bucket := ratelimit.New(tb.Options.Capacity, tb.Options.Rate)

	out, err := fsio.CreateForWrite(fsio.ReceivedName(hs.Filename))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var received int64
	for received < hs.FileSize {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			tb.stats.RecordError()
			return Result{}, err
		}
		plain, err := tb.Codec.Decrypt(record)
		if err != nil {
			tb.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.TokenBucket.Receive", err)
		}

		wait := bucket.WaitTimeFor(tokensFor(len(plain)))
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if wait > 0 {
			time.Sleep(wait)
		}
		bucket.TryConsume(tokensFor(len(plain)))

		if _, err := out.Write(plain); err != nil {
			tb.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindIO, "transfer.TokenBucket.Receive", err)
		}
		if _, err := conn.Write([]byte{'1'}); err != nil {
			tb.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindIO, "transfer.TokenBucket.Receive", err)
		}

		received += int64(len(plain))
		tb.stats.RecordChunk(len(plain))
	}

	tb.stats.Finish()
	tb.Logger.Info("tokenbucket transfer received", "filename", hs.Filename, "bytes", received)
	return Result{OK: true, Filename: hs.Filename}, nil
}

func awaitByteAck(conn io.ReadWriteCloser, timeout time.Duration) error {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if d, ok := conn.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return xfererr.New(xfererr.KindTimeout, "transfer.awaitByteAck", err)
	}
	if ack[0] != '1' {
		return xfererr.Newf(xfererr.KindProtocol, "transfer.awaitByteAck", "unexpected ack byte %q", ack[0])
	}
	return nil
}
