// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/fsio"
	"github.com/nishisan-dev/gossipxfer/internal/netutil"
	"github.com/nishisan-dev/gossipxfer/internal/protocol"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

const (
	parallelConnectAttempts = 3
	parallelConnectBackoff  = 1 * time.Second
)

// ParallelOptions configures the multi-stream strategy.
type ParallelOptions struct {
	Streams int
	// BytesPerSecond, when positive, paces each substream's writer the way
	// the teacher's ThrottledWriter paces a single connection.
	BytesPerSecond int64
}

// Parallel splits a file into N equal ranges and drives one stream per
// range to target_port+i, reassembling by ascending start offset on the
// receiving side.
type Parallel struct {
	Codec   *crypto.Codec
	Logger  *slog.Logger
	Options ParallelOptions

	stats *stats.Transfer
}

func (p *Parallel) Stats() *stats.Transfer { return p.stats }

func (p *Parallel) streamCount() int {
	if p.Options.Streams > 0 {
		return p.Options.Streams
	}
	return 4
}

// Send opens N substreams against host:[port, port+N), each carrying its
// equal-sized range (the last absorbing any remainder), with up to 3
// connect attempts, 1s apart, per substream.
func (p *Parallel) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	f.Close()

	p.stats = stats.New("parallel", path)
	n := p.streamCount()
	ranges := splitRanges(size, n)

	var wg sync.WaitGroup
	errCh := make(chan error, n)

	for i, r := range ranges {
		wg.Add(1)
		go func(i int, r byteRange) {
			defer wg.Done()
			if err := p.sendRange(ctx, path, filepath.Base(path), host, port+i, r); err != nil {
				errCh <- err
			}
		}(i, r)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			p.stats.RecordError()
			return err
		}
	}

	p.stats.Finish()
	p.Logger.Info("parallel transfer sent", "path", path, "streams", n, "bytes", p.stats.BytesTransferred)
	return nil
}

func (p *Parallel) sendRange(ctx context.Context, path, filename, host string, port int, r byteRange) error {
	f, _, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(r.start, io.SeekStart); err != nil {
		return xfererr.New(xfererr.KindIO, "transfer.Parallel.sendRange", err)
	}

	conn, err := dialWithRetry(ctx, host, port, parallelConnectAttempts, parallelConnectBackoff)
	if err != nil {
		return err
	}
	defer conn.Close()

	header := protocol.ParallelHeader{Filename: filename, Start: r.start, End: r.end}
	if err := protocol.WriteFrame(conn, []byte(header.Encode())); err != nil {
		return err
	}
	ack, err := protocol.ReadFrame(conn)
	if err != nil {
		return err
	}
	if string(ack) != "OK" {
		return xfererr.Newf(xfererr.KindProtocol, "transfer.Parallel.sendRange", "expected OK for substream header, got %q", ack)
	}

	// A throttled wrapper bounds this substream's burst rate to the
	// configured budget, the way the teacher's ThrottledWriter smooths a
	// single backup stream's connection-level writes.
	pacedConn := netutil.NewThrottledWriter(ctx, conn, p.Options.BytesPerSecond)

	remaining := r.end - r.start
	buf := make([]byte, ChunkSize)
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		nRead, readErr := f.Read(buf[:want])
		if nRead > 0 {
			cipher, encErr := p.Codec.Encrypt(buf[:nRead])
			if encErr != nil {
				return xfererr.New(xfererr.KindProtocol, "transfer.Parallel.sendRange", encErr)
			}
			if err := protocol.WriteFrame(pacedConn, cipher); err != nil {
				return err
			}
			if err := awaitByteOK(conn); err != nil {
				return err
			}
			p.stats.RecordChunk(nRead)
			remaining -= int64(nRead)
		}
		if readErr != nil && readErr != io.EOF {
			return xfererr.New(xfererr.KindIO, "transfer.Parallel.sendRange", readErr)
		}
		if readErr == io.EOF {
			break
		}
	}
	return nil
}

func awaitByteOK(conn io.Reader) error {
	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return xfererr.New(xfererr.KindIO, "transfer.awaitByteOK", err)
	}
	if ack[0] != 'O' {
		return xfererr.Newf(xfererr.KindProtocol, "transfer.awaitByteOK", "unexpected substream ack byte %q", ack[0])
	}
	return nil
}

// Receive binds N listening sockets at host:[port, port+N) and, once every
// substream has finished, concatenates the spilled chunk files in
// ascending start order into received_<filename>.
func (p *Parallel) Receive(ctx context.Context, host string, port int) (Result, error) {
	n := p.streamCount()
	p.stats = stats.New("parallel", "")

	type substreamResult struct {
		header protocol.ParallelHeader
		err    error
	}
	results := make([]substreamResult, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			header, err := p.receiveRange(ctx, host, port+i, i)
			results[i] = substreamResult{header, err}
		}(i)
	}
	wg.Wait()

	var filename string
	for _, r := range results {
		if r.err != nil {
			return Result{}, r.err
		}
		if filename == "" {
			filename = r.header.Filename
		}
	}

	out, err := fsio.CreateForWrite(fsio.ReceivedName(filename))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	for i := 0; i < n; i++ {
		chunkPath := fsio.ChunkName(i, filename)
		chunk, _, err := fsio.OpenRead(chunkPath)
		if err != nil {
			return Result{}, err
		}
		if _, err := fsio.Concatenate(out, chunk); err != nil {
			chunk.Close()
			return Result{}, err
		}
		chunk.Close()
	}

	p.stats.Finish()
	p.Logger.Info("parallel transfer received", "filename", filename, "streams", n)
	return Result{OK: true, Filename: filename}, nil
}

func (p *Parallel) receiveRange(ctx context.Context, host string, port, index int) (protocol.ParallelHeader, error) {
	ln, err := listenTCP(host, port)
	if err != nil {
		return protocol.ParallelHeader{}, err
	}
	defer ln.Close()

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return protocol.ParallelHeader{}, err
	}
	defer conn.Close()

	raw, err := protocol.ReadFrame(conn)
	if err != nil {
		return protocol.ParallelHeader{}, err
	}
	header, err := protocol.ParseParallelHeader(string(raw))
	if err != nil {
		return protocol.ParallelHeader{}, xfererr.New(xfererr.KindProtocol, "transfer.Parallel.receiveRange", err)
	}
	if err := protocol.WriteFrame(conn, []byte("OK")); err != nil {
		return protocol.ParallelHeader{}, err
	}

	out, err := fsio.CreateForWrite(fsio.ChunkName(index, header.Filename))
	if err != nil {
		return protocol.ParallelHeader{}, err
	}
	defer out.Close()

	want := header.End - header.Start
	var received int64
	for received < want {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			return protocol.ParallelHeader{}, err
		}
		plain, err := p.Codec.Decrypt(record)
		if err != nil {
			return protocol.ParallelHeader{}, xfererr.New(xfererr.KindProtocol, "transfer.Parallel.receiveRange", err)
		}
		if _, err := out.Write(plain); err != nil {
			return protocol.ParallelHeader{}, xfererr.New(xfererr.KindIO, "transfer.Parallel.receiveRange", err)
		}
		if _, err := conn.Write([]byte{'O'}); err != nil {
			return protocol.ParallelHeader{}, xfererr.New(xfererr.KindIO, "transfer.Parallel.receiveRange", err)
		}
		received += int64(len(plain))
		p.stats.RecordChunk(len(plain))
	}
	return header, nil
}

type byteRange struct {
	start, end int64
}

func splitRanges(size int64, n int) []byteRange {
	if n < 1 {
		n = 1
	}
	ranges := make([]byteRange, n)
	base := size / int64(n)
	var offset int64
	for i := 0; i < n; i++ {
		end := offset + base
		if i == n-1 {
			end = size
		}
		ranges[i] = byteRange{start: offset, end: end}
		offset = end
	}
	return ranges
}

func dialWithRetry(ctx context.Context, host string, port int, attempts int, backoff time.Duration) (io.ReadWriteCloser, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := dialTCP(ctx, host, port)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, xfererr.New(xfererr.KindTimeout, "transfer.dialWithRetry", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, xfererr.New(xfererr.KindPeerUnreachable, "transfer.dialWithRetry", lastErr)
}
