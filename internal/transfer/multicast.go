// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/fsio"
	"github.com/nishisan-dev/gossipxfer/internal/protocol"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// MulticastTarget is one (host, port) destination of a multicast send.
type MulticastTarget struct {
	Host string
	Port int
}

// MulticastOptions configures a one-to-many send.
type MulticastOptions struct {
	Targets []MulticastTarget
}

// Multicast encrypts the file once and spawns one worker per target, each
// driving a Normal-framed stream; overall success is the AND of every
// target's outcome.
type Multicast struct {
	Codec   *crypto.Codec
	Logger  *slog.Logger
	Options MulticastOptions

	stats *stats.Transfer
}

func (m *Multicast) Stats() *stats.Transfer { return m.stats }

// Send reads and encrypts the file into chunk records once, then fans
// those records out to one worker goroutine per target over a shared
// error channel keyed by target.
func (m *Multicast) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m.stats = stats.New("multicast", path)

	var records [][]byte
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			cipher, encErr := m.Codec.Encrypt(buf[:n])
			if encErr != nil {
				return xfererr.New(xfererr.KindProtocol, "transfer.Multicast.Send", encErr)
			}
			records = append(records, cipher)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return xfererr.New(xfererr.KindIO, "transfer.Multicast.Send", readErr)
		}
	}

	targets := m.Options.Targets
	if len(targets) == 0 {
		targets = []MulticastTarget{{Host: host, Port: port}}
	}

	type targetErr struct {
		target MulticastTarget
		err    error
	}
	errCh := make(chan targetErr, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target MulticastTarget) {
			defer wg.Done()
			err := m.sendToTarget(ctx, target, filepath.Base(path), size, records)
			errCh <- targetErr{target, err}
		}(target)
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for te := range errCh {
		if te.err != nil {
			m.stats.RecordError()
			m.Logger.Warn("multicast target failed", "target", fmt.Sprintf("%s:%d", te.target.Host, te.target.Port), "error", te.err)
			if firstErr == nil {
				firstErr = te.err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	m.stats.Finish()
	m.Logger.Info("multicast transfer sent", "path", path, "targets", len(targets))
	return nil
}

func (m *Multicast) sendToTarget(ctx context.Context, target MulticastTarget, filename string, size int64, records [][]byte) error {
	conn, err := dialTCP(ctx, target.Host, target.Port)
	if err != nil {
		return err
	}
	defer conn.Close()

	hs := protocol.Handshake{Filename: filename, FileSize: size}
	if err := protocol.WriteHandshake(conn, hs); err != nil {
		return err
	}

	for _, record := range records {
		if err := protocol.WriteFrame(conn, record); err != nil {
			return err
		}
		m.stats.RecordChunk(len(record))
	}
	return nil
}

// Receive binds one listening socket and writes the inbound stream to a
// file qualified by the sender's address to prevent collisions between
// concurrently arriving multicast streams.
func (m *Multicast) Receive(ctx context.Context, host string, port int) (Result, error) {
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

	m.stats = stats.New("multicast", hs.Filename)

	qualified := fmt.Sprintf("%s_%s", sourceQualifier(conn), hs.Filename)
	out, err := fsio.CreateForWrite(fsio.ReceivedName(qualified))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var received int64
	for received < hs.FileSize {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			m.stats.RecordError()
			return Result{}, err
		}
		plain, err := m.Codec.Decrypt(record)
		if err != nil {
			m.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.Multicast.Receive", err)
		}
		if _, err := out.Write(plain); err != nil {
			m.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindIO, "transfer.Multicast.Receive", err)
		}
		received += int64(len(plain))
		m.stats.RecordChunk(len(plain))
	}

	m.stats.Finish()
	m.Logger.Info("multicast transfer received", "filename", hs.Filename, "bytes", received)
	return Result{OK: true, Filename: qualified}, nil
}

// sourceQualifier turns a connection's remote address into a filename-safe
// qualifier (":" is not portable across filesystems).
func sourceQualifier(conn net.Conn) string {
	return strings.ReplaceAll(conn.RemoteAddr().String(), ":", "_")
}
