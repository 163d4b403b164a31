// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"

	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/fsio"
	"github.com/nishisan-dev/gossipxfer/internal/protocol"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// Normal is the baseline strategy: one reliable stream, 8 KiB encrypted
// chunks, length-prefixed framing. No pacing, no congestion control.
type Normal struct {
	Codec  *crypto.Codec
	Logger *slog.Logger

	stats *stats.Transfer
}

func (n *Normal) Stats() *stats.Transfer { return n.stats }

// Send dials host:port, performs the handshake, then streams the file in
// ChunkSize-sized encrypted records.
func (n *Normal) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n.stats = stats.New("normal", path)

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
			cipher, encErr := n.Codec.Encrypt(buf[:nRead])
			if encErr != nil {
				n.stats.RecordError()
				return xfererr.New(xfererr.KindProtocol, "transfer.Normal.Send", encErr)
			}
			if err := protocol.WriteFrame(conn, cipher); err != nil {
				n.stats.RecordError()
				return err
			}
			n.stats.RecordChunk(nRead)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			n.stats.RecordError()
			return xfererr.New(xfererr.KindIO, "transfer.Normal.Send", readErr)
		}
	}

	n.stats.Finish()
	n.Logger.Info("normal transfer sent", "path", path, "bytes", n.stats.BytesTransferred)
	return nil
}

// Receive accepts one inbound connection, reads the handshake, and writes
// decrypted chunks to received_<basename> until file_size bytes have
// arrived.
func (n *Normal) Receive(ctx context.Context, host string, port int) (Result, error) {
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

	n.stats = stats.New("normal", hs.Filename)

	out, err := fsio.CreateForWrite(fsio.ReceivedName(hs.Filename))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var received int64
	for received < hs.FileSize {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			n.stats.RecordError()
			return Result{}, err
		}
		plain, err := n.Codec.Decrypt(record)
		if err != nil {
			n.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.Normal.Receive", err)
		}
		if _, err := out.Write(plain); err != nil {
			n.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindIO, "transfer.Normal.Receive", err)
		}
		received += int64(len(plain))
		n.stats.RecordChunk(len(plain))
	}

	n.stats.Finish()
	n.Logger.Info("normal transfer received", "filename", hs.Filename, "bytes", received)
	return Result{OK: true, Filename: hs.Filename}, nil
}

func dialTCP(ctx context.Context, host string, port int) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, xfererr.New(xfererr.KindPeerUnreachable, "transfer.dialTCP", err)
	}
	return conn, nil
}

func listenTCP(host string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, xfererr.New(xfererr.KindIO, "transfer.listenTCP", err)
	}
	return ln, nil
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		ln.Close()
		<-ch
		return nil, xfererr.New(xfererr.KindTimeout, "transfer.acceptOne", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, xfererr.New(xfererr.KindIO, "transfer.acceptOne", r.err)
		}
		return r.conn, nil
	}
}
