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
	"github.com/nishisan-dev/gossipxfer/internal/qos"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// QoSOptions configures one QoS-scheduled transfer.
type QoSOptions struct {
	TransferID string
	Priority   qos.Priority
}

// QoS shares the Normal strategy's framing but paces every chunk against a
// process-wide weighted-bandwidth allocation, registering and
// deregistering itself with the shared Manager around the transfer's
// lifetime.
type QoS struct {
	Codec   *crypto.Codec
	Logger  *slog.Logger
	Manager *qos.Manager
	Options QoSOptions

	stats *stats.Transfer
}

func (q *QoS) Stats() *stats.Transfer { return q.stats }

// Send registers Options.Priority with the manager, paces each chunk by
// chunk_size/min_bandwidth seconds, and deregisters on completion so the
// manager can reallocate the freed share.
func (q *QoS) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	q.stats = stats.New("qos", path)
	q.Manager.Add(q.Options.TransferID, q.Options.Priority)
	defer q.Manager.Remove(q.Options.TransferID)

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
			bandwidth := q.Manager.Bandwidth(q.Options.TransferID)
			if bandwidth > 0 {
				pace := time.Duration(float64(nRead) / float64(bandwidth) * float64(time.Second))
				select {
				case <-ctx.Done():
					return xfererr.New(xfererr.KindTimeout, "transfer.QoS.Send", ctx.Err())
				case <-time.After(pace):
				}
			}

			cipher, encErr := q.Codec.Encrypt(buf[:nRead])
			if encErr != nil {
				q.stats.RecordError()
				return xfererr.New(xfererr.KindProtocol, "transfer.QoS.Send", encErr)
			}
			if err := protocol.WriteFrame(conn, cipher); err != nil {
				q.stats.RecordError()
				return err
			}
			q.stats.RecordChunk(nRead)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			q.stats.RecordError()
			return xfererr.New(xfererr.KindIO, "transfer.QoS.Send", readErr)
		}
	}

	q.stats.Finish()
	q.Logger.Info("qos transfer sent", "path", path, "level", q.Options.Priority.Level, "bytes", q.stats.BytesTransferred)
	return nil
}

// Receive registers Options.Priority with the manager for the duration of
// the transfer, same as Send, even though pacing itself is a sender-side
// concern; this keeps the manager's view of concurrent QoS transfers
// accurate from both ends of a connection.
func (q *QoS) Receive(ctx context.Context, host string, port int) (Result, error) {
	ln, err := listenTCP(host, port)
	if err != nil {
		return Result{}, err
	}
	defer ln.Close()

	q.Manager.Add(q.Options.TransferID, q.Options.Priority)
	defer q.Manager.Remove(q.Options.TransferID)

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	hs, err := protocol.ReadHandshake(conn)
	if err != nil {
		return Result{}, err
	}

	q.stats = stats.New("qos", hs.Filename)

	out, err := fsio.CreateForWrite(fsio.ReceivedName(hs.Filename))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var received int64
	for received < hs.FileSize {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			q.stats.RecordError()
			return Result{}, err
		}
		plain, err := q.Codec.Decrypt(record)
		if err != nil {
			q.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.QoS.Receive", err)
		}
		if _, err := out.Write(plain); err != nil {
			q.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindIO, "transfer.QoS.Receive", err)
		}
		received += int64(len(plain))
		q.stats.RecordChunk(len(plain))
	}

	q.stats.Finish()
	q.Logger.Info("qos transfer received", "filename", hs.Filename, "bytes", received)
	return Result{OK: true, Filename: hs.Filename}, nil
}
