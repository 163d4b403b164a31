// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nishisan-dev/gossipxfer/internal/congestion"
	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/fsio"
	"github.com/nishisan-dev/gossipxfer/internal/protocol"
	"github.com/nishisan-dev/gossipxfer/internal/stats"
	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// pollInterval is how long the sender sleeps between non-blocking ACK
// channel polls while the window is full.
const pollInterval = 10 * time.Millisecond

// AIMD is the sliding-window congestion-controlled strategy: additive
// increase on new ACKs, multiplicative decrease on timeout or triple
// duplicate ACK, Jacobson/Karels RTT/RTO estimation.
type AIMD struct {
	Codec   *crypto.Codec
	Logger  *slog.Logger
	Options congestion.Options

	stats *stats.Transfer
}

func (a *AIMD) Stats() *stats.Transfer { return a.stats }

// Send streams path in ChunkSize records, numbered from 0, under
// congestion-window control. The sender interleaves a non-blocking ACK
// read with chunk emission and an RTO check, switching to a pure
// drain-until-acked wait once the file is exhausted.
func (a *AIMD) Send(ctx context.Context, path, host string, port int) error {
	f, size, err := fsio.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	a.stats = stats.New("aimd", path)
	ctrl := congestion.New(a.Options)

	conn, err := dialTCP(ctx, host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	optsBlob, err := protocol.EncodeAIMDOptions(protocol.AIMDOptions{
		InitialWindow:   a.Options.InitialWindow,
		MinWindow:       a.Options.MinWindow,
		MaxWindow:       a.Options.MaxWindow,
		TimeoutEnabled:  a.Options.TimeoutEnabled,
		DupAckEnabled:   a.Options.DupAckEnabled,
		DupAckThreshold: a.Options.DupAckThreshold,
	})
	if err != nil {
		return err
	}

	hs := protocol.Handshake{Filename: filepath.Base(path), FileSize: size, Options: optsBlob}
	if err := protocol.WriteHandshake(conn, hs); err != nil {
		return err
	}

	ackCh := make(chan uint32, 64)
	ackErrCh := make(chan error, 1)
	go readAcks(conn, ackCh, ackErrCh)

	totalChunks := (size + ChunkSize - 1) / ChunkSize
	if size == 0 {
		totalChunks = 0
	}

	for {
		select {
		case <-ctx.Done():
			return xfererr.New(xfererr.KindTimeout, "transfer.AIMD.Send", ctx.Err())
		default:
		}

		acked, hasAck := ctrl.LastAck()
		if totalChunks == 0 || (hasAck && int64(acked)+1 >= totalChunks) {
			break
		}

		// Drain any pending ACKs without blocking.
		if err := a.drainAcks(ctrl, ackCh, ackErrCh, f); err != nil {
			return err
		}

		// Check for RTO expiry.
		if timedOut := ctrl.TimedOutSeqs(time.Now()); len(timedOut) > 0 {
			resumeFrom := ctrl.HandleTimeout()
			a.stats.RecordRetry()
			a.stats.RecordCongestionEvent(ctrl.Timeouts, ctrl.FastRetransmits, ctrl.TotalRetransmits, ctrl.RTO())

			var seekChunk int64
			if resumeFrom > 0 {
				seekChunk = int64(resumeFrom) - 1
			}
			if _, err := f.Seek(seekChunk*ChunkSize, io.SeekStart); err != nil {
				return xfererr.New(xfererr.KindIO, "transfer.AIMD.Send", err)
			}
		}

		if !ctrl.CanSend(ChunkSize) {
			time.Sleep(pollInterval)
			continue
		}

		seq := ctrl.NextSeq(time.Now())
		if int64(seq) >= totalChunks {
			continue
		}

		if _, err := f.Seek(int64(seq)*ChunkSize, io.SeekStart); err != nil {
			return xfererr.New(xfererr.KindIO, "transfer.AIMD.Send", err)
		}
		buf := make([]byte, ChunkSize)
		n, readErr := f.Read(buf)
		if readErr != nil && readErr != io.EOF {
			return xfererr.New(xfererr.KindIO, "transfer.AIMD.Send", readErr)
		}
		if n == 0 {
			continue
		}

		cipher, err := a.Codec.Encrypt(buf[:n])
		if err != nil {
			return xfererr.New(xfererr.KindProtocol, "transfer.AIMD.Send", err)
		}
		record := protocol.EncodeAIMDRecord(seq, cipher)
		if err := protocol.WriteFrame(conn, record); err != nil {
			return xfererr.New(xfererr.KindIO, "transfer.AIMD.Send", err)
		}
		a.stats.RecordChunk(n)
		elapsed := time.Since(a.stats.StartTime).Seconds()
		bandwidth := 0.0
		if elapsed > 0 {
			bandwidth = float64(a.stats.BytesTransferred) / 1024.0 / elapsed
		}
		a.stats.RecordRateSample(stats.RateSample{
			ElapsedSeconds: elapsed,
			BandwidthKBps:  bandwidth,
			ChunkSize:      n,
			Window:         ctrl.Window(),
		})
	}

	eot := protocol.EncodeAIMDRecord(uint32(totalChunks), []byte(protocol.EOTSentinel))
	if err := protocol.WriteFrame(conn, eot); err != nil {
		return xfererr.New(xfererr.KindIO, "transfer.AIMD.Send", err)
	}
	ctrl.MarkDone()

	a.stats.TotalRetransmits = int64(ctrl.TotalRetransmits)
	a.stats.Timeouts = int64(ctrl.Timeouts)
	a.stats.FastRetransmits = int64(ctrl.FastRetransmits)
	a.stats.FinalRTO = ctrl.RTO()
	a.stats.Finish()
	a.Logger.Info("aimd transfer sent", "path", path, "bytes", a.stats.BytesTransferred, "retransmits", ctrl.TotalRetransmits)
	return nil
}

func (a *AIMD) drainAcks(ctrl *congestion.Controller, ackCh chan uint32, ackErrCh chan error, f fileSeekReader) error {
	for {
		select {
		case ack, ok := <-ackCh:
			if !ok {
				return nil
			}
			result := ctrl.HandleAck(ack, time.Now())
			if result.TripleDup {
				a.stats.RecordRetry()
				a.stats.RecordCongestionEvent(ctrl.Timeouts, ctrl.FastRetransmits, ctrl.TotalRetransmits, ctrl.RTO())
				if _, err := f.Seek(int64(ack)*ChunkSize, io.SeekStart); err != nil {
					return xfererr.New(xfererr.KindIO, "transfer.AIMD.drainAcks", err)
				}
			}
		case err := <-ackErrCh:
			if err != nil {
				return xfererr.New(xfererr.KindIO, "transfer.AIMD.drainAcks", err)
			}
			return nil
		default:
			return nil
		}
	}
}

type fileSeekReader interface {
	io.Reader
	io.Seeker
}

func readAcks(conn io.Reader, ackCh chan<- uint32, errCh chan<- error) {
	defer close(ackCh)
	for {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			errCh <- err
			return
		}
		seq, parseErr := strconv.ParseUint(string(record), 10, 32)
		if parseErr != nil {
			continue
		}
		ackCh <- uint32(seq)
	}
}

func writeAck(w io.Writer, seq uint32) error {
	if err := protocol.WriteFrame(w, []byte(strconv.FormatUint(uint64(seq), 10))); err != nil {
		return xfererr.New(xfererr.KindIO, "transfer.writeAck", err)
	}
	return nil
}

// Receive implements the AIMD receiver state machine: in-order delivery
// advances expected_seq and ACKs it; ahead-of-order payloads are buffered
// and ACK the current last_ack; behind-order (duplicate) payloads are
// re-ACKed to help the sender converge.
func (a *AIMD) Receive(ctx context.Context, host string, port int) (Result, error) {
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
	opts, err := protocol.DecodeAIMDOptions(hs.Options)
	if err != nil {
		return Result{}, err
	}
	_ = opts

	a.stats = stats.New("aimd", hs.Filename)

	out, err := fsio.CreateForWrite(fsio.ReceivedName(hs.Filename))
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var expected uint32
	var lastAck int64 = -1
	buffered := make(map[uint32][]byte)

	for {
		record, err := protocol.ReadFrame(conn)
		if err != nil {
			a.stats.RecordError()
			return Result{}, err
		}
		seq, payload, err := protocol.DecodeAIMDRecord(record)
		if err != nil {
			a.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.AIMD.Receive", err)
		}
		if protocol.IsEOT(payload) {
			break
		}

		plain, err := a.Codec.Decrypt(payload)
		if err != nil {
			a.stats.RecordError()
			return Result{}, xfererr.New(xfererr.KindProtocol, "transfer.AIMD.Receive", err)
		}

		switch {
		case seq == expected:
			if err := writeAt(out, int64(seq)*ChunkSize, plain); err != nil {
				return Result{}, err
			}
			a.stats.RecordChunk(len(plain))
			lastAck = int64(seq)
			if err := writeAck(conn, seq); err != nil {
				return Result{}, err
			}
			expected++
			for {
				buf, ok := buffered[expected]
				if !ok {
					break
				}
				if err := writeAt(out, int64(expected)*ChunkSize, buf); err != nil {
					return Result{}, err
				}
				a.stats.RecordChunk(len(buf))
				delete(buffered, expected)
				lastAck = int64(expected)
				if err := writeAck(conn, expected); err != nil {
					return Result{}, err
				}
				expected++
			}
		case seq > expected:
			buffered[seq] = plain
			ackVal := uint32(0)
			if lastAck >= 0 {
				ackVal = uint32(lastAck)
			}
			if err := writeAck(conn, ackVal); err != nil {
				return Result{}, err
			}
		default: // seq < expected: already delivered, re-ack to help sender converge
			if err := writeAck(conn, seq); err != nil {
				return Result{}, err
			}
		}
	}

	a.stats.Finish()
	a.Logger.Info("aimd transfer received", "filename", hs.Filename, "bytes", a.stats.BytesTransferred)
	return Result{OK: true, Filename: hs.Filename}, nil
}

func writeAt(w io.WriterAt, offset int64, p []byte) error {
	if _, err := w.WriteAt(p, offset); err != nil {
		return xfererr.New(xfererr.KindIO, "transfer.writeAt", err)
	}
	return nil
}
