// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implements the length-prefixed framing used on every
// reliable stream between peers, plus the handshake, AIMD sequence
// prefixing, and Parallel substream header conventions layered on top of
// it.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// malicious or corrupted length prefix causing an unbounded allocation.
const MaxFrameSize = 64 * 1024 * 1024

// WriteFrame writes a single [len:u32 BE][payload] record to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return xfererr.New(xfererr.KindIO, "protocol.WriteFrame", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return xfererr.New(xfererr.KindIO, "protocol.WriteFrame", err)
	}
	return nil
}

// ReadFrame reads one [len:u32 BE][payload] record from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, xfererr.New(xfererr.KindIO, "protocol.ReadFrame", err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, xfererr.Newf(xfererr.KindProtocol, "protocol.ReadFrame", "frame length %d exceeds max %d", n, MaxFrameSize)
	}
	if n == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, xfererr.New(xfererr.KindIO, "protocol.ReadFrame", err)
	}
	return payload, nil
}
