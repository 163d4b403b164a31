// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// ackOK is the literal plaintext acknowledgement every handshake record
// awaits before the sender proceeds to the next one.
const ackOK = "OK"

// Handshake is the three-record plaintext preamble exchanged before any
// payload record. Options carries the strategy-specific JSON blob (see
// AIMDOptions) that replaces the original's eval()'d kwargs dict.
type Handshake struct {
	Filename string
	FileSize int64
	Options  []byte
}

// WriteHandshake sends the three plaintext records in order, each waiting
// for a literal "OK" before sending the next.
func WriteHandshake(rw io.ReadWriter, hs Handshake) error {
	if err := sendAndAwaitOK(rw, []byte(hs.Filename)); err != nil {
		return err
	}
	if err := sendAndAwaitOK(rw, []byte(strconv.FormatInt(hs.FileSize, 10))); err != nil {
		return err
	}
	opts := hs.Options
	if opts == nil {
		opts = []byte("{}")
	}
	if err := sendAndAwaitOK(rw, opts); err != nil {
		return err
	}
	return nil
}

// ReadHandshake reads the three plaintext records and ACKs each with "OK".
func ReadHandshake(rw io.ReadWriter) (Handshake, error) {
	filenameRaw, err := recvAndAckOK(rw)
	if err != nil {
		return Handshake{}, err
	}
	sizeRaw, err := recvAndAckOK(rw)
	if err != nil {
		return Handshake{}, err
	}
	optsRaw, err := recvAndAckOK(rw)
	if err != nil {
		return Handshake{}, err
	}

	size, err := strconv.ParseInt(string(sizeRaw), 10, 64)
	if err != nil {
		return Handshake{}, xfererr.New(xfererr.KindProtocol, "protocol.ReadHandshake", fmt.Errorf("invalid file size %q: %w", sizeRaw, err))
	}

	return Handshake{
		Filename: string(filenameRaw),
		FileSize: size,
		Options:  optsRaw,
	}, nil
}

func sendAndAwaitOK(rw io.ReadWriter, payload []byte) error {
	if err := WriteFrame(rw, payload); err != nil {
		return err
	}
	ack, err := ReadFrame(rw)
	if err != nil {
		return err
	}
	if string(ack) != ackOK {
		return xfererr.Newf(xfererr.KindProtocol, "protocol.sendAndAwaitOK", "expected OK ack, got %q", ack)
	}
	return nil
}

func recvAndAckOK(rw io.ReadWriter) ([]byte, error) {
	payload, err := ReadFrame(rw)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(rw, []byte(ackOK)); err != nil {
		return nil, err
	}
	return payload, nil
}
