// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"strconv"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// EOTSentinel is the literal payload marking end-of-transmission on an
// AIMD stream.
const EOTSentinel = "EOT"

// EncodeAIMDRecord prefixes payload with its decimal ASCII sequence number
// and a colon: "<seq>:<payload>", the format framed by WriteFrame.
func EncodeAIMDRecord(seq uint32, payload []byte) []byte {
	prefix := strconv.FormatUint(uint64(seq), 10) + ":"
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	out = append(out, payload...)
	return out
}

// DecodeAIMDRecord splits a frame payload produced by EncodeAIMDRecord back
// into its sequence number and inner payload.
func DecodeAIMDRecord(record []byte) (seq uint32, payload []byte, err error) {
	idx := bytes.IndexByte(record, ':')
	if idx < 0 {
		return 0, nil, xfererr.Newf(xfererr.KindProtocol, "protocol.DecodeAIMDRecord", "missing ':' separator in %q", record)
	}
	n, parseErr := strconv.ParseUint(string(record[:idx]), 10, 32)
	if parseErr != nil {
		return 0, nil, xfererr.New(xfererr.KindProtocol, "protocol.DecodeAIMDRecord", parseErr)
	}
	return uint32(n), record[idx+1:], nil
}

// IsEOT reports whether a decoded AIMD payload is the end-of-transmission
// sentinel.
func IsEOT(payload []byte) bool {
	return string(payload) == EOTSentinel
}
