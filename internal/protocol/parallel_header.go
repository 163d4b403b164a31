// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"strconv"
	"strings"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// ParallelHeader describes one substream's byte range within a Parallel
// transfer: "<filename>:<start>:<end>".
type ParallelHeader struct {
	Filename string
	Start    int64
	End      int64
}

// Encode renders the header as the wire string.
func (h ParallelHeader) Encode() string {
	return h.Filename + ":" + strconv.FormatInt(h.Start, 10) + ":" + strconv.FormatInt(h.End, 10)
}

// ParseParallelHeader parses "<filename>:<start>:<end>". The filename
// itself may not contain ':'; the original format has the same
// restriction.
func ParseParallelHeader(s string) (ParallelHeader, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ParallelHeader{}, xfererr.Newf(xfererr.KindProtocol, "protocol.ParseParallelHeader", "malformed substream header %q", s)
	}

	start, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ParallelHeader{}, xfererr.New(xfererr.KindProtocol, "protocol.ParseParallelHeader", err)
	}
	end, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ParallelHeader{}, xfererr.New(xfererr.KindProtocol, "protocol.ParseParallelHeader", err)
	}

	return ParallelHeader{Filename: parts[0], Start: start, End: end}, nil
}
