// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fsio is the minimal filesystem collaborator every transfer
// strategy depends on: open a path for reading, open a path for writing,
// report a file's size. Kept separate from the strategies so a future
// driver can substitute a different backing store without touching
// transport logic.
package fsio

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// OpenRead opens path for reading and reports its size.
func OpenRead(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xfererr.New(xfererr.KindIO, "fsio.OpenRead", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, xfererr.New(xfererr.KindIO, "fsio.OpenRead", err)
	}
	return f, info.Size(), nil
}

// CreateForWrite creates (or truncates) path for writing, the receiver's
// side of every strategy.
func CreateForWrite(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, xfererr.New(xfererr.KindIO, "fsio.CreateForWrite", err)
	}
	return f, nil
}

// ReceivedName builds the conventional destination filename for a
// completed transfer: received_<basename>.
func ReceivedName(filename string) string {
	return "received_" + filepath.Base(filename)
}

// ChunkName builds a parallel-substream spill filename: chunk_<index>_<basename>.
func ChunkName(index int, filename string) string {
	return "chunk_" + strconv.Itoa(index) + "_" + filepath.Base(filename)
}

// Concatenate copies src, in order, into dst.
func Concatenate(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, xfererr.New(xfererr.KindIO, "fsio.Concatenate", err)
	}
	return n, nil
}
