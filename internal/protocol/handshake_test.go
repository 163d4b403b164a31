// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"net"
	"testing"
)

func TestHandshake_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := Handshake{
		Filename: "test_1024.txt",
		FileSize: 1024,
		Options:  []byte(`{"initial_window":1024}`),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteHandshake(client, want)
	}()

	got, err := ReadHandshake(server)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if werr := <-errCh; werr != nil {
		t.Fatalf("WriteHandshake: %v", werr)
	}

	if got.Filename != want.Filename {
		t.Errorf("Filename = %q, want %q", got.Filename, want.Filename)
	}
	if got.FileSize != want.FileSize {
		t.Errorf("FileSize = %d, want %d", got.FileSize, want.FileSize)
	}
	if string(got.Options) != string(want.Options) {
		t.Errorf("Options = %q, want %q", got.Options, want.Options)
	}
}

func TestHandshake_EmptyOptionsDefaultsToEmptyObject(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go WriteHandshake(client, Handshake{Filename: "f", FileSize: 0})

	got, err := ReadHandshake(server)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if string(got.Options) != "{}" {
		t.Errorf("Options = %q, want {}", got.Options)
	}
}
