// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 70000),
	}

	for _, payload := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}

		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch: got %v, want %v", got, payload)
		}
	}
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01})
	if _, err := ReadFrame(buf); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, []byte("hello world"))
	truncated := buf.Bytes()[:6]

	if _, err := ReadFrame(bytes.NewReader(truncated)); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(buf); err == nil {
		t.Error("expected error for oversized frame length")
	}
}

func TestWriteFrame_MultipleRecordsSequential(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, []byte("first"))
	WriteFrame(&buf, []byte("second"))

	a, err := ReadFrame(&buf)
	if err != nil || string(a) != "first" {
		t.Fatalf("first record: %q, err=%v", a, err)
	}
	b, err := ReadFrame(&buf)
	if err != nil || string(b) != "second" {
		t.Fatalf("second record: %q, err=%v", b, err)
	}
}
