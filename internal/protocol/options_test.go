// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "testing"

func TestAIMDOptions_RoundTrip(t *testing.T) {
	want := AIMDOptions{
		InitialWindow:   1024,
		MinWindow:       1024,
		MaxWindow:       65536,
		TimeoutEnabled:  true,
		DupAckEnabled:   true,
		DupAckThreshold: 3,
	}

	blob, err := EncodeAIMDOptions(want)
	if err != nil {
		t.Fatalf("EncodeAIMDOptions: %v", err)
	}

	got, err := DecodeAIMDOptions(blob)
	if err != nil {
		t.Fatalf("DecodeAIMDOptions: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeAIMDOptions_Empty(t *testing.T) {
	got, err := DecodeAIMDOptions(nil)
	if err != nil {
		t.Fatalf("DecodeAIMDOptions: %v", err)
	}
	if got != (AIMDOptions{}) {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestDecodeAIMDOptions_RejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeAIMDOptions([]byte("not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestDecodeAIMDOptions_RejectsWrongType(t *testing.T) {
	if _, err := DecodeAIMDOptions([]byte(`{"initial_window":"not-a-number"}`)); err == nil {
		t.Error("expected error for wrong field type")
	}
}
