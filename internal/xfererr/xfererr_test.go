// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xfererr

import (
	"errors"
	"testing"
)

func TestNew_NilPassthrough(t *testing.T) {
	if err := New(KindIO, "read", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNew_WrapsAndUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := New(KindIO, "write_chunk", inner)

	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}

	k, ok := KindOf(err)
	if !ok || k != KindIO {
		t.Fatalf("expected KindIO, got %v (ok=%v)", k, ok)
	}
}

func TestIs(t *testing.T) {
	err := Newf(KindTimeout, "aimd_ack", "waited %d ms", 500)
	if !Is(err, KindTimeout) {
		t.Error("expected Is(err, KindTimeout) to be true")
	}
	if Is(err, KindCrypto) {
		t.Error("expected Is(err, KindCrypto) to be false")
	}
}

func TestKindOf_UnclassifiedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	if ok {
		t.Error("expected ok=false for a plain, non-classified error")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindIO:              "io",
		KindProtocol:        "protocol",
		KindCrypto:          "crypto",
		KindTimeout:         "timeout",
		KindConfig:          "config",
		KindPeerUnreachable: "peer_unreachable",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
