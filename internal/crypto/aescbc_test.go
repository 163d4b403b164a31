// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return []byte("ThisIsA32ByteKeyForTestingOnly!!")
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := NewCodec(testKey())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	envelope, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := c.Decrypt(envelope)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncrypt_DistinctCiphertextPerCall(t *testing.T) {
	c, _ := NewCodec(testKey())
	plaintext := []byte("same plaintext every time")

	a, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("expected distinct ciphertext envelopes due to random IVs")
	}
}

func TestEncryptDecrypt_EmptyPayload(t *testing.T) {
	c, _ := NewCodec(testKey())
	envelope, err := c.Encrypt(nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(envelope)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty plaintext, got %q", got)
	}
}

func TestNewCodec_RejectsBadKeySize(t *testing.T) {
	if _, err := NewCodec([]byte("tooshort")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestDecrypt_TruncatedEnvelope(t *testing.T) {
	c, _ := NewCodec(testKey())
	if _, err := c.Decrypt([]byte{0x00}); err == nil {
		t.Error("expected error for truncated envelope")
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	c, _ := NewCodec(testKey())
	envelope, _ := c.Encrypt([]byte("payload"))
	corrupt := append([]byte{}, envelope...)
	corrupt[len(corrupt)-1] ^= 0xFF

	if _, err := c.Decrypt(corrupt); err == nil {
		t.Error("expected error for corrupted ciphertext / bad padding")
	}
}
