// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package crypto implements the AES-256-CBC envelope used to encrypt file
// payloads before they cross any transfer strategy. The wire format is
// fixed: a 2-byte big-endian IV length, the IV itself, then ciphertext.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// KeySize is the required key length for AES-256.
const KeySize = 32

// Codec encrypts and decrypts payloads under a single fixed key shared by
// every peer in the mesh. The spec assumes a pre-provisioned key; there is
// no key exchange or per-peer key material (see Non-goals).
type Codec struct {
	key []byte
}

// NewCodec validates key is exactly KeySize bytes and returns a Codec.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, xfererr.Newf(xfererr.KindConfig, "crypto.NewCodec", "key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encrypt pads data with PKCS7, generates a fresh random IV, and returns
// [ivLen:u16 BE][iv][ciphertext]. Every call uses a new IV, so encrypting
// the same plaintext twice never yields the same ciphertext.
func (c *Codec) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, xfererr.New(xfererr.KindCrypto, "crypto.Encrypt", err)
	}

	padded := pkcs7Pad(data, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, xfererr.New(xfererr.KindCrypto, "crypto.Encrypt", err)
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	out := make([]byte, 2+len(iv)+len(ciphertext))
	binary.BigEndian.PutUint16(out[:2], uint16(len(iv)))
	copy(out[2:2+len(iv)], iv)
	copy(out[2+len(iv):], ciphertext)
	return out, nil
}

// Decrypt reverses Encrypt. It returns a CryptoError for truncated input,
// a bad IV length, a ciphertext that isn't a multiple of the block size,
// or invalid PKCS7 padding.
func (c *Codec) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < 2 {
		return nil, xfererr.Newf(xfererr.KindCrypto, "crypto.Decrypt", "envelope too short: %d bytes", len(envelope))
	}

	ivLen := int(binary.BigEndian.Uint16(envelope[:2]))
	if len(envelope) < 2+ivLen {
		return nil, xfererr.Newf(xfererr.KindCrypto, "crypto.Decrypt", "envelope truncated: want %d iv bytes, have %d", ivLen, len(envelope)-2)
	}
	if ivLen != aes.BlockSize {
		return nil, xfererr.Newf(xfererr.KindCrypto, "crypto.Decrypt", "unexpected iv length %d", ivLen)
	}

	iv := envelope[2 : 2+ivLen]
	ciphertext := envelope[2+ivLen:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, xfererr.Newf(xfererr.KindCrypto, "crypto.Decrypt", "ciphertext length %d not a multiple of block size", len(ciphertext))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, xfererr.New(xfererr.KindCrypto, "crypto.Decrypt", err)
	}

	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return nil, xfererr.New(xfererr.KindCrypto, "crypto.Decrypt", err)
	}
	return plain, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("pkcs7: invalid data length %d", n)
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("pkcs7: invalid padding length %d", padLen)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("pkcs7: invalid padding bytes")
		}
	}
	return data[:n-padLen], nil
}
