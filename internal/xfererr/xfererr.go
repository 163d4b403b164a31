// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xfererr defines the error taxonomy shared across the transfer
// strategies, gossip peer, and orchestrator. Every error that crosses a
// strategy or network boundary is wrapped with a Kind so callers can branch
// on failure class without string matching, instead of the
// exception-type-per-module style of the original implementation.
package xfererr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for programmatic handling.
type Kind int

const (
	// KindIO covers local filesystem and socket read/write failures.
	KindIO Kind = iota
	// KindProtocol covers malformed frames, bad magic bytes, and
	// unexpected peer behavior at the wire level. A CryptoError is
	// always folded into KindProtocol at the framed-record boundary,
	// since a peer cannot distinguish "bad key" from "corrupt frame".
	KindProtocol
	// KindCrypto covers encryption/decryption and padding failures.
	KindCrypto
	// KindTimeout covers deadline exceeded and RTO-driven timeouts.
	KindTimeout
	// KindConfig covers invalid or missing configuration values.
	KindConfig
	// KindPeerUnreachable covers connect/dial failures and gossip
	// targets that fail health checks past their retry budget.
	KindPeerUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config"
	case KindPeerUnreachable:
		return "peer_unreachable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a classifiable Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind and operation label. Returns nil when
// err is nil, so callers can write `return xfererr.New(...)` unconditionally
// after an `if err != nil` is already known to be false is never required.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, walking the unwrap chain. Returns
// KindIO, false when err does not carry a classified Kind.
func KindOf(err error) (Kind, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return KindIO, false
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
