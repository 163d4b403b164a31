// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/json"

	"github.com/nishisan-dev/gossipxfer/internal/xfererr"
)

// AIMDOptions is the strict JSON schema for the AIMD handshake's options
// blob. The original evaluates this blob as a Python expression
// (`eval()`); every field here is a named, typed field instead, decoded
// with encoding/json so a malformed or hostile blob fails closed with a
// ProtocolError rather than executing arbitrary code.
type AIMDOptions struct {
	InitialWindow   int  `json:"initial_window"`
	MinWindow       int  `json:"min_window"`
	MaxWindow       int  `json:"max_window"`
	TimeoutEnabled  bool `json:"timeout_enabled"`
	DupAckEnabled   bool `json:"dupack_enabled"`
	DupAckThreshold int  `json:"dup_ack_threshold"`
}

// EncodeAIMDOptions serialises opts for the handshake's options record.
func EncodeAIMDOptions(opts AIMDOptions) ([]byte, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, xfererr.New(xfererr.KindProtocol, "protocol.EncodeAIMDOptions", err)
	}
	return b, nil
}

// DecodeAIMDOptions parses the handshake's options blob. Any JSON syntax
// or type error is a ProtocolError, never partially applied.
func DecodeAIMDOptions(blob []byte) (AIMDOptions, error) {
	var opts AIMDOptions
	if len(blob) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(blob, &opts); err != nil {
		return AIMDOptions{}, xfererr.New(xfererr.KindProtocol, "protocol.DecodeAIMDOptions", err)
	}
	return opts, nil
}
