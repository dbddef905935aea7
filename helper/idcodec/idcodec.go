// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package idcodec converts between the unsigned 64 bit ids used on the wire
// and the signed 64 bit representation the store persists, and draws new
// random ids.
package idcodec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const (
	// NodeIDNumBytes is the number of random bytes drawn for a node id.
	NodeIDNumBytes = 8

	// RunIDNumBytes is the number of random bytes drawn for a run id.
	RunIDNumBytes = 8
)

// ToSint64 reinterprets the bits of a uint64 as an int64. The store only
// holds signed integers, so ids cross this boundary on every write.
func ToSint64(v uint64) int64 {
	return int64(v)
}

// ToUint64 reinterprets the bits of an int64 as a uint64, undoing ToSint64.
func ToUint64(v int64) uint64 {
	return uint64(v)
}

// GenerateID draws k cryptographically random bytes and interprets them as
// a big-endian unsigned integer. k must be in [1, 8].
func GenerateID(k int) (uint64, error) {
	if k < 1 || k > 8 {
		return 0, fmt.Errorf("idcodec: id length %d out of range [1, 8]", k)
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf[8-k:]); err != nil {
		return 0, fmt.Errorf("idcodec: failed to read random bytes: %w", err)
	}
	return binary.BigEndian.Uint64(buf), nil
}
