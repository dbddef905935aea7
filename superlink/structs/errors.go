// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"strings"
)

const (
	errUnknownNode    = "unknown node"
	errUnknownRun     = "unknown run"
	errKeypairExists  = "server keypair already set"
	errPublicKeyTaken = "public key is already registered"
	errIDCollision    = "id collision, retry the request"
)

var (
	// ErrUnknownNode is returned for operations on a node id that has no
	// registration row.
	ErrUnknownNode = errors.New(errUnknownNode)

	// ErrUnknownRun is returned when a task references a run id that does
	// not exist.
	ErrUnknownRun = errors.New(errUnknownRun)

	// ErrKeypairExists is returned on a second attempt to store the
	// server credential. The credential table is a singleton.
	ErrKeypairExists = errors.New(errKeypairExists)

	// ErrPublicKeyTaken is returned when a node registers with a public
	// key already bound to another node.
	ErrPublicKeyTaken = errors.New(errPublicKeyTaken)

	// ErrIDCollision is returned when a freshly drawn random id is
	// already present. Callers retry by resubmitting.
	ErrIDCollision = errors.New(errIDCollision)
)

// IsErrUnknownNode reports whether the error, possibly flattened through
// an RPC boundary, is ErrUnknownNode.
func IsErrUnknownNode(err error) bool {
	return err != nil && strings.Contains(err.Error(), errUnknownNode)
}

// IsErrUnknownRun reports whether the error, possibly flattened through
// an RPC boundary, is ErrUnknownRun.
func IsErrUnknownRun(err error) bool {
	return err != nil && strings.Contains(err.Error(), errUnknownRun)
}

// ValidationError aggregates the structural problems found in a task. It
// crosses the RPC boundary as its joined message.
type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Error() string {
	return "invalid task: " + strings.Join(v.Problems, "; ")
}
