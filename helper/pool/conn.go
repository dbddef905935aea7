// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pool

// RPCType is the first byte written on a fresh connection and selects how
// the rest of the stream is handled.
type RPCType byte

const (
	// RpcSuperlink is a plain msgpack RPC stream.
	RpcSuperlink RPCType = 0x01

	// RpcMultiplex upgrades the connection to a yamux session carrying
	// many RpcSuperlink streams.
	RpcMultiplex RPCType = 0x02

	// RpcStreaming hands the connection to a registered streaming
	// handler after a header/ack handshake.
	RpcStreaming RPCType = 0x03

	// RpcTLS wraps the connection in TLS and then re-reads the type byte.
	RpcTLS RPCType = 0x04
)
