// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"io"
	"net"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/yamux"

	"github.com/hashicorp/superlink/helper/pool"
	"github.com/hashicorp/superlink/superlink/structs"
)

// listen accepts connections on one listener until shutdown.
func (s *Server) listen(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.IsShutdown() {
				return
			}
			s.logger.Error("failed to accept rpc connection", "error", err)
			continue
		}

		go s.handleConn(conn)
		metrics.IncrCounter([]string{"superlink", "rpc", "accept_conn"}, 1)
	}
}

// handleConn reads the mode byte and routes the connection to plain
// RPC, a multiplexed session, or a streaming handler.
func (s *Server) handleConn(conn net.Conn) {
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		if err != io.EOF {
			s.logger.Error("failed to read rpc mode byte", "error", err)
		}
		conn.Close()
		return
	}

	switch pool.RPCType(buf[0]) {
	case pool.RpcSuperlink:
		s.handleSuperlinkConn(conn)

	case pool.RpcMultiplex:
		s.handleMultiplex(conn)

	case pool.RpcStreaming:
		s.handleStreamingConn(conn)

	default:
		s.logger.Error("unrecognized rpc mode byte", "byte", buf[0])
		conn.Close()
	}
}

// handleSuperlinkConn serves requests on one connection until it
// closes.
func (s *Server) handleSuperlinkConn(conn net.Conn) {
	defer conn.Close()

	rpcCodec := pool.NewServerCodec(conn)
	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		if err := s.rpcServer.ServeRequest(rpcCodec); err != nil {
			if err != io.EOF && !connClosedError(err) {
				s.logger.Error("rpc request failed", "error", err)
				metrics.IncrCounter([]string{"superlink", "rpc", "request_error"}, 1)
			}
			return
		}
		metrics.IncrCounter([]string{"superlink", "rpc", "request"}, 1)
	}
}

// handleMultiplex accepts yamux streams and serves each as its own
// connection.
func (s *Server) handleMultiplex(conn net.Conn) {
	defer conn.Close()

	conf := yamux.DefaultConfig()
	conf.LogOutput = s.logger.StandardWriter(&hclog.StandardLoggerOptions{})
	session, err := yamux.Server(conn, conf)
	if err != nil {
		s.logger.Error("failed to create multiplex session", "error", err)
		return
	}

	for {
		sub, err := session.Accept()
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("multiplex session ended", "error", err)
			}
			return
		}
		go s.handleConn(sub)
	}
}

// handleStreamingConn conducts the streaming handshake and hands the
// connection to the registered handler.
func (s *Server) handleStreamingConn(conn net.Conn) {
	decoder := codec.NewDecoder(conn, structs.MsgpackHandle)

	var header structs.StreamingRpcHeader
	if err := decoder.Decode(&header); err != nil {
		if err != io.EOF && !connClosedError(err) {
			s.logger.Error("failed to read streaming rpc header", "error", err)
		}
		conn.Close()
		return
	}

	ack := structs.StreamingRpcAck{}
	handler, err := s.streamingRpcs.GetHandler(header.Method)
	if err != nil {
		ack.Error = err.Error()
	}

	encoder := codec.NewEncoder(conn, structs.MsgpackHandle)
	if err := encoder.Encode(ack); err != nil {
		conn.Close()
		return
	}
	if ack.Error != "" {
		conn.Close()
		return
	}

	metrics.IncrCounter([]string{"superlink", "streaming_rpc", header.Method}, 1)
	handler(conn)
}

// connClosedError reports whether the error is the shutdown noise a
// closing connection produces.
func connClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "EOF" ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer")
}
