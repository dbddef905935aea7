// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package pool maintains multiplexed client connections to superlink
// servers and the codecs both ends of the wire share.
package pool

import (
	"fmt"
	"io"
	"net"
	"net/rpc"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/hashicorp/yamux"

	"github.com/hashicorp/superlink/superlink/structs"
)

// NewClientCodec returns a msgpack rpc.ClientCodec over the connection
// using the shared handle.
func NewClientCodec(conn io.ReadWriteCloser) rpc.ClientCodec {
	return msgpackrpc.NewCodecFromHandle(true, true, conn, structs.MsgpackHandle)
}

// NewServerCodec returns a msgpack rpc.ServerCodec over the connection
// using the shared handle.
func NewServerCodec(conn io.ReadWriteCloser) rpc.ServerCodec {
	return msgpackrpc.NewCodecFromHandle(true, true, conn, structs.MsgpackHandle)
}

// Conn is a pooled connection to one server address. All RPCs over the
// same Conn share one yamux session.
type Conn struct {
	addr     string
	session  *yamux.Session
	lastUsed time.Time
}

// openStream opens a fresh stream on the session and writes the stream
// mode byte.
func (c *Conn) openStream() (net.Conn, error) {
	stream, err := c.session.Open()
	if err != nil {
		return nil, err
	}

	if _, err := stream.Write([]byte{byte(RpcSuperlink)}); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// ConnPool provides RPC over a set of pooled multiplexed connections,
// one per server address.
type ConnPool struct {
	mu sync.Mutex

	logger hclog.Logger

	// connTimeout bounds the initial dial.
	connTimeout time.Duration

	pool map[string]*Conn

	shutdown bool
}

// NewPool returns a pool dialing with the given timeout. A zero timeout
// defaults to ten seconds.
func NewPool(logger hclog.Logger, connTimeout time.Duration) *ConnPool {
	if connTimeout == 0 {
		connTimeout = 10 * time.Second
	}
	return &ConnPool{
		logger:      logger.Named("pool"),
		connTimeout: connTimeout,
		pool:        make(map[string]*Conn),
	}
}

// Shutdown closes every pooled session. The pool is unusable afterwards.
func (p *ConnPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.pool {
		conn.session.Close()
	}
	p.pool = nil
	p.shutdown = true
	return nil
}

// acquire returns the pooled connection for the address, dialing and
// upgrading to a yamux session when none exists yet.
func (p *ConnPool) acquire(addr string) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return nil, fmt.Errorf("connection pool is shut down")
	}

	if conn, ok := p.pool[addr]; ok && !conn.session.IsClosed() {
		conn.lastUsed = time.Now()
		return conn, nil
	}

	raw, err := net.DialTimeout("tcp", addr, p.connTimeout)
	if err != nil {
		return nil, err
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetNoDelay(true)
	}

	if _, err := raw.Write([]byte{byte(RpcMultiplex)}); err != nil {
		raw.Close()
		return nil, err
	}

	conf := yamux.DefaultConfig()
	conf.LogOutput = p.logger.StandardWriter(&hclog.StandardLoggerOptions{})
	session, err := yamux.Client(raw, conf)
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := &Conn{
		addr:     addr,
		session:  session,
		lastUsed: time.Now(),
	}
	p.pool[addr] = conn
	return conn, nil
}

// clearConn drops a broken connection so the next RPC redials.
func (p *ConnPool) clearConn(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.pool[conn.addr]; ok && cur == conn {
		delete(p.pool, conn.addr)
	}
	conn.session.Close()
}

// RPC makes one call to the given address, reusing the pooled session.
func (p *ConnPool) RPC(addr, method string, args, reply interface{}) error {
	conn, err := p.acquire(addr)
	if err != nil {
		return fmt.Errorf("rpc error: failed to get conn: %w", err)
	}

	stream, err := conn.openStream()
	if err != nil {
		p.clearConn(conn)
		return fmt.Errorf("rpc error: failed to open stream: %w", err)
	}
	defer stream.Close()

	cc := NewClientCodec(stream)
	if err := msgpackrpc.CallWithCodec(cc, method, args, reply); err != nil {
		return fmt.Errorf("rpc error: %w", err)
	}
	return nil
}

// StreamingRPC dials the address directly and conducts the streaming
// handshake for the given method. The caller owns the returned
// connection once no error is returned.
func (p *ConnPool) StreamingRPC(addr, method string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, p.connTimeout)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetNoDelay(true)
	}

	if _, err := conn.Write([]byte{byte(RpcStreaming)}); err != nil {
		conn.Close()
		return nil, err
	}

	encoder := codec.NewEncoder(conn, structs.MsgpackHandle)
	if err := encoder.Encode(structs.StreamingRpcHeader{Method: method}); err != nil {
		conn.Close()
		return nil, err
	}

	var ack structs.StreamingRpcAck
	decoder := codec.NewDecoder(conn, structs.MsgpackHandle)
	if err := decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, err
	}
	if ack.Error != "" {
		conn.Close()
		return nil, fmt.Errorf("streaming rpc error: %s", ack.Error)
	}

	return conn, nil
}
