// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package appio

import (
	"io"
	"net"
	"net/rpc"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/yamux"

	"github.com/hashicorp/superlink/helper/pool"
)

// DefaultAddr is the loopback address the exchange listens on. Only the
// workload process this node launched is expected to connect.
const DefaultAddr = "127.0.0.1:9094"

// Server serves the exchange to the workload process over the same
// protocol the fabric speaks.
type Server struct {
	logger    hclog.Logger
	rpcServer *rpc.Server
	listener  net.Listener

	shutdownCh   chan struct{}
	shutdown     bool
	shutdownLock sync.Mutex
}

// NewServer binds the exchange listener and starts serving.
func NewServer(logger hclog.Logger, servicer *Servicer, addr string) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:     logger.Named("appio_server"),
		rpcServer:  rpc.NewServer(),
		listener:   ln,
		shutdownCh: make(chan struct{}),
	}
	if err := s.rpcServer.RegisterName("ClientAppIo", &rpcReceiver{s: servicer}); err != nil {
		ln.Close()
		return nil, err
	}

	go s.listen()
	s.logger.Info("exchange listening", "address", ln.Addr().String())
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops the listener.
func (s *Server) Shutdown() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true
	close(s.shutdownCh)
	return s.listener.Close()
}

func (s *Server) listen() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return
			default:
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		conn.Close()
		return
	}

	switch pool.RPCType(buf[0]) {
	case pool.RpcSuperlink:
		s.serveConn(conn)

	case pool.RpcMultiplex:
		s.handleMultiplex(conn)

	default:
		s.logger.Error("unrecognized rpc mode byte", "byte", buf[0])
		conn.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	rpcCodec := pool.NewServerCodec(conn)
	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}
		if err := s.rpcServer.ServeRequest(rpcCodec); err != nil {
			return
		}
	}
}

func (s *Server) handleMultiplex(conn net.Conn) {
	defer conn.Close()

	conf := yamux.DefaultConfig()
	conf.LogOutput = s.logger.StandardWriter(&hclog.StandardLoggerOptions{})
	session, err := yamux.Server(conn, conf)
	if err != nil {
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
