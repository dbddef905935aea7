// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/superlink/helper/codec"
	"github.com/hashicorp/superlink/superlink/state"
	"github.com/hashicorp/superlink/superlink/structs"
)

// Server is a superlink server: it owns the task registry and serves
// the driver, fleet, and exec RPC surfaces on their own listeners.
type Server struct {
	config *Config
	logger hclog.InterceptLogger
	clock  libtime.Clock

	store state.Store
	fabs  *FabSource

	rpcServer     *rpc.Server
	streamingRpcs *structs.StreamingRpcRegistry
	listeners     []net.Listener

	// endpoints that need lifecycle management beyond RPC dispatch
	exec *Exec

	shutdownCh   chan struct{}
	shutdown     bool
	shutdownLock sync.Mutex
}

// endpoints groups the RPC receivers registered on the server.
type endpoints struct {
	Fleet   *Fleet
	Driver  *Driver
	Exec    *Exec
	Adapter *Adapter
}

// NewServer creates a server from the config, opens the registry, and
// starts serving on the configured addresses.
func NewServer(config *Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = hclog.NewInterceptLogger(&hclog.LoggerOptions{
			Name:  "superlink",
			Level: hclog.Info,
		})
	}
	clock := config.Clock
	if clock == nil {
		clock = libtime.SystemClock()
	}

	dataDir := config.DataDir
	if config.DevMode {
		dataDir = ""
	}
	store, err := state.New(&state.Config{
		Logger:       config.Logger,
		DataDir:      dataDir,
		Clock:        clock,
		TraceQueries: config.TraceQueries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open task registry: %w", err)
	}

	s := &Server{
		config:        config,
		logger:        config.Logger,
		clock:         clock,
		store:         store,
		fabs:          NewFabSource(config.FabDir),
		rpcServer:     rpc.NewServer(),
		streamingRpcs: structs.NewStreamingRpcRegistry(),
		shutdownCh:    make(chan struct{}),
	}

	if err := s.setupRpcServer(); err != nil {
		store.Close()
		return nil, err
	}
	if err := s.setupListeners(); err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// setupRpcServer registers every endpoint on the rpc server and the
// streaming registry.
func (s *Server) setupRpcServer() error {
	executor := s.config.Executor
	if executor == nil {
		executor = NewSubprocessExecutor(s.logger, s.store, s.fabs, s.config.RunCmd)
	}

	eps := endpoints{
		Fleet:  &Fleet{srv: s, logger: s.logger.Named("fleet")},
		Driver: &Driver{srv: s, logger: s.logger.Named("driver")},
		Exec:   NewExec(s, executor),
	}
	eps.Adapter = &Adapter{srv: s, logger: s.logger.Named("adapter")}
	s.exec = eps.Exec

	for _, ep := range []interface{}{eps.Fleet, eps.Driver, eps.Exec, eps.Adapter} {
		if err := s.rpcServer.Register(ep); err != nil {
			return err
		}
	}

	s.streamingRpcs.Register("Exec.StreamLogs", eps.Exec.streamLogs)
	return nil
}

// setupListeners binds the three surfaces and starts their accept
// loops. Every surface speaks the same protocol; the port split is
// convention.
func (s *Server) setupListeners() error {
	addrs := []struct {
		name string
		addr string
	}{
		{"driver", s.config.DriverAddr},
		{"fleet", s.config.FleetAddr},
		{"exec", s.config.ExecAddr},
	}

	for _, a := range addrs {
		ln, err := net.Listen("tcp", a.addr)
		if err != nil {
			for _, open := range s.listeners {
				open.Close()
			}
			return fmt.Errorf("failed to listen on %s (%s): %w", a.addr, a.name, err)
		}
		s.logger.Info("rpc surface listening", "surface", a.name, "address", ln.Addr().String())
		s.listeners = append(s.listeners, ln)
		go s.listen(ln)
	}
	return nil
}

// DriverAddr returns the bound driver listener address.
func (s *Server) DriverAddr() net.Addr { return s.listeners[0].Addr() }

// FleetAddr returns the bound fleet listener address.
func (s *Server) FleetAddr() net.Addr { return s.listeners[1].Addr() }

// ExecAddr returns the bound exec listener address.
func (s *Server) ExecAddr() net.Addr { return s.listeners[2].Addr() }

// Store exposes the task registry.
func (s *Server) Store() state.Store { return s.store }

// RPC dispatches one call locally, without a network round trip. The
// HTTP bridge and tests use this.
func (s *Server) RPC(method string, args, reply interface{}) error {
	cc := &codec.InmemCodec{
		Method: method,
		Args:   args,
		Reply:  reply,
	}
	if err := s.rpcServer.ServeRequest(cc); err != nil {
		return err
	}
	return cc.Err
}

// Shutdown stops the listeners, the exec endpoint's run handles, and
// closes the registry.
func (s *Server) Shutdown() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true
	close(s.shutdownCh)

	for _, ln := range s.listeners {
		ln.Close()
	}
	s.exec.shutdown()

	return s.store.Close()
}

// IsShutdown reports whether Shutdown has been called.
func (s *Server) IsShutdown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// now returns the current time as the float seconds tasks are stamped
// with.
func (s *Server) now() float64 {
	return unixSeconds(s.clock.Now())
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
