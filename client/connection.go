// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package client implements the node side of the fabric: a Connection
// registers the node, keeps it alive, and exchanges application
// messages with the server over one of several transports.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/superlink/helper/backoff"
	"github.com/hashicorp/superlink/superlink/structs"
)

// Connection is the capability a node holds against a superlink
// server. A connection manages a single logical node id: CreateNode
// establishes it and Receive, Send, and DeleteNode reuse it.
type Connection interface {
	// CreateNode registers this connection's node and starts liveness
	// pings.
	CreateNode(ctx context.Context) (uint64, error)

	// DeleteNode destroys the registration established by CreateNode.
	DeleteNode(ctx context.Context) error

	// Receive pulls the next instruction addressed to this node,
	// converted to an application message. Returns nil when no
	// instruction is ready.
	Receive(ctx context.Context) (*structs.Message, error)

	// Send pushes a reply message produced by the workload.
	Send(ctx context.Context, msg *structs.Message) error

	// GetRun fetches run metadata.
	GetRun(ctx context.Context, runID uint64) (*structs.Run, error)

	// GetFab fetches an application bundle by content hash.
	GetFab(ctx context.Context, hash string) (*structs.Fab, error)

	// Close stops pings and releases the transport.
	Close() error
}

// Config parameterizes a connection regardless of transport.
type Config struct {
	Logger hclog.Logger

	// ServerAddr is the fleet surface address: host:port for the RPC
	// and adapter transports, a base URL for REST.
	ServerAddr string

	// PingInterval is the liveness renewal period in seconds.
	PingInterval float64

	// MaxTries and MaxTime bound the retry of each outbound call.
	// Zero values leave the corresponding budget unbounded.
	MaxTries int
	MaxTime  time.Duration
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:   "127.0.0.1:9092",
		PingInterval: 30,
		MaxTries:     5,
		MaxTime:      2 * time.Minute,
	}
}

// fleetCaller is the transport seam: each variant knows how to carry
// one fleet request/response pair.
type fleetCaller interface {
	call(method string, args, reply interface{}) error
	close() error
}

// connection implements Connection over any fleetCaller. The node id
// cell, retry policy, ping loop, and message codec are shared across
// transports.
type connection struct {
	logger  hclog.Logger
	caller  fleetCaller
	invoker *backoff.Invoker

	pingInterval float64

	mu        sync.Mutex
	nodeID    uint64
	pingStop  chan struct{}
	pingDone  chan struct{}
	closeOnce sync.Once
}

func newConnection(cfg *Config, caller fleetCaller) *connection {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	logger = logger.Named("connection")

	c := &connection{
		logger:       logger,
		caller:       caller,
		pingInterval: cfg.PingInterval,
	}
	c.invoker = &backoff.Invoker{
		Policy:   backoff.Exponential(time.Second, 32*time.Second),
		MaxTries: cfg.MaxTries,
		MaxTime:  cfg.MaxTime,
		OnRetry: func(err error, attempt int, wait time.Duration) {
			logger.Debug("retrying request", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	return c
}

// invoke wraps one transport call in the shared retry policy.
func (c *connection) invoke(ctx context.Context, method string, args, reply interface{}) error {
	return c.invoker.Invoke(ctx, func(context.Context) error {
		return c.caller.call(method, args, reply)
	})
}

func (c *connection) CreateNode(ctx context.Context) (uint64, error) {
	var reply structs.CreateNodeResponse
	err := c.invoke(ctx, "Fleet.CreateNode", &structs.CreateNodeRequest{
		PingInterval: c.pingInterval,
	}, &reply)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.nodeID = reply.NodeID
	c.startPingLocked()
	c.mu.Unlock()

	c.logger.Info("node registered", "node_id", reply.NodeID)
	return reply.NodeID, nil
}

func (c *connection) DeleteNode(ctx context.Context) error {
	nodeID, err := c.currentNode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stopPingLocked()
	c.nodeID = 0
	c.mu.Unlock()

	return c.invoke(ctx, "Fleet.DeleteNode", &structs.DeleteNodeRequest{
		NodeID: nodeID,
	}, &structs.DeleteNodeResponse{})
}

func (c *connection) Receive(ctx context.Context) (*structs.Message, error) {
	nodeID, err := c.currentNode()
	if err != nil {
		return nil, err
	}

	var reply structs.PullTaskInsResponse
	err = c.invoke(ctx, "Fleet.PullTaskIns", &structs.PullTaskInsRequest{
		NodeID: nodeID,
	}, &reply)
	if err != nil {
		return nil, err
	}

	if len(reply.TaskInsList) == 0 {
		return nil, nil
	}
	return structs.TaskInsToMessage(reply.TaskInsList[0]), nil
}

func (c *connection) Send(ctx context.Context, msg *structs.Message) error {
	if _, err := c.currentNode(); err != nil {
		return err
	}

	res, err := structs.MessageToTaskRes(msg)
	if err != nil {
		return err
	}

	var reply structs.PushTaskResResponse
	err = c.invoke(ctx, "Fleet.PushTaskRes", &structs.PushTaskResRequest{
		TaskResList: []*structs.TaskRes{res},
	}, &reply)
	if err != nil {
		return err
	}

	for key, status := range reply.Results {
		if status != structs.PushStatusOK {
			return fmt.Errorf("server rejected message %s: %s", key, status)
		}
	}
	return nil
}

func (c *connection) GetRun(ctx context.Context, runID uint64) (*structs.Run, error) {
	var reply structs.GetRunResponse
	err := c.invoke(ctx, "Fleet.GetRun", &structs.GetRunRequest{RunID: runID}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Run, nil
}

func (c *connection) GetFab(ctx context.Context, hash string) (*structs.Fab, error) {
	var reply structs.GetFabResponse
	err := c.invoke(ctx, "Fleet.GetFab", &structs.GetFabRequest{Hash: hash}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Fab, nil
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.stopPingLocked()
		c.mu.Unlock()
	})
	return c.caller.close()
}

func (c *connection) currentNode() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodeID == 0 {
		return 0, fmt.Errorf("no node registered, call CreateNode first")
	}
	return c.nodeID, nil
}

// startPingLocked starts the liveness loop for the current node id.
// Callers hold c.mu.
func (c *connection) startPingLocked() {
	c.stopPingLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	c.pingStop = stop
	c.pingDone = done
	nodeID := c.nodeID
	interval := time.Duration(c.pingInterval * float64(time.Second))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			var reply structs.PingResponse
			err := c.caller.call("Fleet.Ping", &structs.PingRequest{
				NodeID:       nodeID,
				PingInterval: c.pingInterval,
			}, &reply)
			switch {
			case err != nil:
				c.logger.Warn("ping failed", "node_id", nodeID, "error", err)
			case !reply.Success:
				c.logger.Warn("server no longer knows this node", "node_id", nodeID)
			}
		}
	}()
}

// stopPingLocked stops the liveness loop. Callers hold c.mu.
func (c *connection) stopPingLocked() {
	if c.pingStop == nil {
		return
	}
	close(c.pingStop)
	<-c.pingDone
	c.pingStop = nil
	c.pingDone = nil
}
