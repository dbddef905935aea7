// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package client

import (
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/superlink/api"
	"github.com/hashicorp/superlink/helper/pool"
	"github.com/hashicorp/superlink/superlink/structs"
)

// NewRPCConnection returns a Connection speaking the typed envelopes
// over pooled multiplexed RPC.
func NewRPCConnection(cfg *Config) Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	caller := &rpcCaller{
		addr: cfg.ServerAddr,
		pool: pool.NewPool(logger, 10*time.Second),
	}
	return newConnection(cfg, caller)
}

type rpcCaller struct {
	addr string
	pool *pool.ConnPool
}

func (r *rpcCaller) call(method string, args, reply interface{}) error {
	return r.pool.RPC(r.addr, method, args, reply)
}

func (r *rpcCaller) close() error {
	return r.pool.Shutdown()
}

// NewAdapterConnection returns a Connection that wraps every fleet
// request in an opaque byte envelope, for deployments whose transport
// cannot carry the typed envelopes.
func NewAdapterConnection(cfg *Config) Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	caller := &adapterCaller{
		addr: cfg.ServerAddr,
		pool: pool.NewPool(logger, 10*time.Second),
	}
	return newConnection(cfg, caller)
}

type adapterCaller struct {
	addr string
	pool *pool.ConnPool
}

func (a *adapterCaller) call(method string, args, reply interface{}) error {
	payload, err := structs.Encode(args)
	if err != nil {
		return err
	}

	var envReply structs.AdapterReply
	err = a.pool.RPC(a.addr, "Adapter.Call", &structs.AdapterEnvelope{
		Method:  method,
		Payload: payload,
	}, &envReply)
	if err != nil {
		return err
	}
	if envReply.Error != "" {
		return fmt.Errorf("%s", envReply.Error)
	}
	return structs.Decode(envReply.Payload, reply)
}

func (a *adapterCaller) close() error {
	return a.pool.Shutdown()
}

// NewRESTConnection returns a Connection over the HTTP bridge.
// ServerAddr is the bridge base URL.
func NewRESTConnection(cfg *Config) (Connection, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.ServerAddr

	apiClient, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}
	return newConnection(cfg, &restCaller{api: apiClient}), nil
}

type restCaller struct {
	api *api.Client
}

func (r *restCaller) call(method string, args, reply interface{}) error {
	return r.api.Call(method, args, reply)
}

func (r *restCaller) close() error {
	return nil
}
