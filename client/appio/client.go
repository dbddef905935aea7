// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package appio

import (
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/superlink/helper/pool"
	"github.com/hashicorp/superlink/superlink/structs"
)

// Client is the workload side of the exchange.
type Client struct {
	addr string
	pool *pool.ConnPool
}

func NewClient(logger hclog.Logger, addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		addr: addr,
		pool: pool.NewPool(logger, 10*time.Second),
	}
}

// PullInputs fetches the message, context, and run bound to the token.
func (c *Client) PullInputs(token uint64) (*structs.Message, *structs.RunContext, *structs.Run, error) {
	var reply structs.PullClientAppInputsResponse
	err := c.pool.RPC(c.addr, "ClientAppIo.PullClientAppInputs", &structs.PullClientAppInputsRequest{
		Token: token,
	}, &reply)
	if err != nil {
		return nil, nil, nil, err
	}
	return reply.Message, reply.Context, reply.Run, nil
}

// PushOutputs returns the workload's reply and updated context for the
// exchange bound to the token.
func (c *Client) PushOutputs(token uint64, msg *structs.Message, runCtx *structs.RunContext) error {
	var reply structs.PushClientAppOutputsResponse
	err := c.pool.RPC(c.addr, "ClientAppIo.PushClientAppOutputs", &structs.PushClientAppOutputsRequest{
		Token:   token,
		Message: msg,
		Context: runCtx,
	}, &reply)
	if err != nil {
		return err
	}
	if reply.Status != structs.PushStatusOK {
		return fmt.Errorf("push rejected: %s", reply.Status)
	}
	return nil
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.pool.Shutdown()
}
