// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package api is the HTTP client for the superlink bridge: the fleet
// surface exposed as JSON over REST for callers that cannot speak the
// RPC protocol.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"github.com/hashicorp/superlink/superlink/structs"
)

// RPCPaths maps fleet RPC methods onto their HTTP routes. The bridge
// registers a handler per entry; Call resolves through the same table.
var RPCPaths = map[string]string{
	"Fleet.CreateNode":  "/api/v0/fleet/create-node",
	"Fleet.DeleteNode":  "/api/v0/fleet/delete-node",
	"Fleet.Ping":        "/api/v0/fleet/ping",
	"Fleet.PullTaskIns": "/api/v0/fleet/pull-task-ins",
	"Fleet.PushTaskRes": "/api/v0/fleet/push-task-res",
	"Fleet.GetRun":      "/api/v0/fleet/get-run",
	"Fleet.GetFab":      "/api/v0/fleet/get-fab",
}

// Config parameterizes an api Client.
type Config struct {
	// Address is the bridge base URL.
	Address string

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// DefaultConfig returns the client defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:    "http://127.0.0.1:9095",
		HTTPClient: cleanhttp.DefaultPooledClient(),
	}
}

// Client talks JSON to the superlink HTTP bridge.
type Client struct {
	base string
	http *http.Client
}

// NewClient validates the config and returns a client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address must be set")
	}
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", cfg.Address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid address scheme %q", u.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{
		base: strings.TrimSuffix(cfg.Address, "/"),
		http: httpClient,
	}, nil
}

// Call carries one fleet request over the bridge, addressed by RPC
// method name.
func (c *Client) Call(method string, args, reply interface{}) error {
	path, ok := RPCPaths[method]
	if !ok {
		return fmt.Errorf("method %q is not exposed over the bridge", method)
	}
	return c.post(path, args, reply)
}

func (c *Client) post(path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateNode registers a node and returns its id.
func (c *Client) CreateNode(pingInterval float64) (uint64, error) {
	var reply structs.CreateNodeResponse
	err := c.Call("Fleet.CreateNode", &structs.CreateNodeRequest{
		PingInterval: pingInterval,
	}, &reply)
	return reply.NodeID, err
}

// DeleteNode destroys a node registration.
func (c *Client) DeleteNode(nodeID uint64) error {
	return c.Call("Fleet.DeleteNode", &structs.DeleteNodeRequest{
		NodeID: nodeID,
	}, &structs.DeleteNodeResponse{})
}

// Ping renews the node's liveness horizon.
func (c *Client) Ping(nodeID uint64, pingInterval float64) (bool, error) {
	var reply structs.PingResponse
	err := c.Call("Fleet.Ping", &structs.PingRequest{
		NodeID:       nodeID,
		PingInterval: pingInterval,
	}, &reply)
	return reply.Success, err
}

// PullTaskIns fetches the next instruction for the node, or nil.
func (c *Client) PullTaskIns(nodeID uint64) (*structs.TaskIns, error) {
	var reply structs.PullTaskInsResponse
	err := c.Call("Fleet.PullTaskIns", &structs.PullTaskInsRequest{
		NodeID: nodeID,
	}, &reply)
	if err != nil || len(reply.TaskInsList) == 0 {
		return nil, err
	}
	return reply.TaskInsList[0], nil
}

// PushTaskRes submits results and returns the per-entry status.
func (c *Client) PushTaskRes(list []*structs.TaskRes) (map[string]string, error) {
	var reply structs.PushTaskResResponse
	err := c.Call("Fleet.PushTaskRes", &structs.PushTaskResRequest{
		TaskResList: list,
	}, &reply)
	return reply.Results, err
}

// GetRun fetches run metadata, or nil when unknown.
func (c *Client) GetRun(runID uint64) (*structs.Run, error) {
	var reply structs.GetRunResponse
	err := c.Call("Fleet.GetRun", &structs.GetRunRequest{RunID: runID}, &reply)
	return reply.Run, err
}

// GetFab fetches an application bundle by content hash.
func (c *Client) GetFab(hash string) (*structs.Fab, error) {
	var reply structs.GetFabResponse
	err := c.Call("Fleet.GetFab", &structs.GetFabRequest{Hash: hash}, &reply)
	return reply.Fab, err
}
