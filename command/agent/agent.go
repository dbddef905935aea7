// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package agent wires a superlink server and its HTTP bridge into one
// daemon.
package agent

import (
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/superlink/superlink"
)

// Config parameterizes the daemon.
type Config struct {
	LogLevel string

	// HTTPAddr serves the JSON bridge. Empty disables it.
	HTTPAddr string

	// Server is the underlying server config.
	Server *superlink.Config
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTPAddr: "0.0.0.0:9095",
		Server:   superlink.DefaultConfig(),
	}
}

// Agent owns the server and bridge lifecycles.
type Agent struct {
	logger hclog.InterceptLogger
	server *superlink.Server
	http   *HTTPServer
}

// NewAgent starts the server and, when configured, the bridge.
func NewAgent(config *Config) (*Agent, error) {
	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:  "superlink",
		Level: hclog.LevelFromString(config.LogLevel),
	})
	config.Server.Logger = logger

	server, err := superlink.NewServer(config.Server)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		logger: logger,
		server: server,
	}

	if config.HTTPAddr != "" {
		httpServer, err := NewHTTPServer(logger, server, config.HTTPAddr)
		if err != nil {
			server.Shutdown()
			return nil, err
		}
		a.http = httpServer
	}
	return a, nil
}

// Server exposes the underlying superlink server.
func (a *Agent) Server() *superlink.Server {
	return a.server
}

// Shutdown stops the bridge and the server, collecting every error.
func (a *Agent) Shutdown() error {
	var mErr *multierror.Error

	if a.http != nil {
		mErr = multierror.Append(mErr, a.http.Shutdown())
	}
	mErr = multierror.Append(mErr, a.server.Shutdown())

	return mErr.ErrorOrNil()
}
