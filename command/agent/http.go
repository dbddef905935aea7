// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/superlink/api"
	"github.com/hashicorp/superlink/superlink/structs"
)

// RPCer dispatches one RPC locally. The superlink server implements
// this; tests substitute their own.
type RPCer interface {
	RPC(method string, args, reply interface{}) error
}

// HTTPServer bridges the fleet surface to JSON over HTTP. Each route
// decodes its request envelope, dispatches through RPCer, and encodes
// the response envelope.
type HTTPServer struct {
	logger   hclog.Logger
	rpc      RPCer
	listener net.Listener
	server   *http.Server
}

// NewHTTPServer binds the bridge and starts serving.
func NewHTTPServer(logger hclog.Logger, rpc RPCer, addr string) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	h := &HTTPServer{
		logger:   logger.Named("http"),
		rpc:      rpc,
		listener: ln,
	}

	mux := http.NewServeMux()
	for method, path := range api.RPCPaths {
		mux.HandleFunc("POST "+path, h.bridge(method))
	}

	h.server = &http.Server{Handler: mux}
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("http server failed", "error", err)
		}
	}()

	h.logger.Info("http bridge listening", "address", ln.Addr().String())
	return h, nil
}

// Addr returns the bound listener address.
func (h *HTTPServer) Addr() net.Addr {
	return h.listener.Addr()
}

// Shutdown stops the bridge.
func (h *HTTPServer) Shutdown() error {
	return h.server.Close()
}

// bridge builds the handler for one fleet method.
func (h *HTTPServer) bridge(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer metrics.IncrCounter([]string{"superlink", "http", "request"}, 1)

		args, reply, err := structs.NewFleetRequest(method)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		if err := json.NewDecoder(r.Body).Decode(args); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		if err := h.rpc.RPC(method, args, reply); err != nil {
			h.logger.Debug("bridged rpc failed", "method", method, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			h.logger.Error("failed to encode response", "method", method, "error", err)
		}
	}
}
