// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"io"
	"sync"
)

// StreamingRpcHeader is the first message on a streaming RPC connection
// and selects the handler to hijack the rest of the stream.
type StreamingRpcHeader struct {
	// Method is the name of the registered streaming handler.
	Method string
}

// StreamingRpcAck acknowledges a streaming RPC request. A non-empty Error
// means no handler was invoked and the connection will be closed.
type StreamingRpcAck struct {
	Error string
}

// StreamingRpcHandler takes over the connection after the ack is sent.
type StreamingRpcHandler func(conn io.ReadWriteCloser)

// StreamingRpcRegistry maps method names to streaming handlers.
type StreamingRpcRegistry struct {
	mu       sync.RWMutex
	registry map[string]StreamingRpcHandler
}

// NewStreamingRpcRegistry returns an empty registry.
func NewStreamingRpcRegistry() *StreamingRpcRegistry {
	return &StreamingRpcRegistry{
		registry: make(map[string]StreamingRpcHandler),
	}
}

// Register adds a new handler for the given method.
func (s *StreamingRpcRegistry) Register(method string, handler StreamingRpcHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[method] = handler
}

// GetHandler returns the handler for the given method or an error if the
// method is unknown.
func (s *StreamingRpcRegistry) GetHandler(method string) (StreamingRpcHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.registry[method]
	if !ok {
		return nil, fmt.Errorf("unknown streaming rpc method: %q", method)
	}
	return h, nil
}
