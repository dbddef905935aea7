// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/superlink/superlink/structs"
)

// Adapter lets transports that cannot speak the typed envelopes carry
// fleet requests as opaque byte payloads. The envelope names the fleet
// method and the payload is the msgpack encoding of its request.
type Adapter struct {
	srv    *Server
	logger hclog.Logger
}

// Call decodes the payload for the named fleet method, dispatches it
// locally, and returns the encoded response. Endpoint errors travel in
// the reply rather than as RPC errors so the adapter transport stays
// payload-agnostic.
func (a *Adapter) Call(args *structs.AdapterEnvelope, reply *structs.AdapterReply) error {
	defer metrics.MeasureSince([]string{"superlink", "adapter", "call"}, time.Now())

	req, resp, err := structs.NewFleetRequest(args.Method)
	if err != nil {
		return fmt.Errorf("method %q is not reachable through the adapter", args.Method)
	}
	if err := structs.Decode(args.Payload, req); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", args.Method, err)
	}

	if err := a.srv.RPC(args.Method, req, resp); err != nil {
		a.logger.Debug("adapter call failed", "method", args.Method, "error", err)
		reply.Error = err.Error()
		return nil
	}

	payload, err := structs.Encode(resp)
	if err != nil {
		return fmt.Errorf("failed to encode %s response: %w", args.Method, err)
	}
	reply.Payload = payload
	return nil
}
