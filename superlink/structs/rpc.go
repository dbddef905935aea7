// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "fmt"

// Push status values reported per task id by Fleet.PushTaskRes and the
// ClientAppIo push.
const (
	PushStatusOK = "ok"
)

// NewFleetRequest returns fresh request and response values for a fleet
// method, for transports that dispatch by method name (the adapter
// envelope and the HTTP bridge).
func NewFleetRequest(method string) (args, reply interface{}, err error) {
	switch method {
	case "Fleet.CreateNode":
		return &CreateNodeRequest{}, &CreateNodeResponse{}, nil
	case "Fleet.DeleteNode":
		return &DeleteNodeRequest{}, &DeleteNodeResponse{}, nil
	case "Fleet.Ping":
		return &PingRequest{}, &PingResponse{}, nil
	case "Fleet.PullTaskIns":
		return &PullTaskInsRequest{}, &PullTaskInsResponse{}, nil
	case "Fleet.PushTaskRes":
		return &PushTaskResRequest{}, &PushTaskResResponse{}, nil
	case "Fleet.GetRun":
		return &GetRunRequest{}, &GetRunResponse{}, nil
	case "Fleet.GetFab":
		return &GetFabRequest{}, &GetFabResponse{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown fleet method: %q", method)
	}
}

// CreateNodeRequest registers a new SuperNode.
type CreateNodeRequest struct {
	// PingInterval is the liveness renewal period in seconds.
	PingInterval float64

	// PublicKey optionally binds the node to a registered key.
	PublicKey []byte
}

// CreateNodeResponse carries the freshly drawn node id.
type CreateNodeResponse struct {
	NodeID uint64
}

// DeleteNodeRequest destroys a node registration. When PublicKey is set
// it must match the stored key.
type DeleteNodeRequest struct {
	NodeID    uint64
	PublicKey []byte
}

// DeleteNodeResponse is empty; failures surface as RPC errors.
type DeleteNodeResponse struct{}

// PingRequest renews a node's liveness horizon.
type PingRequest struct {
	NodeID       uint64
	PingInterval float64
}

// PingResponse reports whether the node was known.
type PingResponse struct {
	Success bool
}

// PullTaskInsRequest fetches undelivered instructions for one node.
// Anonymous callers leave NodeID zero and set Anonymous.
type PullTaskInsRequest struct {
	NodeID    uint64
	Anonymous bool
}

// PullTaskInsResponse carries at most one instruction per pull.
type PullTaskInsResponse struct {
	TaskInsList []*TaskIns
}

// PushTaskResRequest submits results produced by a node.
type PushTaskResRequest struct {
	TaskResList []*TaskRes
}

// PushTaskResResponse reports a per-id status: the minted store id mapped
// to PushStatusOK, or the original index mapped to the failure reason.
type PushTaskResResponse struct {
	Results map[string]string
}

// GetRunRequest looks up one run.
type GetRunRequest struct {
	RunID uint64
}

// GetRunResponse carries the run, or nil when unknown.
type GetRunResponse struct {
	Run *Run
}

// GetFabRequest fetches an application bundle by content hash.
type GetFabRequest struct {
	Hash string
}

// GetFabResponse carries the bundle bytes.
type GetFabResponse struct {
	Fab *Fab
}

// PushTaskInsRequest schedules instructions on behalf of a driver.
type PushTaskInsRequest struct {
	TaskInsList []*TaskIns
}

// PushTaskInsResponse reports minted task ids in request order; rejected
// entries hold "".
type PushTaskInsResponse struct {
	TaskIDs []string
}

// PullTaskResRequest fetches replies for previously pushed instructions.
type PullTaskResRequest struct {
	TaskIDs []string
}

// PullTaskResResponse carries real and substitute replies.
type PullTaskResResponse struct {
	TaskResList []*TaskRes
}

// GetNodesRequest lists the online nodes visible to a run.
type GetNodesRequest struct {
	RunID uint64
}

// GetNodesResponse carries the online node ids.
type GetNodesResponse struct {
	NodeIDs []uint64
}

// StartRunRequest launches a run from an application bundle.
type StartRunRequest struct {
	FabFile []byte
}

// StartRunResponse carries the run id of the launched run.
type StartRunResponse struct {
	RunID uint64
}

// StreamLogsRequest subscribes to the log buffer of a run.
type StreamLogsRequest struct {
	RunID uint64
}

// StreamLogsFrame is one frame of a log stream. A non-empty Error ends
// the stream.
type StreamLogsFrame struct {
	LogOutput string
	Error     string
}

// AdapterEnvelope wraps any fleet request as an opaque byte payload, for
// transports that cannot speak the typed envelopes directly.
type AdapterEnvelope struct {
	Method  string
	Payload []byte
}

// AdapterReply carries the opaque response payload, or an error message.
type AdapterReply struct {
	Payload []byte
	Error   string
}

// PullClientAppInputsRequest asks the node for the inputs of the message
// exchange bound to Token.
type PullClientAppInputsRequest struct {
	Token uint64
}

// PullClientAppInputsResponse hands the workload its message, context,
// and run.
type PullClientAppInputsResponse struct {
	Message *Message
	Context *RunContext
	Run     *Run
}

// PushClientAppOutputsRequest returns the workload's reply message and
// updated context for the exchange bound to Token.
type PushClientAppOutputsRequest struct {
	Token   uint64
	Message *Message
	Context *RunContext
}

// PushClientAppOutputsResponse acknowledges the push.
type PushClientAppOutputsResponse struct {
	Status string
}
