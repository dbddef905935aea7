// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"fmt"
	"strconv"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/superlink/helper/pointer"
	"github.com/hashicorp/superlink/superlink/structs"
)

// Fleet is the RPC surface nodes talk to: registration, liveness, and
// the pull-instructions / push-results exchange.
type Fleet struct {
	srv    *Server
	logger hclog.Logger
}

func (f *Fleet) CreateNode(args *structs.CreateNodeRequest, reply *structs.CreateNodeResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "create_node"}, time.Now())

	if args.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %v", args.PingInterval)
	}

	nodeID, err := f.srv.store.CreateNode(args.PingInterval, args.PublicKey)
	if err != nil {
		return err
	}

	f.logger.Debug("registered node", "node_id", nodeID)
	reply.NodeID = nodeID
	return nil
}

func (f *Fleet) DeleteNode(args *structs.DeleteNodeRequest, reply *structs.DeleteNodeResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "delete_node"}, time.Now())

	if args.NodeID == 0 {
		return fmt.Errorf("node id must not be zero")
	}
	if err := f.srv.store.DeleteNode(args.NodeID, args.PublicKey); err != nil {
		return err
	}

	f.logger.Debug("deleted node", "node_id", args.NodeID)
	return nil
}

// Ping renews the caller's liveness horizon. An unknown node soft-fails
// with Success false so the caller can re-register.
func (f *Fleet) Ping(args *structs.PingRequest, reply *structs.PingResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "ping"}, time.Now())

	ok, err := f.srv.store.AcknowledgePing(args.NodeID, args.PingInterval)
	if err != nil {
		return err
	}
	reply.Success = ok
	return nil
}

// PullTaskIns fetches at most one undelivered instruction for the
// caller.
func (f *Fleet) PullTaskIns(args *structs.PullTaskInsRequest, reply *structs.PullTaskInsResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "pull_task_ins"}, time.Now())

	var nodeID *uint64
	if !args.Anonymous {
		if args.NodeID == 0 {
			return fmt.Errorf("node id must not be zero")
		}
		nodeID = &args.NodeID
	}

	list, err := f.srv.store.GetTaskIns(nodeID, pointer.Of(1))
	if err != nil {
		return err
	}
	reply.TaskInsList = list
	return nil
}

// PushTaskRes stores each submitted result, stamping the push time, and
// reports a per-entry status: minted id to "ok" on success, request
// index to the failure reason otherwise.
func (f *Fleet) PushTaskRes(args *structs.PushTaskResRequest, reply *structs.PushTaskResResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "push_task_res"}, time.Now())

	now := f.srv.now()
	reply.Results = make(map[string]string, len(args.TaskResList))
	for i, res := range args.TaskResList {
		res = res.Copy()
		res.PushedAt = now

		taskID, err := f.srv.store.StoreTaskRes(res)
		if err != nil {
			f.logger.Warn("rejected task result", "index", i, "error", err)
			reply.Results[strconv.Itoa(i)] = err.Error()
			continue
		}
		reply.Results[taskID] = structs.PushStatusOK
	}
	return nil
}

func (f *Fleet) GetRun(args *structs.GetRunRequest, reply *structs.GetRunResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "get_run"}, time.Now())

	run, err := f.srv.store.GetRun(args.RunID)
	if err != nil {
		return err
	}
	reply.Run = run
	return nil
}

// GetFab serves an application bundle by content hash.
func (f *Fleet) GetFab(args *structs.GetFabRequest, reply *structs.GetFabResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "fleet", "get_fab"}, time.Now())

	fab, err := f.srv.fabs.Get(args.Hash)
	if err != nil {
		return err
	}
	reply.Fab = fab
	return nil
}
