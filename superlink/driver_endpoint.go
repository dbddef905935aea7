// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"sort"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/superlink/superlink/structs"
)

// Driver is the RPC surface the server-side application talks to:
// scheduling instructions on nodes and collecting their replies.
type Driver struct {
	srv    *Server
	logger hclog.Logger
}

// PushTaskIns stamps and stores each instruction, reporting minted ids
// in request order. Rejected entries report "".
func (d *Driver) PushTaskIns(args *structs.PushTaskInsRequest, reply *structs.PushTaskInsResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "driver", "push_task_ins"}, time.Now())

	now := d.srv.now()
	reply.TaskIDs = make([]string, 0, len(args.TaskInsList))
	for i, ins := range args.TaskInsList {
		ins = ins.Copy()
		ins.CreatedAt = now
		ins.PushedAt = now

		taskID, err := d.srv.store.StoreTaskIns(ins)
		if err != nil {
			d.logger.Warn("rejected task instruction", "index", i, "error", err)
		}
		reply.TaskIDs = append(reply.TaskIDs, taskID)
	}
	return nil
}

// PullTaskRes fetches replies for previously pushed instructions,
// substitutes included.
func (d *Driver) PullTaskRes(args *structs.PullTaskResRequest, reply *structs.PullTaskResResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "driver", "pull_task_res"}, time.Now())

	list, err := d.srv.store.GetTaskRes(set.From(args.TaskIDs), nil)
	if err != nil {
		return err
	}
	reply.TaskResList = list
	return nil
}

// GetNodes lists the online nodes visible to a run.
func (d *Driver) GetNodes(args *structs.GetNodesRequest, reply *structs.GetNodesResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "driver", "get_nodes"}, time.Now())

	online, err := d.srv.store.GetNodes(args.RunID)
	if err != nil {
		return err
	}

	ids := online.Slice()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	reply.NodeIDs = ids
	return nil
}

func (d *Driver) GetRun(args *structs.GetRunRequest, reply *structs.GetRunResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "driver", "get_run"}, time.Now())

	run, err := d.srv.store.GetRun(args.RunID)
	if err != nil {
		return err
	}
	reply.Run = run
	return nil
}
