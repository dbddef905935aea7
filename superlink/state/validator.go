// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	"github.com/hashicorp/superlink/superlink/structs"
)

// validateTaskIns checks the structural rules every instruction must
// satisfy before insert. Returns the list of problems found; empty
// means valid.
func validateTaskIns(ins *structs.TaskIns) []string {
	problems := validateTaskCommon(
		ins.RunID, ins.Producer, ins.Consumer,
		ins.DeliveredAt, ins.TTL, ins.TaskType, ins.RecordSet)

	if len(ins.Ancestry) != 0 {
		problems = append(problems, "instruction must not carry an ancestry")
	}
	return problems
}

// validateTaskRes is validateTaskIns for results, which must answer
// exactly one instruction.
func validateTaskRes(res *structs.TaskRes) []string {
	problems := validateTaskCommon(
		res.RunID, res.Producer, res.Consumer,
		res.DeliveredAt, res.TTL, res.TaskType, res.RecordSet)

	switch {
	case len(res.Ancestry) != 1:
		problems = append(problems, "result must carry exactly one ancestor")
	case res.Ancestry[0] == "":
		problems = append(problems, "result ancestor must not be empty")
	}
	return problems
}

func validateTaskCommon(runID uint64, producer, consumer structs.NodeRef, deliveredAt string, ttl float64, taskType string, recordSet []byte) []string {
	var problems []string

	if runID == 0 {
		problems = append(problems, "run_id must not be zero")
	}
	if deliveredAt != "" {
		problems = append(problems, "delivered_at must be unset on insert")
	}
	if ttl <= 0 {
		problems = append(problems, fmt.Sprintf("ttl must be positive, got %v", ttl))
	}
	if taskType == "" {
		problems = append(problems, "task_type must not be empty")
	}
	if len(recordSet) == 0 {
		problems = append(problems, "recordset must be present")
	}

	problems = append(problems, validateNodeRef("producer", producer)...)
	problems = append(problems, validateNodeRef("consumer", consumer)...)
	return problems
}

func validateNodeRef(role string, ref structs.NodeRef) []string {
	switch {
	case ref.Anonymous && ref.NodeID != 0:
		return []string{fmt.Sprintf("anonymous %s must not carry a node id", role)}
	case !ref.Anonymous && ref.NodeID == 0:
		return []string{fmt.Sprintf("%s node id must not be zero", role)}
	}
	return nil
}
