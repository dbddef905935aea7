// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"errors"
	"sort"
	"time"

	"github.com/hashicorp/superlink/helper/uuid"
	"github.com/hashicorp/superlink/superlink/structs"
)

var (
	errZeroNodeID = errors.New("node id must not be zero, pass nil to select anonymous tasks")
	errBadLimit   = errors.New("limit must be positive")
)

// secondsToDuration converts a fractional second count, the unit ping
// intervals and ttls travel in, to a time.Duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// deliveredStamp formats a delivery timestamp. The empty string is the
// not-yet-delivered sentinel, so a real stamp is never empty.
func deliveredStamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

// checkTaskFilter rejects the argument combinations fetch-and-mark
// operations never accept.
func checkTaskFilter(nodeID *uint64, limit *int) error {
	if nodeID != nil && *nodeID == 0 {
		return errZeroNodeID
	}
	if limit != nil && *limit < 1 {
		return errBadLimit
	}
	return nil
}

// wantsTaskIns reports whether an undelivered instruction matches the
// fetch filter: a nil nodeID selects anonymous instructions.
func wantsTaskIns(ins *structs.TaskIns, nodeID *uint64) bool {
	if ins.DeliveredAt != "" {
		return false
	}
	if nodeID == nil {
		return ins.Consumer.Anonymous && ins.Consumer.NodeID == 0
	}
	return !ins.Consumer.Anonymous && ins.Consumer.NodeID == *nodeID
}

// sortTaskIns orders instructions by creation time, task id breaking
// ties, so limited fetches are deterministic.
func sortTaskIns(list []*structs.TaskIns) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].TaskID < list[j].TaskID
	})
}

// sortTaskRes is sortTaskIns for results.
func sortTaskRes(list []*structs.TaskRes) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].TaskID < list[j].TaskID
	})
}

// makeNodeUnavailableTaskRes synthesizes the substitute reply delivered
// in place of a real one when the consumer of an instruction has gone
// offline. The reply flips producer and consumer, answers the
// instruction through its ancestry, and carries a NodeUnavailable error
// record as its payload. It is never persisted.
func makeNodeUnavailableTaskRes(ins *structs.TaskIns, now time.Time) (*structs.TaskRes, error) {
	record := &structs.ErrorRecord{
		Code:   structs.ErrorCodeNodeUnavailable,
		Reason: "node unavailable: the destination node exceeded the deadline implied by its last ping",
	}
	blob, err := record.Encode()
	if err != nil {
		return nil, err
	}

	return &structs.TaskRes{
		TaskID:    uuid.Generate(),
		GroupID:   ins.GroupID,
		RunID:     ins.RunID,
		Producer:  ins.Consumer,
		Consumer:  ins.Producer,
		CreatedAt: float64(now.UnixNano()) / float64(time.Second),
		TTL:       ins.TTL,
		Ancestry:  []string{ins.TaskID},
		TaskType:  structs.TaskTypeError,
		RecordSet: blob,
	}, nil
}
