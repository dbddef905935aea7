// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state implements the superlink task registry: runs, task
// instructions and results, node registrations, and credentials. Two
// implementations exist, an in-memory store for tests and dev mode and
// a bolt-backed store for real deployments.
package state

import (
	"encoding/json"
	"strings"

	"github.com/hashicorp/superlink/helper/idcodec"
	"github.com/hashicorp/superlink/superlink/structs"
)

// taskRow is the persisted form of a TaskIns or TaskRes. The backing
// store is signed-integer only, so u64 ids are stored as their sint64
// bit reinterpretation and converted back on every read. Ancestry is
// flattened to a comma separated string.
type taskRow struct {
	TaskID            string
	GroupID           string
	RunID             int64
	ProducerNodeID    int64
	ProducerAnonymous bool
	ConsumerNodeID    int64
	ConsumerAnonymous bool
	CreatedAt         float64
	DeliveredAt       string
	PushedAt          float64
	TTL               float64
	Ancestry          string
	TaskType          string
	RecordSet         []byte
}

func taskInsToRow(ins *structs.TaskIns) *taskRow {
	return &taskRow{
		TaskID:            ins.TaskID,
		GroupID:           ins.GroupID,
		RunID:             idcodec.ToSint64(ins.RunID),
		ProducerNodeID:    idcodec.ToSint64(ins.Producer.NodeID),
		ProducerAnonymous: ins.Producer.Anonymous,
		ConsumerNodeID:    idcodec.ToSint64(ins.Consumer.NodeID),
		ConsumerAnonymous: ins.Consumer.Anonymous,
		CreatedAt:         ins.CreatedAt,
		DeliveredAt:       ins.DeliveredAt,
		PushedAt:          ins.PushedAt,
		TTL:               ins.TTL,
		Ancestry:          strings.Join(ins.Ancestry, ","),
		TaskType:          ins.TaskType,
		RecordSet:         ins.RecordSet,
	}
}

func rowToTaskIns(row *taskRow) *structs.TaskIns {
	return &structs.TaskIns{
		TaskID:  row.TaskID,
		GroupID: row.GroupID,
		RunID:   idcodec.ToUint64(row.RunID),
		Producer: structs.NodeRef{
			NodeID:    idcodec.ToUint64(row.ProducerNodeID),
			Anonymous: row.ProducerAnonymous,
		},
		Consumer: structs.NodeRef{
			NodeID:    idcodec.ToUint64(row.ConsumerNodeID),
			Anonymous: row.ConsumerAnonymous,
		},
		CreatedAt:   row.CreatedAt,
		DeliveredAt: row.DeliveredAt,
		PushedAt:    row.PushedAt,
		TTL:         row.TTL,
		Ancestry:    splitAncestry(row.Ancestry),
		TaskType:    row.TaskType,
		RecordSet:   row.RecordSet,
	}
}

func taskResToRow(res *structs.TaskRes) *taskRow {
	return &taskRow{
		TaskID:            res.TaskID,
		GroupID:           res.GroupID,
		RunID:             idcodec.ToSint64(res.RunID),
		ProducerNodeID:    idcodec.ToSint64(res.Producer.NodeID),
		ProducerAnonymous: res.Producer.Anonymous,
		ConsumerNodeID:    idcodec.ToSint64(res.Consumer.NodeID),
		ConsumerAnonymous: res.Consumer.Anonymous,
		CreatedAt:         res.CreatedAt,
		DeliveredAt:       res.DeliveredAt,
		PushedAt:          res.PushedAt,
		TTL:               res.TTL,
		Ancestry:          strings.Join(res.Ancestry, ","),
		TaskType:          res.TaskType,
		RecordSet:         res.RecordSet,
	}
}

func rowToTaskRes(row *taskRow) *structs.TaskRes {
	return &structs.TaskRes{
		TaskID:  row.TaskID,
		GroupID: row.GroupID,
		RunID:   idcodec.ToUint64(row.RunID),
		Producer: structs.NodeRef{
			NodeID:    idcodec.ToUint64(row.ProducerNodeID),
			Anonymous: row.ProducerAnonymous,
		},
		Consumer: structs.NodeRef{
			NodeID:    idcodec.ToUint64(row.ConsumerNodeID),
			Anonymous: row.ConsumerAnonymous,
		},
		CreatedAt:   row.CreatedAt,
		DeliveredAt: row.DeliveredAt,
		PushedAt:    row.PushedAt,
		TTL:         row.TTL,
		Ancestry:    splitAncestry(row.Ancestry),
		TaskType:    row.TaskType,
		RecordSet:   row.RecordSet,
	}
}

func splitAncestry(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// nodeRow is the persisted form of a Node. OnlineUntil is unix
// nanoseconds.
type nodeRow struct {
	NodeID       int64
	OnlineUntil  int64
	PingInterval float64
	PublicKey    []byte
}

// runRow is the persisted form of a Run. OverrideConfig is a JSON text
// column.
type runRow struct {
	RunID          int64
	FabID          string
	FabVersion     string
	FabHash        string
	OverrideConfig string
}

func runToRow(run *structs.Run) (*runRow, error) {
	cfg, err := json.Marshal(run.OverrideConfig)
	if err != nil {
		return nil, err
	}
	return &runRow{
		RunID:          idcodec.ToSint64(run.RunID),
		FabID:          run.FabID,
		FabVersion:     run.FabVersion,
		FabHash:        run.FabHash,
		OverrideConfig: string(cfg),
	}, nil
}

func rowToRun(row *runRow) (*structs.Run, error) {
	run := &structs.Run{
		RunID:      idcodec.ToUint64(row.RunID),
		FabID:      row.FabID,
		FabVersion: row.FabVersion,
		FabHash:    row.FabHash,
	}
	if row.OverrideConfig != "" {
		if err := json.Unmarshal([]byte(row.OverrideConfig), &run.OverrideConfig); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// credentialRow is the singleton server keypair.
type credentialRow struct {
	PrivateKey []byte
	PublicKey  []byte
}
