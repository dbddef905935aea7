// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the shared task registry types and the RPC
// request/response envelopes exchanged between drivers, nodes, and the
// superlink server.
package structs

import (
	"slices"
	"time"
)

const (
	// TaskTypeError marks a TaskRes that carries an error record instead
	// of an application payload, such as the substitute replies the store
	// synthesizes for offline nodes.
	TaskTypeError = "error"
)

// Error codes carried in an ErrorRecord.
const (
	ErrorCodeUnknown                  uint64 = 0
	ErrorCodeLoadClientAppException   uint64 = 1
	ErrorCodeClientAppRaisedException uint64 = 2
	ErrorCodeNodeUnavailable          uint64 = 3
)

// NodeRef addresses the producer or consumer of a task. Anonymous refs
// must carry a zero node id; addressed refs must carry a nonzero one.
type NodeRef struct {
	NodeID    uint64
	Anonymous bool
}

// TaskIns is a work instruction addressed from a producer (driver or
// anonymous) to a consumer node. TaskID is minted by the store on insert;
// DeliveredAt stays "" until the consumer pulls it.
type TaskIns struct {
	TaskID      string
	GroupID     string
	RunID       uint64
	Producer    NodeRef
	Consumer    NodeRef
	CreatedAt   float64
	DeliveredAt string
	PushedAt    float64
	TTL         float64
	Ancestry    []string
	TaskType    string
	RecordSet   []byte
}

// Copy returns a deep copy of the instruction.
func (t *TaskIns) Copy() *TaskIns {
	if t == nil {
		return nil
	}
	nt := *t
	nt.Ancestry = slices.Clone(t.Ancestry)
	nt.RecordSet = slices.Clone(t.RecordSet)
	return &nt
}

// TaskRes is a reply to a specific TaskIns. Ancestry holds exactly one
// element, the task id being answered.
type TaskRes struct {
	TaskID      string
	GroupID     string
	RunID       uint64
	Producer    NodeRef
	Consumer    NodeRef
	CreatedAt   float64
	DeliveredAt string
	PushedAt    float64
	TTL         float64
	Ancestry    []string
	TaskType    string
	RecordSet   []byte
}

// Copy returns a deep copy of the result.
func (t *TaskRes) Copy() *TaskRes {
	if t == nil {
		return nil
	}
	nt := *t
	nt.Ancestry = slices.Clone(t.Ancestry)
	nt.RecordSet = slices.Clone(t.RecordSet)
	return &nt
}

// AncestorID returns the task id this result answers, or "" when the
// ancestry is malformed.
func (t *TaskRes) AncestorID() string {
	if len(t.Ancestry) == 0 {
		return ""
	}
	return t.Ancestry[0]
}

// Run is a logical training job. Immutable once created; referenced by
// every task through RunID.
type Run struct {
	RunID          uint64
	FabID          string
	FabVersion     string
	FabHash        string
	OverrideConfig map[string]interface{}
}

// Node is a SuperNode registration. OnlineUntil advances on every ping
// acknowledgment; a node whose horizon has passed is considered offline.
type Node struct {
	NodeID       uint64
	OnlineUntil  time.Time
	PingInterval float64
	PublicKey    []byte
}

// Online reports whether the node's liveness horizon is still ahead of
// now.
func (n *Node) Online(now time.Time) bool {
	return n.OnlineUntil.After(now)
}

// Fab is an application bundle addressed by content hash.
type Fab struct {
	Hash    string
	Content []byte
}

// Metadata describes one application-level message as seen by a node.
// MessageID mirrors the store's task id on the wire.
type Metadata struct {
	RunID          uint64
	MessageID      string
	SrcNodeID      uint64
	DstNodeID      uint64
	ReplyToMessage string
	GroupID        string
	TTL            float64
	MessageType    string
	CreatedAt      float64
}

// Message is the application-level unit a node's workload consumes and
// produces. Content is the opaque recordset payload; Error is set instead
// of Content on failure replies.
type Message struct {
	Metadata Metadata
	Content  []byte
	Error    *ErrorRecord
}

// HasError reports whether the message carries an error instead of
// content.
func (m *Message) HasError() bool {
	return m.Error != nil
}

// RunContext is the per-run state handed to a workload process along with
// each message.
type RunContext struct {
	NodeID     uint64
	NodeConfig map[string]interface{}
	State      []byte
	RunConfig  map[string]interface{}
}
