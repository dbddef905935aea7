// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"bytes"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/superlink/helper/idcodec"
	"github.com/hashicorp/superlink/helper/uuid"
	"github.com/hashicorp/superlink/superlink/structs"
)

// MemStore implements Store in memory without dropping to disk. Tests
// and dev mode use this instead of a bolt database. The lock gives the
// same single-writer, concurrent-reader discipline the bolt store gets
// from its transactions.
type MemStore struct {
	logger hclog.Logger
	clock  libtime.Clock
	trace  bool

	mu       sync.RWMutex
	taskIns  map[string]*structs.TaskIns
	taskRes  map[string]*structs.TaskRes
	nodes    map[uint64]*structs.Node
	nodeKeys map[string]uint64
	runs     map[uint64]*structs.Run
	keypair  *credentialRow
	allowed  *set.Set[string]
}

// NewMemStore returns an empty in-memory store.
func NewMemStore(logger hclog.Logger, clock libtime.Clock, trace bool) *MemStore {
	return &MemStore{
		logger:   logger.Named("state_mem"),
		clock:    clock,
		trace:    trace,
		taskIns:  make(map[string]*structs.TaskIns),
		taskRes:  make(map[string]*structs.TaskRes),
		nodes:    make(map[uint64]*structs.Node),
		nodeKeys: make(map[string]uint64),
		runs:     make(map[uint64]*structs.Run),
		allowed:  set.New[string](0),
	}
}

func (m *MemStore) Name() string {
	return "memory"
}

func (m *MemStore) traceQuery(op string, args ...interface{}) {
	if m.trace {
		m.logger.Trace(op, args...)
	}
}

func (m *MemStore) StoreTaskIns(ins *structs.TaskIns) (string, error) {
	if problems := validateTaskIns(ins); len(problems) != 0 {
		return "", &structs.ValidationError{Problems: problems}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[ins.RunID]; !ok {
		return "", structs.ErrUnknownRun
	}

	stored := ins.Copy()
	stored.TaskID = uuid.Generate()
	m.taskIns[stored.TaskID] = stored

	m.traceQuery("store_task_ins", "task_id", stored.TaskID, "run_id", stored.RunID)
	return stored.TaskID, nil
}

func (m *MemStore) GetTaskIns(nodeID *uint64, limit *int) ([]*structs.TaskIns, error) {
	if err := checkTaskFilter(nodeID, limit); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*structs.TaskIns
	for _, ins := range m.taskIns {
		if wantsTaskIns(ins, nodeID) {
			matched = append(matched, ins)
		}
	}
	sortTaskIns(matched)
	if limit != nil && len(matched) > *limit {
		matched = matched[:*limit]
	}

	// Mark and return in one critical section so no instruction is
	// delivered twice under concurrent pulls.
	stamp := deliveredStamp(m.clock.Now())
	out := make([]*structs.TaskIns, 0, len(matched))
	for _, ins := range matched {
		ins.DeliveredAt = stamp
		out = append(out, ins.Copy())
	}

	m.traceQuery("get_task_ins", "count", len(out))
	return out, nil
}

func (m *MemStore) StoreTaskRes(res *structs.TaskRes) (string, error) {
	if problems := validateTaskRes(res); len(problems) != 0 {
		return "", &structs.ValidationError{Problems: problems}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[res.RunID]; !ok {
		return "", structs.ErrUnknownRun
	}

	stored := res.Copy()
	stored.TaskID = uuid.Generate()
	m.taskRes[stored.TaskID] = stored

	m.traceQuery("store_task_res", "task_id", stored.TaskID, "run_id", stored.RunID)
	return stored.TaskID, nil
}

func (m *MemStore) GetTaskRes(taskIDs *set.Set[string], limit *int) ([]*structs.TaskRes, error) {
	if err := checkTaskFilter(nil, limit); err != nil {
		return nil, err
	}
	if taskIDs.Empty() {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	// Undelivered replies answering one of the requested instructions.
	var matched []*structs.TaskRes
	for _, res := range m.taskRes {
		if res.DeliveredAt == "" && taskIDs.Contains(res.AncestorID()) {
			matched = append(matched, res)
		}
	}
	sortTaskRes(matched)
	if limit != nil && len(matched) > *limit {
		matched = matched[:*limit]
	}

	stamp := deliveredStamp(now)
	replied := set.New[string](len(matched))
	out := make([]*structs.TaskRes, 0, len(matched))
	for _, res := range matched {
		res.DeliveredAt = stamp
		replied.Insert(res.AncestorID())
		out = append(out, res.Copy())
	}

	// Instructions still unanswered whose consumer has gone offline get
	// a synthesized reply, never persisted.
	remaining := taskIDs.Difference(replied)
	var orphans []*structs.TaskIns
	for _, id := range remaining.Slice() {
		ins, ok := m.taskIns[id]
		if !ok {
			continue
		}
		node, ok := m.nodes[ins.Consumer.NodeID]
		if !ok || !node.OnlineUntil.Before(now) {
			continue
		}
		orphans = append(orphans, ins)
	}
	sortTaskIns(orphans)

	for _, ins := range orphans {
		if limit != nil && len(out) >= *limit {
			break
		}
		sub, err := makeNodeUnavailableTaskRes(ins, now)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}

	m.traceQuery("get_task_res", "requested", taskIDs.Size(), "count", len(out))
	return out, nil
}

func (m *MemStore) NumTaskIns() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.taskIns), nil
}

func (m *MemStore) NumTaskRes() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.taskRes), nil
}

func (m *MemStore) DeleteTasks(taskIDs *set.Set[string]) error {
	if taskIDs.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Delivered replies answering one of the ids, grouped by ancestor.
	resByAncestor := make(map[string][]string)
	for id, res := range m.taskRes {
		if res.DeliveredAt != "" && taskIDs.Contains(res.AncestorID()) {
			resByAncestor[res.AncestorID()] = append(resByAncestor[res.AncestorID()], id)
		}
	}

	deleted := 0
	for _, id := range taskIDs.Slice() {
		ins, ok := m.taskIns[id]
		if !ok || ins.DeliveredAt == "" {
			continue
		}
		resIDs, ok := resByAncestor[id]
		if !ok {
			continue
		}
		delete(m.taskIns, id)
		for _, resID := range resIDs {
			delete(m.taskRes, resID)
		}
		deleted++
	}

	m.traceQuery("delete_tasks", "requested", taskIDs.Size(), "deleted", deleted)
	return nil
}

func (m *MemStore) CreateNode(pingInterval float64, publicKey []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(publicKey) != 0 {
		if _, taken := m.nodeKeys[string(publicKey)]; taken {
			return 0, structs.ErrPublicKeyTaken
		}
	}

	nodeID, err := idcodec.GenerateID(idcodec.NodeIDNumBytes)
	if err != nil {
		return 0, err
	}
	if _, exists := m.nodes[nodeID]; exists || nodeID == 0 {
		return 0, structs.ErrIDCollision
	}

	now := m.clock.Now()
	m.nodes[nodeID] = &structs.Node{
		NodeID:       nodeID,
		OnlineUntil:  now.Add(secondsToDuration(pingInterval)),
		PingInterval: pingInterval,
		PublicKey:    bytes.Clone(publicKey),
	}
	if len(publicKey) != 0 {
		m.nodeKeys[string(publicKey)] = nodeID
	}

	m.traceQuery("create_node", "node_id", nodeID, "ping_interval", pingInterval)
	return nodeID, nil
}

func (m *MemStore) DeleteNode(nodeID uint64, publicKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return structs.ErrUnknownNode
	}
	if len(publicKey) != 0 && !bytes.Equal(node.PublicKey, publicKey) {
		return structs.ErrUnknownNode
	}

	delete(m.nodes, nodeID)
	if len(node.PublicKey) != 0 {
		delete(m.nodeKeys, string(node.PublicKey))
	}

	m.traceQuery("delete_node", "node_id", nodeID)
	return nil
}

func (m *MemStore) GetNodes(runID uint64) (*set.Set[uint64], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	online := set.New[uint64](len(m.nodes))
	if _, ok := m.runs[runID]; !ok {
		return online, nil
	}

	now := m.clock.Now()
	for id, node := range m.nodes {
		if node.Online(now) {
			online.Insert(id)
		}
	}

	m.traceQuery("get_nodes", "run_id", runID, "count", online.Size())
	return online, nil
}

func (m *MemStore) GetNodeID(publicKey []byte) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodeID, ok := m.nodeKeys[string(publicKey)]
	if !ok {
		return 0, structs.ErrUnknownNode
	}
	return nodeID, nil
}

func (m *MemStore) AcknowledgePing(nodeID uint64, pingInterval float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return false, nil
	}

	node.OnlineUntil = m.clock.Now().Add(secondsToDuration(pingInterval))
	node.PingInterval = pingInterval

	m.traceQuery("acknowledge_ping", "node_id", nodeID, "ping_interval", pingInterval)
	return true, nil
}

func (m *MemStore) CreateRun(fabID, fabVersion, fabHash string, overrideConfig map[string]interface{}) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID, err := idcodec.GenerateID(idcodec.RunIDNumBytes)
	if err != nil {
		return 0, err
	}
	if _, exists := m.runs[runID]; exists || runID == 0 {
		return 0, structs.ErrIDCollision
	}

	run := &structs.Run{
		RunID:          runID,
		OverrideConfig: overrideConfig,
	}
	// A run references either a pre-installed hash or an id/version
	// pair, never both.
	if fabHash != "" {
		run.FabHash = fabHash
	} else {
		run.FabID = fabID
		run.FabVersion = fabVersion
	}
	m.runs[runID] = run

	m.traceQuery("create_run", "run_id", runID, "fab_id", fabID, "fab_hash", fabHash)
	return runID, nil
}

func (m *MemStore) GetRun(runID uint64) (*structs.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	out := *run
	return &out, nil
}

func (m *MemStore) StoreServerKeypair(privateKey, publicKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair != nil {
		return structs.ErrKeypairExists
	}
	m.keypair = &credentialRow{
		PrivateKey: bytes.Clone(privateKey),
		PublicKey:  bytes.Clone(publicKey),
	}
	return nil
}

func (m *MemStore) GetServerPrivateKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.keypair == nil {
		return nil, nil
	}
	return bytes.Clone(m.keypair.PrivateKey), nil
}

func (m *MemStore) GetServerPublicKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.keypair == nil {
		return nil, nil
	}
	return bytes.Clone(m.keypair.PublicKey), nil
}

func (m *MemStore) StoreNodePublicKeys(publicKeys ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range publicKeys {
		m.allowed.Insert(string(key))
	}
	return nil
}

func (m *MemStore) GetNodePublicKeys() (*set.Set[string], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowed.Copy(), nil
}

func (m *MemStore) Close() error {
	return nil
}
