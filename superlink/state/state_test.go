// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-set/v3"
	"github.com/shoenig/test/must"
	bbolt "go.etcd.io/bbolt"
	"oss.indeed.com/go/libtime"
	"oss.indeed.com/go/libtime/libtimetest"

	"github.com/hashicorp/superlink/ci"
	"github.com/hashicorp/superlink/helper/idcodec"
	"github.com/hashicorp/superlink/helper/pointer"
	"github.com/hashicorp/superlink/helper/testlog"
	"github.com/hashicorp/superlink/superlink/structs"
)

type storeFactory struct {
	name  string
	build func(t *testing.T, clock libtime.Clock) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{{
		name: "memory",
		build: func(t *testing.T, clock libtime.Clock) Store {
			return NewMemStore(testlog.HCLogger(t), clock, true)
		},
	}, {
		name: "bolt",
		build: func(t *testing.T, clock libtime.Clock) Store {
			store, err := NewBoltStore(testlog.HCLogger(t), t.TempDir(), clock, true)
			must.NoError(t, err)
			return store
		},
	}}
}

// testStores runs fn against every Store implementation.
func testStores(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.build(t, libtime.SystemClock())
			t.Cleanup(func() { must.NoError(t, store.Close()) })
			fn(t, store)
		})
	}
}

// testStoresWithClock is testStores with a controllable clock for tests
// that exercise liveness arithmetic.
func testStoresWithClock(t *testing.T, fn func(t *testing.T, store Store, tc *testClock)) {
	t.Helper()
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			tc := newTestClock(t)
			store := factory.build(t, tc.clock)
			t.Cleanup(func() { must.NoError(t, store.Close()) })
			fn(t, store, tc)
		})
	}
}

// testClock is a mock clock whose reading only moves when a test
// advances it.
type testClock struct {
	mu    sync.Mutex
	now   time.Time
	clock libtime.Clock
}

func newTestClock(t *testing.T) *testClock {
	tc := &testClock{now: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)}
	mock := libtimetest.NewClockMock(t)
	mock.NowMock.Set(tc.read)
	tc.clock = mock
	return tc
}

func (tc *testClock) read() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *testClock) advance(d time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.now = tc.now.Add(d)
}

func mustCreateRun(t *testing.T, store Store) uint64 {
	t.Helper()
	runID, err := store.CreateRun("app", "1.0.0", "", nil)
	must.NoError(t, err)
	must.Positive(t, runID)
	return runID
}

func mustCreateNode(t *testing.T, store Store, pingInterval float64) uint64 {
	t.Helper()
	nodeID, err := store.CreateNode(pingInterval, nil)
	must.NoError(t, err)
	must.Positive(t, nodeID)
	return nodeID
}

// mockTaskIns builds a valid instruction from an anonymous producer to
// the given node.
func mockTaskIns(runID, nodeID uint64) *structs.TaskIns {
	return &structs.TaskIns{
		GroupID:   "round-1",
		RunID:     runID,
		Producer:  structs.NodeRef{Anonymous: true},
		Consumer:  structs.NodeRef{NodeID: nodeID},
		CreatedAt: 1000,
		PushedAt:  1000,
		TTL:       3600,
		TaskType:  "train",
		RecordSet: []byte("serialized recordset"),
	}
}

// mockTaskRes builds a valid result from the node back to an anonymous
// consumer, answering ancestor.
func mockTaskRes(runID, nodeID uint64, ancestor string) *structs.TaskRes {
	return &structs.TaskRes{
		GroupID:   "round-1",
		RunID:     runID,
		Producer:  structs.NodeRef{NodeID: nodeID},
		Consumer:  structs.NodeRef{Anonymous: true},
		CreatedAt: 1001,
		PushedAt:  1001,
		TTL:       3600,
		TaskType:  "train",
		RecordSet: []byte("serialized reply"),
		Ancestry:  []string{ancestor},
	}
}

func TestStore_StoreTaskIns_roundTrip(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		ins := mockTaskIns(runID, nodeID)
		taskID, err := store.StoreTaskIns(ins)
		must.NoError(t, err)
		must.NotEq(t, "", taskID)

		// caller's copy is not mutated
		must.Eq(t, "", ins.TaskID)

		pulled, err := store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)
		must.Len(t, 1, pulled)

		got := pulled[0]
		must.Eq(t, taskID, got.TaskID)
		must.NotEq(t, "", got.DeliveredAt)

		// equal modulo the minted id and the delivery stamp
		got.TaskID = ""
		got.DeliveredAt = ""
		must.Eq(t, ins, got)

		// delivered exactly once
		again, err := store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)
		must.Len(t, 0, again)
	})
}

func TestStore_StoreTaskIns_unknownRun(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		nodeID := mustCreateNode(t, store, 30)

		ins := mockTaskIns(90000001, nodeID)
		taskID, err := store.StoreTaskIns(ins)
		must.Error(t, err)
		must.True(t, structs.IsErrUnknownRun(err))
		must.Eq(t, "", taskID)

		n, err := store.NumTaskIns()
		must.NoError(t, err)
		must.Zero(t, n)
	})
}

func TestStore_StoreTaskIns_invalid(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)

		broken := mockTaskIns(runID, 0)
		broken.TTL = 0
		broken.TaskType = ""

		taskID, err := store.StoreTaskIns(broken)
		must.Error(t, err)
		must.Eq(t, "", taskID)

		var verr *structs.ValidationError
		must.True(t, errors.As(err, &verr))
		must.SliceNotEmpty(t, verr.Problems)
	})
}

func TestStore_GetTaskIns_boundaries(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		_, err := store.GetTaskIns(pointer.Of(uint64(0)), nil)
		must.ErrorIs(t, err, errZeroNodeID)

		nodeID := uint64(1)
		_, err = store.GetTaskIns(&nodeID, pointer.Of(0))
		must.ErrorIs(t, err, errBadLimit)
	})
}

func TestStore_GetTaskIns_anonymous(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)

		ins := mockTaskIns(runID, 0)
		ins.Consumer = structs.NodeRef{Anonymous: true}
		_, err := store.StoreTaskIns(ins)
		must.NoError(t, err)

		// addressed pulls do not see anonymous instructions
		nodeID := uint64(12345)
		pulled, err := store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)
		must.Len(t, 0, pulled)

		pulled, err = store.GetTaskIns(nil, nil)
		must.NoError(t, err)
		must.Len(t, 1, pulled)
		must.True(t, pulled[0].Consumer.Anonymous)
	})
}

func TestStore_GetTaskIns_limitOrder(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		for i := 0; i < 3; i++ {
			ins := mockTaskIns(runID, nodeID)
			ins.CreatedAt = float64(1000 + i)
			_, err := store.StoreTaskIns(ins)
			must.NoError(t, err)
		}

		first, err := store.GetTaskIns(&nodeID, pointer.Of(2))
		must.NoError(t, err)
		must.Len(t, 2, first)
		must.Eq(t, 1000.0, first[0].CreatedAt)
		must.Eq(t, 1001.0, first[1].CreatedAt)

		rest, err := store.GetTaskIns(&nodeID, pointer.Of(2))
		must.NoError(t, err)
		must.Len(t, 1, rest)
		must.Eq(t, 1002.0, rest[0].CreatedAt)
	})
}

// TestStore_GetTaskIns_concurrent asserts delivery uniqueness: under
// concurrent pulls by the same node every instruction is returned to
// exactly one caller.
func TestStore_GetTaskIns_concurrent(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		const total = 60
		for i := 0; i < total; i++ {
			_, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
			must.NoError(t, err)
		}

		var mu sync.Mutex
		seen := make(map[string]int)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					pulled, err := store.GetTaskIns(&nodeID, pointer.Of(5))
					must.NoError(t, err)
					if len(pulled) == 0 {
						return
					}
					mu.Lock()
					for _, ins := range pulled {
						seen[ins.TaskID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		must.MapLen(t, total, seen)
		for taskID, count := range seen {
			must.Eq(t, 1, count, must.Sprintf("task %s delivered %d times", taskID, count))
		}
	})
}

func TestStore_GetTaskRes_realReply(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		insID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
		must.NoError(t, err)

		_, err = store.GetTaskIns(&nodeID, pointer.Of(1))
		must.NoError(t, err)

		resID, err := store.StoreTaskRes(mockTaskRes(runID, nodeID, insID))
		must.NoError(t, err)

		replies, err := store.GetTaskRes(set.From([]string{insID}), nil)
		must.NoError(t, err)
		must.Len(t, 1, replies)
		must.Eq(t, resID, replies[0].TaskID)
		must.Eq(t, []string{insID}, replies[0].Ancestry)
		must.NotEq(t, "", replies[0].DeliveredAt)

		// a reply is delivered exactly once
		again, err := store.GetTaskRes(set.From([]string{insID}), nil)
		must.NoError(t, err)
		must.Len(t, 0, again)
	})
}

// TestStore_GetTaskRes_offlineSubstitute covers the liveness pathway: a
// node that stops pinging earns its unanswered instructions a
// synthesized unavailable reply, which is never persisted.
func TestStore_GetTaskRes_offlineSubstitute(t *testing.T) {
	ci.Parallel(t)

	testStoresWithClock(t, func(t *testing.T, store Store, tc *testClock) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		insID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
		must.NoError(t, err)

		// while the node is online no substitute is synthesized
		replies, err := store.GetTaskRes(set.From([]string{insID}), nil)
		must.NoError(t, err)
		must.Len(t, 0, replies)

		// the node misses its ping deadline
		tc.advance(60 * time.Second)

		replies, err = store.GetTaskRes(set.From([]string{insID}), nil)
		must.NoError(t, err)
		must.Len(t, 1, replies)

		sub := replies[0]
		must.Eq(t, structs.TaskTypeError, sub.TaskType)
		must.Eq(t, []string{insID}, sub.Ancestry)
		must.Eq(t, nodeID, sub.Producer.NodeID)
		must.True(t, sub.Consumer.Anonymous)

		record, err := structs.DecodeErrorRecord(sub.RecordSet)
		must.NoError(t, err)
		must.Eq(t, structs.ErrorCodeNodeUnavailable, record.Code)

		// not persisted: the count is untouched and a second pull
		// synthesizes again
		n, err := store.NumTaskRes()
		must.NoError(t, err)
		must.Zero(t, n)

		again, err := store.GetTaskRes(set.From([]string{insID}), nil)
		must.NoError(t, err)
		must.Len(t, 1, again)
		must.NotEq(t, sub.TaskID, again[0].TaskID)
	})
}

func TestStore_GetTaskRes_limit(t *testing.T) {
	ci.Parallel(t)

	testStoresWithClock(t, func(t *testing.T, store Store, tc *testClock) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		var insIDs []string
		for i := 0; i < 3; i++ {
			insID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
			must.NoError(t, err)
			insIDs = append(insIDs, insID)
		}

		// one real reply, two instructions left unanswered
		_, err := store.StoreTaskRes(mockTaskRes(runID, nodeID, insIDs[0]))
		must.NoError(t, err)

		tc.advance(60 * time.Second)

		// real replies fill the budget before substitutes
		replies, err := store.GetTaskRes(set.From(insIDs), pointer.Of(2))
		must.NoError(t, err)
		must.Len(t, 2, replies)
		must.Eq(t, insIDs[0], replies[0].AncestorID())
		must.NotEq(t, structs.TaskTypeError, replies[0].TaskType)
		must.Eq(t, structs.TaskTypeError, replies[1].TaskType)

		// substitutes are computed per call, so the unanswered pair
		// earns one substitute each on the next pull
		replies, err = store.GetTaskRes(set.From(insIDs[1:]), nil)
		must.NoError(t, err)
		must.Len(t, 2, replies)
		ancestors := set.New[string](2)
		for _, res := range replies {
			must.Eq(t, structs.TaskTypeError, res.TaskType)
			ancestors.Insert(res.AncestorID())
		}
		must.True(t, ancestors.Contains(insIDs[1]))
		must.True(t, ancestors.Contains(insIDs[2]))
	})
}

func TestStore_GetTaskRes_emptySet(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		replies, err := store.GetTaskRes(set.New[string](0), nil)
		must.NoError(t, err)
		must.Len(t, 0, replies)

		_, err = store.GetTaskRes(set.From([]string{"x"}), pointer.Of(0))
		must.ErrorIs(t, err, errBadLimit)
	})
}

func TestStore_DeleteTasks(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		// completed exchange: instruction and reply both delivered
		doneID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
		must.NoError(t, err)
		_, err = store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)
		_, err = store.StoreTaskRes(mockTaskRes(runID, nodeID, doneID))
		must.NoError(t, err)
		_, err = store.GetTaskRes(set.From([]string{doneID}), nil)
		must.NoError(t, err)

		// pending exchange: instruction delivered, reply stored but not
		// yet pulled
		pendingID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
		must.NoError(t, err)
		_, err = store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)
		_, err = store.StoreTaskRes(mockTaskRes(runID, nodeID, pendingID))
		must.NoError(t, err)

		must.NoError(t, store.DeleteTasks(set.From([]string{doneID, pendingID})))

		numIns, err := store.NumTaskIns()
		must.NoError(t, err)
		must.Eq(t, 1, numIns)

		numRes, err := store.NumTaskRes()
		must.NoError(t, err)
		must.Eq(t, 1, numRes)

		// the undelivered reply remains pullable
		replies, err := store.GetTaskRes(set.From([]string{pendingID}), nil)
		must.NoError(t, err)
		must.Len(t, 1, replies)
	})
}

func TestStore_Nodes(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		key := []byte("ecdh public key bytes")

		nodeID, err := store.CreateNode(30, key)
		must.NoError(t, err)
		must.Positive(t, nodeID)

		// key already bound
		_, err = store.CreateNode(30, key)
		must.ErrorIs(t, err, structs.ErrPublicKeyTaken)

		got, err := store.GetNodeID(key)
		must.NoError(t, err)
		must.Eq(t, nodeID, got)

		// anti-spoof: deleting with the wrong key fails
		err = store.DeleteNode(nodeID, []byte("other key"))
		must.Error(t, err)
		must.True(t, structs.IsErrUnknownNode(err))

		must.NoError(t, store.DeleteNode(nodeID, key))

		_, err = store.GetNodeID(key)
		must.True(t, structs.IsErrUnknownNode(err))

		err = store.DeleteNode(nodeID, nil)
		must.True(t, structs.IsErrUnknownNode(err))
	})
}

// TestStore_AcknowledgePing covers ping monotonicity: after an
// acknowledged ping at time t the node stays visible until t plus the
// interval, and no longer.
func TestStore_AcknowledgePing(t *testing.T) {
	ci.Parallel(t)

	testStoresWithClock(t, func(t *testing.T, store Store, tc *testClock) {
		runID := mustCreateRun(t, store)

		ok, err := store.AcknowledgePing(424242, 30)
		must.NoError(t, err)
		must.False(t, ok)

		nodeID := mustCreateNode(t, store, 30)

		online, err := store.GetNodes(runID)
		must.NoError(t, err)
		must.True(t, online.Contains(nodeID))

		// initial horizon expires
		tc.advance(31 * time.Second)
		online, err = store.GetNodes(runID)
		must.NoError(t, err)
		must.False(t, online.Contains(nodeID))

		// a ping revives the node for the new interval
		ok, err = store.AcknowledgePing(nodeID, 60)
		must.NoError(t, err)
		must.True(t, ok)

		tc.advance(59 * time.Second)
		online, err = store.GetNodes(runID)
		must.NoError(t, err)
		must.True(t, online.Contains(nodeID))

		tc.advance(2 * time.Second)
		online, err = store.GetNodes(runID)
		must.NoError(t, err)
		must.False(t, online.Contains(nodeID))
	})
}

func TestStore_GetNodes_unknownRun(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		mustCreateNode(t, store, 30)

		online, err := store.GetNodes(90000001)
		must.NoError(t, err)
		must.True(t, online.Empty())
	})
}

func TestStore_Runs(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		overrides := map[string]interface{}{
			"num-server-rounds": float64(5),
			"strategy":          "fedavg",
		}

		// id/version reference
		runID, err := store.CreateRun("acme/quickstart", "1.0.0", "", overrides)
		must.NoError(t, err)

		run, err := store.GetRun(runID)
		must.NoError(t, err)
		must.NotNil(t, run)
		must.Eq(t, runID, run.RunID)
		must.Eq(t, "acme/quickstart", run.FabID)
		must.Eq(t, "1.0.0", run.FabVersion)
		must.Eq(t, "", run.FabHash)
		must.Eq(t, overrides, run.OverrideConfig)

		// hash reference blanks id and version
		hashRunID, err := store.CreateRun("acme/quickstart", "1.0.0", "deadbeef", nil)
		must.NoError(t, err)

		hashRun, err := store.GetRun(hashRunID)
		must.NoError(t, err)
		must.NotNil(t, hashRun)
		must.Eq(t, "", hashRun.FabID)
		must.Eq(t, "", hashRun.FabVersion)
		must.Eq(t, "deadbeef", hashRun.FabHash)

		// unknown runs resolve to nil without error
		missing, err := store.GetRun(90000001)
		must.NoError(t, err)
		must.Nil(t, missing)
	})
}

func TestStore_ServerKeypair(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		private, err := store.GetServerPrivateKey()
		must.NoError(t, err)
		must.Nil(t, private)

		must.NoError(t, store.StoreServerKeypair([]byte("private"), []byte("public")))

		// the credential is a singleton
		err = store.StoreServerKeypair([]byte("private2"), []byte("public2"))
		must.ErrorIs(t, err, structs.ErrKeypairExists)

		private, err = store.GetServerPrivateKey()
		must.NoError(t, err)
		must.Eq(t, []byte("private"), private)

		public, err := store.GetServerPublicKey()
		must.NoError(t, err)
		must.Eq(t, []byte("public"), public)
	})
}

func TestStore_NodePublicKeys(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		must.NoError(t, store.StoreNodePublicKeys([]byte("key-a"), []byte("key-b")))
		must.NoError(t, store.StoreNodePublicKeys([]byte("key-b"), []byte("key-c")))

		keys, err := store.GetNodePublicKeys()
		must.NoError(t, err)
		must.Eq(t, 3, keys.Size())
		must.True(t, keys.Contains("key-a"))
		must.True(t, keys.Contains("key-b"))
		must.True(t, keys.Contains("key-c"))
	})
}

func TestStore_Counts(t *testing.T) {
	ci.Parallel(t)

	testStores(t, func(t *testing.T, store Store) {
		runID := mustCreateRun(t, store)
		nodeID := mustCreateNode(t, store, 30)

		insID, err := store.StoreTaskIns(mockTaskIns(runID, nodeID))
		must.NoError(t, err)
		_, err = store.StoreTaskRes(mockTaskRes(runID, nodeID, insID))
		must.NoError(t, err)

		// counts include delivered-but-undeleted rows
		_, err = store.GetTaskIns(&nodeID, nil)
		must.NoError(t, err)

		numIns, err := store.NumTaskIns()
		must.NoError(t, err)
		must.Eq(t, 1, numIns)

		numRes, err := store.NumTaskRes()
		must.NoError(t, err)
		must.Eq(t, 1, numRes)
	})
}

// seedNode installs a node row under a chosen id, bypassing the random
// draw, so id edge cases are reachable.
func seedNode(t *testing.T, store Store, nodeID uint64, onlineUntil time.Time, pingInterval float64) {
	t.Helper()

	switch s := store.(type) {
	case *MemStore:
		s.mu.Lock()
		s.nodes[nodeID] = &structs.Node{
			NodeID:       nodeID,
			OnlineUntil:  onlineUntil,
			PingInterval: pingInterval,
		}
		s.mu.Unlock()

	case *BoltStore:
		err := s.db.Update(func(tx *bbolt.Tx) error {
			row := &nodeRow{
				NodeID:       idcodec.ToSint64(nodeID),
				OnlineUntil:  onlineUntil.UnixNano(),
				PingInterval: pingInterval,
			}
			if err := putRow(tx.Bucket(nodeBucketName), idKey(nodeID), row); err != nil {
				return err
			}
			return tx.Bucket(nodeOnlineBucketName).Put(onlineIndexKey(onlineUntil.UnixNano(), nodeID), nil)
		})
		must.NoError(t, err)

	default:
		t.Fatalf("unknown store implementation %T", store)
	}
}

// TestStore_maxNodeID pushes the largest node id through the liveness
// path, where the persisted form wraps to a negative sint64.
func TestStore_maxNodeID(t *testing.T) {
	ci.Parallel(t)

	testStoresWithClock(t, func(t *testing.T, store Store, tc *testClock) {
		runID := mustCreateRun(t, store)

		const nodeID = uint64(math.MaxUint64)
		seedNode(t, store, nodeID, tc.read().Add(30*time.Second), 30)

		ok, err := store.AcknowledgePing(nodeID, 10)
		must.NoError(t, err)
		must.True(t, ok)

		online, err := store.GetNodes(runID)
		must.NoError(t, err)
		must.True(t, online.Contains(nodeID))

		// the renewed horizon is now + 10s, so 11s later the node is gone
		tc.advance(11 * time.Second)
		online, err = store.GetNodes(runID)
		must.NoError(t, err)
		must.False(t, online.Contains(nodeID))
	})
}
