// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"go.etcd.io/bbolt"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/superlink/helper/idcodec"
	"github.com/hashicorp/superlink/helper/uuid"
	"github.com/hashicorp/superlink/superlink/structs"
)

/*
Bolt bucket layout:

meta/
|--> version -> '1'
task_ins/
|--> <task id> -> taskRow
task_res/
|--> <task id> -> taskRow
node/
|--> <node id> -> nodeRow
node_online/
|--> <online_until nanos || node id> -> nil
node_key/
|--> <public key> -> <node id>
run/
|--> <run id> -> runRow
credential/
|--> server -> credentialRow
public_key/
|--> <public key> -> nil
*/

var (
	metaBucketName       = []byte("meta")
	taskInsBucketName    = []byte("task_ins")
	taskResBucketName    = []byte("task_res")
	nodeBucketName       = []byte("node")
	nodeOnlineBucketName = []byte("node_online")
	nodeKeyBucketName    = []byte("node_key")
	runBucketName        = []byte("run")
	credentialBucketName = []byte("credential")
	publicKeyBucketName  = []byte("public_key")

	metaVersionKey = []byte("version")
	metaVersion    = []byte{'1'}

	credentialKey = []byte("server")

	boltBuckets = [][]byte{
		metaBucketName,
		taskInsBucketName,
		taskResBucketName,
		nodeBucketName,
		nodeOnlineBucketName,
		nodeKeyBucketName,
		runBucketName,
		credentialBucketName,
		publicKeyBucketName,
	}
)

// idKey renders an id as a fixed-width big-endian bucket key. The sint64
// reinterpretation is bit-identical, so the same key addresses both
// views of the id.
func idKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// onlineIndexKey renders a node_online index entry. The liveness horizon
// leads so a cursor seek at now splits offline from online.
func onlineIndexKey(onlineUntil int64, nodeID uint64) []byte {
	var key [16]byte
	binary.BigEndian.PutUint64(key[:8], uint64(onlineUntil))
	binary.BigEndian.PutUint64(key[8:], nodeID)
	return key[:]
}

// BoltStore persists the task registry in a bolt database. Bolt gives
// the single-writer, concurrent-reader discipline the store requires;
// every fetch-and-mark runs inside one write transaction.
type BoltStore struct {
	logger hclog.Logger
	clock  libtime.Clock
	trace  bool

	db *bbolt.DB
}

// NewBoltStore opens or creates the database file under dataDir and
// ensures the bucket layout exists.
func NewBoltStore(logger hclog.Logger, dataDir string, clock libtime.Clock, trace bool) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	file := filepath.Join(dataDir, "superlink.db")
	db, err := bbolt.Open(file, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range boltBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(metaBucketName)
		if v := meta.Get(metaVersionKey); v != nil && !bytes.Equal(v, metaVersion) {
			return fmt.Errorf("unsupported state database version: %q", v)
		}
		return meta.Put(metaVersionKey, metaVersion)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		logger: logger.Named("state_bolt"),
		clock:  clock,
		trace:  trace,
		db:     db,
	}, nil
}

func (s *BoltStore) Name() string {
	return "bolt"
}

func (s *BoltStore) traceQuery(op string, args ...interface{}) {
	if s.trace {
		s.logger.Trace(op, args...)
	}
}

func putRow(bkt *bbolt.Bucket, key []byte, row interface{}) error {
	blob, err := structs.Encode(row)
	if err != nil {
		return err
	}
	return bkt.Put(key, blob)
}

func (s *BoltStore) StoreTaskIns(ins *structs.TaskIns) (string, error) {
	if problems := validateTaskIns(ins); len(problems) != 0 {
		return "", &structs.ValidationError{Problems: problems}
	}

	stored := ins.Copy()
	stored.TaskID = uuid.Generate()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(runBucketName).Get(idKey(stored.RunID)) == nil {
			return structs.ErrUnknownRun
		}
		return putRow(tx.Bucket(taskInsBucketName), []byte(stored.TaskID), taskInsToRow(stored))
	})
	if err != nil {
		return "", err
	}

	s.traceQuery("store_task_ins", "task_id", stored.TaskID, "run_id", stored.RunID)
	return stored.TaskID, nil
}

func (s *BoltStore) GetTaskIns(nodeID *uint64, limit *int) ([]*structs.TaskIns, error) {
	if err := checkTaskFilter(nodeID, limit); err != nil {
		return nil, err
	}

	var out []*structs.TaskIns
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(taskInsBucketName)

		var matched []*structs.TaskIns
		err := bkt.ForEach(func(k, v []byte) error {
			row := new(taskRow)
			if err := structs.Decode(v, row); err != nil {
				return err
			}
			if ins := rowToTaskIns(row); wantsTaskIns(ins, nodeID) {
				matched = append(matched, ins)
			}
			return nil
		})
		if err != nil {
			return err
		}

		sortTaskIns(matched)
		if limit != nil && len(matched) > *limit {
			matched = matched[:*limit]
		}

		// Delivery mark and select share this transaction, so no
		// instruction is handed out twice under concurrent pulls.
		stamp := deliveredStamp(s.clock.Now())
		for _, ins := range matched {
			ins.DeliveredAt = stamp
			if err := putRow(bkt, []byte(ins.TaskID), taskInsToRow(ins)); err != nil {
				return err
			}
		}
		out = matched
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.traceQuery("get_task_ins", "count", len(out))
	return out, nil
}

func (s *BoltStore) StoreTaskRes(res *structs.TaskRes) (string, error) {
	if problems := validateTaskRes(res); len(problems) != 0 {
		return "", &structs.ValidationError{Problems: problems}
	}

	stored := res.Copy()
	stored.TaskID = uuid.Generate()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(runBucketName).Get(idKey(stored.RunID)) == nil {
			return structs.ErrUnknownRun
		}
		return putRow(tx.Bucket(taskResBucketName), []byte(stored.TaskID), taskResToRow(stored))
	})
	if err != nil {
		return "", err
	}

	s.traceQuery("store_task_res", "task_id", stored.TaskID, "run_id", stored.RunID)
	return stored.TaskID, nil
}

func (s *BoltStore) GetTaskRes(taskIDs *set.Set[string], limit *int) ([]*structs.TaskRes, error) {
	if err := checkTaskFilter(nil, limit); err != nil {
		return nil, err
	}
	if taskIDs.Empty() {
		return nil, nil
	}

	var out []*structs.TaskRes
	err := s.db.Update(func(tx *bbolt.Tx) error {
		resBkt := tx.Bucket(taskResBucketName)
		now := s.clock.Now()

		var matched []*structs.TaskRes
		err := resBkt.ForEach(func(k, v []byte) error {
			row := new(taskRow)
			if err := structs.Decode(v, row); err != nil {
				return err
			}
			if res := rowToTaskRes(row); res.DeliveredAt == "" && taskIDs.Contains(res.AncestorID()) {
				matched = append(matched, res)
			}
			return nil
		})
		if err != nil {
			return err
		}

		sortTaskRes(matched)
		if limit != nil && len(matched) > *limit {
			matched = matched[:*limit]
		}

		stamp := deliveredStamp(now)
		replied := set.New[string](len(matched))
		for _, res := range matched {
			res.DeliveredAt = stamp
			if err := putRow(resBkt, []byte(res.TaskID), taskResToRow(res)); err != nil {
				return err
			}
			replied.Insert(res.AncestorID())
		}
		out = matched

		// Unanswered instructions whose consumer has gone offline get a
		// synthesized reply that never touches the database.
		insBkt := tx.Bucket(taskInsBucketName)
		nodeBkt := tx.Bucket(nodeBucketName)
		var orphans []*structs.TaskIns
		for _, id := range taskIDs.Difference(replied).Slice() {
			v := insBkt.Get([]byte(id))
			if v == nil {
				continue
			}
			row := new(taskRow)
			if err := structs.Decode(v, row); err != nil {
				return err
			}
			ins := rowToTaskIns(row)

			nv := nodeBkt.Get(idKey(ins.Consumer.NodeID))
			if nv == nil {
				continue
			}
			nrow := new(nodeRow)
			if err := structs.Decode(nv, nrow); err != nil {
				return err
			}
			if nrow.OnlineUntil >= now.UnixNano() {
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
				return err
			}
			out = append(out, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.traceQuery("get_task_res", "requested", taskIDs.Size(), "count", len(out))
	return out, nil
}

func (s *BoltStore) NumTaskIns() (int, error) {
	return s.countBucket(taskInsBucketName)
}

func (s *BoltStore) NumTaskRes() (int, error) {
	return s.countBucket(taskResBucketName)
}

func (s *BoltStore) countBucket(name []byte) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(name).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) DeleteTasks(taskIDs *set.Set[string]) error {
	if taskIDs.Empty() {
		return nil
	}

	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		insBkt := tx.Bucket(taskInsBucketName)
		resBkt := tx.Bucket(taskResBucketName)

		// Delivered replies answering one of the ids, grouped by the
		// instruction they answer.
		resByAncestor := make(map[string][]string)
		err := resBkt.ForEach(func(k, v []byte) error {
			row := new(taskRow)
			if err := structs.Decode(v, row); err != nil {
				return err
			}
			if res := rowToTaskRes(row); res.DeliveredAt != "" && taskIDs.Contains(res.AncestorID()) {
				resByAncestor[res.AncestorID()] = append(resByAncestor[res.AncestorID()], res.TaskID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range taskIDs.Slice() {
			v := insBkt.Get([]byte(id))
			if v == nil {
				continue
			}
			row := new(taskRow)
			if err := structs.Decode(v, row); err != nil {
				return err
			}
			if row.DeliveredAt == "" {
				continue
			}
			resIDs, ok := resByAncestor[id]
			if !ok {
				continue
			}

			if err := insBkt.Delete([]byte(id)); err != nil {
				return err
			}
			for _, resID := range resIDs {
				if err := resBkt.Delete([]byte(resID)); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.traceQuery("delete_tasks", "requested", taskIDs.Size(), "deleted", deleted)
	return nil
}

func (s *BoltStore) CreateNode(pingInterval float64, publicKey []byte) (uint64, error) {
	var nodeID uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodeBkt := tx.Bucket(nodeBucketName)
		keyBkt := tx.Bucket(nodeKeyBucketName)

		if len(publicKey) != 0 && keyBkt.Get(publicKey) != nil {
			return structs.ErrPublicKeyTaken
		}

		id, err := idcodec.GenerateID(idcodec.NodeIDNumBytes)
		if err != nil {
			return err
		}
		if id == 0 || nodeBkt.Get(idKey(id)) != nil {
			return structs.ErrIDCollision
		}

		onlineUntil := s.clock.Now().Add(secondsToDuration(pingInterval)).UnixNano()
		row := &nodeRow{
			NodeID:       idcodec.ToSint64(id),
			OnlineUntil:  onlineUntil,
			PingInterval: pingInterval,
			PublicKey:    publicKey,
		}
		if err := putRow(nodeBkt, idKey(id), row); err != nil {
			return err
		}
		if err := tx.Bucket(nodeOnlineBucketName).Put(onlineIndexKey(onlineUntil, id), nil); err != nil {
			return err
		}
		if len(publicKey) != 0 {
			if err := keyBkt.Put(publicKey, idKey(id)); err != nil {
				return err
			}
		}

		nodeID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.traceQuery("create_node", "node_id", nodeID, "ping_interval", pingInterval)
	return nodeID, nil
}

func (s *BoltStore) DeleteNode(nodeID uint64, publicKey []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodeBkt := tx.Bucket(nodeBucketName)

		v := nodeBkt.Get(idKey(nodeID))
		if v == nil {
			return structs.ErrUnknownNode
		}
		row := new(nodeRow)
		if err := structs.Decode(v, row); err != nil {
			return err
		}
		if len(publicKey) != 0 && !bytes.Equal(row.PublicKey, publicKey) {
			return structs.ErrUnknownNode
		}

		if err := nodeBkt.Delete(idKey(nodeID)); err != nil {
			return err
		}
		if err := tx.Bucket(nodeOnlineBucketName).Delete(onlineIndexKey(row.OnlineUntil, nodeID)); err != nil {
			return err
		}
		if len(row.PublicKey) != 0 {
			if err := tx.Bucket(nodeKeyBucketName).Delete(row.PublicKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.traceQuery("delete_node", "node_id", nodeID)
	return nil
}

func (s *BoltStore) GetNodes(runID uint64) (*set.Set[uint64], error) {
	online := set.New[uint64](8)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(runBucketName).Get(idKey(runID)) == nil {
			return nil
		}

		// The index keys sort by liveness horizon, so everything at or
		// past the seek point is still online.
		cursor := tx.Bucket(nodeOnlineBucketName).Cursor()
		seek := onlineIndexKey(s.clock.Now().UnixNano()+1, 0)
		for k, _ := cursor.Seek(seek); k != nil; k, _ = cursor.Next() {
			online.Insert(binary.BigEndian.Uint64(k[8:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.traceQuery("get_nodes", "run_id", runID, "count", online.Size())
	return online, nil
}

func (s *BoltStore) GetNodeID(publicKey []byte) (uint64, error) {
	var nodeID uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(nodeKeyBucketName).Get(publicKey)
		if v == nil {
			return structs.ErrUnknownNode
		}
		nodeID = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nodeID, nil
}

func (s *BoltStore) AcknowledgePing(nodeID uint64, pingInterval float64) (bool, error) {
	known := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodeBkt := tx.Bucket(nodeBucketName)

		v := nodeBkt.Get(idKey(nodeID))
		if v == nil {
			return nil
		}
		row := new(nodeRow)
		if err := structs.Decode(v, row); err != nil {
			return err
		}

		onlineBkt := tx.Bucket(nodeOnlineBucketName)
		if err := onlineBkt.Delete(onlineIndexKey(row.OnlineUntil, nodeID)); err != nil {
			return err
		}

		row.OnlineUntil = s.clock.Now().Add(secondsToDuration(pingInterval)).UnixNano()
		row.PingInterval = pingInterval
		if err := putRow(nodeBkt, idKey(nodeID), row); err != nil {
			return err
		}
		if err := onlineBkt.Put(onlineIndexKey(row.OnlineUntil, nodeID), nil); err != nil {
			return err
		}

		known = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if known {
		s.traceQuery("acknowledge_ping", "node_id", nodeID, "ping_interval", pingInterval)
	}
	return known, nil
}

func (s *BoltStore) CreateRun(fabID, fabVersion, fabHash string, overrideConfig map[string]interface{}) (uint64, error) {
	var runID uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runBkt := tx.Bucket(runBucketName)

		id, err := idcodec.GenerateID(idcodec.RunIDNumBytes)
		if err != nil {
			return err
		}
		if id == 0 || runBkt.Get(idKey(id)) != nil {
			return structs.ErrIDCollision
		}

		run := &structs.Run{
			RunID:          id,
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

		row, err := runToRow(run)
		if err != nil {
			return err
		}
		if err := putRow(runBkt, idKey(id), row); err != nil {
			return err
		}

		runID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.traceQuery("create_run", "run_id", runID, "fab_id", fabID, "fab_hash", fabHash)
	return runID, nil
}

func (s *BoltStore) GetRun(runID uint64) (*structs.Run, error) {
	var run *structs.Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(runBucketName).Get(idKey(runID))
		if v == nil {
			return nil
		}
		row := new(runRow)
		if err := structs.Decode(v, row); err != nil {
			return err
		}
		out, err := rowToRun(row)
		if err != nil {
			return err
		}
		run = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *BoltStore) StoreServerKeypair(privateKey, publicKey []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(credentialBucketName)
		if bkt.Get(credentialKey) != nil {
			return structs.ErrKeypairExists
		}
		return putRow(bkt, credentialKey, &credentialRow{
			PrivateKey: privateKey,
			PublicKey:  publicKey,
		})
	})
}

func (s *BoltStore) GetServerPrivateKey() ([]byte, error) {
	row, err := s.getCredential()
	if err != nil || row == nil {
		return nil, err
	}
	return row.PrivateKey, nil
}

func (s *BoltStore) GetServerPublicKey() ([]byte, error) {
	row, err := s.getCredential()
	if err != nil || row == nil {
		return nil, err
	}
	return row.PublicKey, nil
}

func (s *BoltStore) getCredential() (*credentialRow, error) {
	var row *credentialRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(credentialBucketName).Get(credentialKey)
		if v == nil {
			return nil
		}
		row = new(credentialRow)
		return structs.Decode(v, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *BoltStore) StoreNodePublicKeys(publicKeys ...[]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(publicKeyBucketName)
		for _, key := range publicKeys {
			if err := bkt.Put(key, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetNodePublicKeys() (*set.Set[string], error) {
	keys := set.New[string](8)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(publicKeyBucketName).ForEach(func(k, v []byte) error {
			keys.Insert(string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
