// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/superlink/superlink/structs"
)

// Store implementations hold the task registry: runs, task instructions
// and results, node registrations, the server credential, and the
// registered node public keys. All methods are safe for concurrent use;
// mutating methods serialize inside the store.
type Store interface {
	// Name of implementation.
	Name() string

	// StoreTaskIns validates the instruction, mints a task id, stamps it
	// on the record, and inserts it. Returns the minted id, or an error
	// when validation fails or the referenced run does not exist.
	StoreTaskIns(ins *structs.TaskIns) (string, error)

	// GetTaskIns atomically fetches undelivered instructions for one
	// node and marks them delivered. A nil nodeID selects anonymous
	// instructions; a nil limit fetches all. nodeID zero and limit < 1
	// are rejected. An instruction returned once is never returned
	// again, even under concurrent pulls.
	GetTaskIns(nodeID *uint64, limit *int) ([]*structs.TaskIns, error)

	// StoreTaskRes is StoreTaskIns for results. No reply matching is
	// performed at insert time.
	StoreTaskRes(res *structs.TaskRes) (string, error)

	// GetTaskRes fetches undelivered results whose ancestry is in
	// taskIDs, marks them delivered, and synthesizes one substitute
	// reply per remaining instruction whose consumer node is offline.
	// Substitute replies are never persisted.
	GetTaskRes(taskIDs *set.Set[string], limit *int) ([]*structs.TaskRes, error)

	// NumTaskIns counts instructions, delivered but undeleted included.
	NumTaskIns() (int, error)

	// NumTaskRes counts results, delivered but undeleted included.
	NumTaskRes() (int, error)

	// DeleteTasks removes, in one transaction, the delivered
	// instructions in taskIDs that have a delivered result, together
	// with those results. Undelivered rows are never deleted.
	DeleteTasks(taskIDs *set.Set[string]) error

	// CreateNode draws a random node id and registers it with
	// online_until = now + pingInterval. Fails when the public key is
	// already bound or the drawn id collides.
	CreateNode(pingInterval float64, publicKey []byte) (uint64, error)

	// DeleteNode removes the registration. When publicKey is non-nil it
	// must match the stored key. Errors when no row is affected.
	DeleteNode(nodeID uint64, publicKey []byte) error

	// GetNodes returns all node ids whose liveness horizon is ahead of
	// now, or the empty set when the run does not exist. The run id is
	// a presence check only, not a per-run membership filter.
	GetNodes(runID uint64) (*set.Set[uint64], error)

	// GetNodeID looks up the node bound to the public key. Returns
	// ErrUnknownNode when no node holds the key.
	GetNodeID(publicKey []byte) (uint64, error)

	// AcknowledgePing renews the node's liveness horizon to
	// now + pingInterval and updates the stored interval. Returns false
	// when the node is unknown.
	AcknowledgePing(nodeID uint64, pingInterval float64) (bool, error)

	// CreateRun draws a random run id and inserts the run. A run is
	// referenced either by content hash or by id/version pair, never
	// both: a non-empty fabHash blanks the id and version.
	CreateRun(fabID, fabVersion, fabHash string, overrideConfig map[string]interface{}) (uint64, error)

	// GetRun returns the run, or nil when the id is unknown.
	GetRun(runID uint64) (*structs.Run, error)

	// StoreServerKeypair stores the singleton server credential.
	// Returns ErrKeypairExists when a credential is already present.
	StoreServerKeypair(privateKey, publicKey []byte) error

	// GetServerPrivateKey returns the stored private key, or nil.
	GetServerPrivateKey() ([]byte, error)

	// GetServerPublicKey returns the stored public key, or nil.
	GetServerPublicKey() ([]byte, error)

	// StoreNodePublicKeys appends keys to the registration allow-list.
	StoreNodePublicKeys(publicKeys ...[]byte) error

	// GetNodePublicKeys returns the allow-list as a set of raw-byte
	// strings.
	GetNodePublicKeys() (*set.Set[string], error)

	// Close the store. Unsafe for further use after calling regardless
	// of return value.
	Close() error
}

// Config parameterizes store construction.
type Config struct {
	Logger hclog.Logger

	// DataDir holds the bolt database file. Empty selects the in-memory
	// store, which tests and dev mode use.
	DataDir string

	// Clock drives liveness arithmetic. Nil defaults to the system
	// clock.
	Clock libtime.Clock

	// TraceQueries logs every store operation at trace level.
	TraceQueries bool
}

// New builds a Store from the config: bolt-backed when a data dir is
// given, in-memory otherwise.
func New(cfg *Config) (Store, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = libtime.SystemClock()
	}
	if cfg.DataDir == "" {
		return NewMemStore(cfg.Logger, clock, cfg.TraceQueries), nil
	}
	return NewBoltStore(cfg.Logger, cfg.DataDir, clock, cfg.TraceQueries)
}
