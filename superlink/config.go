// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package superlink implements the coordination server of a federated
// learning fabric: drivers push work instructions, nodes pull them and
// push results back, and the exec surface launches server-side runs and
// streams their logs.
package superlink

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"oss.indeed.com/go/libtime"
)

const (
	// DefaultDriverAddr serves the driver surface.
	DefaultDriverAddr = "0.0.0.0:9091"

	// DefaultFleetAddr serves the fleet surface nodes connect to.
	DefaultFleetAddr = "0.0.0.0:9092"

	// DefaultExecAddr serves run launching and log streaming.
	DefaultExecAddr = "0.0.0.0:9093"

	// EnvFabDir overrides the directory application bundles are
	// installed in.
	EnvFabDir = "SUPERLINK_FAB_DIR"
)

// Config parameterizes a superlink server.
type Config struct {
	Logger hclog.InterceptLogger

	// DriverAddr, FleetAddr, and ExecAddr are the listen addresses of
	// the three RPC surfaces.
	DriverAddr string
	FleetAddr  string
	ExecAddr   string

	// DataDir holds the persistent task registry. Empty runs the
	// registry in memory.
	DataDir string

	// DevMode forces the in-memory registry regardless of DataDir.
	DevMode bool

	// TraceQueries logs every registry operation at trace level.
	TraceQueries bool

	// FabDir is where application bundles are installed, addressed by
	// content hash.
	FabDir string

	// RunCmd is the command launched for each started run. The run id
	// and bundle path are appended as flags.
	RunCmd []string

	// Clock drives liveness arithmetic and task timestamps. Nil
	// defaults to the system clock.
	Clock libtime.Clock

	// Executor launches run processes. Nil defaults to the subprocess
	// executor.
	Executor Executor
}

// DefaultConfig returns the config a production server starts from.
func DefaultConfig() *Config {
	cfg := &Config{
		DriverAddr: DefaultDriverAddr,
		FleetAddr:  DefaultFleetAddr,
		ExecAddr:   DefaultExecAddr,
		FabDir:     "/var/lib/superlink/fabs",
		RunCmd:     []string{"superlink-serverapp"},
	}
	if dir := os.Getenv(EnvFabDir); dir != "" {
		cfg.FabDir = dir
	}
	return cfg
}
