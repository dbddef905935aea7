// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/armon/circbuf"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/superlink/superlink/state"
)

// RunState is the lifecycle of a launched run process.
type RunState string

const (
	RunStateStarted RunState = "started"
	RunStateRunning RunState = "running"
	RunStateExited  RunState = "exited"
)

// tailBufferSize bounds the recent-output tail kept per run handle.
const tailBufferSize = 64 * 1024

// Executor launches the server-side application process for a run.
type Executor interface {
	// StartRun installs the bundle, registers the run, and launches its
	// process. The returned handle owns the process lifecycle.
	StartRun(fabFile []byte) (*RunHandle, error)
}

// RunHandle tracks one launched run process: its output streams, a
// bounded tail of recent output, and its exit state.
type RunHandle struct {
	runID  uint64
	stdout io.ReadCloser
	stderr io.ReadCloser
	wait   func() error
	kill   func() error

	mu      sync.Mutex
	state   RunState
	exitErr error
	tail    *circbuf.Buffer
	exitCh  chan struct{}
}

// NewRunHandle wires a handle around an already started process. wait
// must block until the process exits; kill must terminate it.
func NewRunHandle(runID uint64, stdout, stderr io.ReadCloser, wait, kill func() error) *RunHandle {
	tail, _ := circbuf.NewBuffer(tailBufferSize)
	return &RunHandle{
		runID:  runID,
		stdout: stdout,
		stderr: stderr,
		wait:   wait,
		kill:   kill,
		state:  RunStateStarted,
		tail:   tail,
		exitCh: make(chan struct{}),
	}
}

func (h *RunHandle) RunID() uint64 { return h.runID }

func (h *RunHandle) Stdout() io.ReadCloser { return h.stdout }

func (h *RunHandle) Stderr() io.ReadCloser { return h.stderr }

// State returns the current lifecycle state.
func (h *RunHandle) State() RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitCh closes when the process has exited and its output is drained.
func (h *RunHandle) ExitCh() <-chan struct{} { return h.exitCh }

// TailOutput returns the bounded tail of recent process output.
func (h *RunHandle) TailOutput() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tail.Bytes()
}

func (h *RunHandle) setRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == RunStateStarted {
		h.state = RunStateRunning
	}
}

func (h *RunHandle) writeTail(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tail.Write([]byte(line))
	h.tail.Write([]byte{'\n'})
}

// finish records process exit. Called once the output streams are
// drained.
func (h *RunHandle) finish() {
	err := h.wait()

	h.mu.Lock()
	h.state = RunStateExited
	h.exitErr = err
	h.mu.Unlock()

	close(h.exitCh)
}

// ExitErr returns the wait error once the handle has exited.
func (h *RunHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Kill terminates the process. Draining and exit bookkeeping still
// happen on the capture path.
func (h *RunHandle) Kill() error {
	if h.kill == nil {
		return nil
	}
	return h.kill()
}

// SubprocessExecutor launches runs as child processes of the server.
type SubprocessExecutor struct {
	logger hclog.Logger
	store  state.Store
	fabs   *FabSource
	runCmd []string
}

func NewSubprocessExecutor(logger hclog.Logger, store state.Store, fabs *FabSource, runCmd []string) *SubprocessExecutor {
	if len(runCmd) == 0 {
		runCmd = []string{"superlink-serverapp"}
	}
	return &SubprocessExecutor{
		logger: logger.Named("executor"),
		store:  store,
		fabs:   fabs,
		runCmd: runCmd,
	}
}

func (e *SubprocessExecutor) StartRun(fabFile []byte) (*RunHandle, error) {
	hash, err := e.fabs.Put(fabFile)
	if err != nil {
		return nil, err
	}

	runID, err := e.store.CreateRun("", "", hash, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	args := append([]string{}, e.runCmd[1:]...)
	args = append(args,
		"--run-id", strconv.FormatUint(runID, 10),
		"--fab", e.fabs.path(hash),
	)
	cmd := exec.Command(e.runCmd[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch run process: %w", err)
	}
	e.logger.Info("launched run process", "run_id", runID, "pid", cmd.Process.Pid, "fab_hash", hash)

	kill := func() error { return cmd.Process.Kill() }
	return NewRunHandle(runID, stdout, stderr, cmd.Wait, kill), nil
}
