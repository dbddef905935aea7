// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/hashicorp/superlink/superlink/structs"
)

// streamLogsInterval is how often a log stream checks for new entries.
const streamLogsInterval = 100 * time.Millisecond

// captureScanBuffer bounds a single captured output line.
const captureScanBuffer = 256 * 1024

// Exec launches runs and streams their process output. One append-only
// log buffer serves every subscriber; each subscriber keeps its own
// cursor.
type Exec struct {
	srv      *Server
	logger   hclog.Logger
	executor Executor

	mu   sync.Mutex
	runs map[uint64]*RunHandle
	logs []string
}

func NewExec(srv *Server, executor Executor) *Exec {
	return &Exec{
		srv:      srv,
		logger:   srv.logger.Named("exec"),
		executor: executor,
		runs:     make(map[uint64]*RunHandle),
	}
}

// StartRun launches a run from an application bundle and begins
// capturing its output.
func (e *Exec) StartRun(args *structs.StartRunRequest, reply *structs.StartRunResponse) error {
	defer metrics.MeasureSince([]string{"superlink", "exec", "start_run"}, time.Now())

	if len(args.FabFile) == 0 {
		return fmt.Errorf("fab file must not be empty")
	}

	handle, err := e.executor.StartRun(args.FabFile)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.runs[handle.RunID()] = handle
	e.mu.Unlock()

	go e.capture(handle)

	e.logger.Info("started run", "run_id", handle.RunID())
	reply.RunID = handle.RunID()
	return nil
}

// capture drains both output streams into the log buffer, then records
// process exit. The handle survives exit so logs stay readable
// post-mortem.
func (e *Exec) capture(handle *RunHandle) {
	handle.setRunning()

	var wg sync.WaitGroup
	wg.Add(2)
	go e.captureStream(&wg, handle, handle.Stdout())
	go e.captureStream(&wg, handle, handle.Stderr())
	wg.Wait()

	handle.finish()
	e.logger.Debug("run process exited", "run_id", handle.RunID(), "error", handle.ExitErr())
}

func (e *Exec) captureStream(wg *sync.WaitGroup, handle *RunHandle, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), captureScanBuffer)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		handle.writeTail(line)

		e.mu.Lock()
		e.logs = append(e.logs, line)
		e.mu.Unlock()
	}
}

// logsFrom returns the entries appended since cursor and the new
// cursor.
func (e *Exec) logsFrom(cursor int) ([]string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cursor >= len(e.logs) {
		return nil, cursor
	}
	entries := make([]string, len(e.logs)-cursor)
	copy(entries, e.logs[cursor:])
	return entries, len(e.logs)
}

// getRunHandle returns the handle for a started run.
func (e *Exec) getRunHandle(runID uint64) (*RunHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle, ok := e.runs[runID]
	return handle, ok
}

// streamLogs is the streaming handler behind Exec.StreamLogs. It sends
// every buffered entry from position zero, then follows the buffer
// until the subscriber goes away. Child exit does not end the stream.
func (e *Exec) streamLogs(conn io.ReadWriteCloser) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn, structs.MsgpackHandle)
	encoder := codec.NewEncoder(conn, structs.MsgpackHandle)

	var req structs.StreamLogsRequest
	if err := decoder.Decode(&req); err != nil {
		e.logger.Error("failed to decode log stream request", "error", err)
		return
	}

	if _, ok := e.getRunHandle(req.RunID); !ok {
		encoder.Encode(&structs.StreamLogsFrame{
			Error: fmt.Sprintf("unknown run id: %d", req.RunID),
		})
		return
	}

	// The subscriber never sends again, so a pending read unblocking
	// means the connection is gone.
	goneCh := make(chan struct{})
	go func() {
		defer close(goneCh)
		var buf [1]byte
		for {
			if _, err := conn.Read(buf[:]); err != nil {
				return
			}
		}
	}()

	e.logger.Debug("log stream subscribed", "run_id", req.RunID)

	cursor := 0
	ticker := time.NewTicker(streamLogsInterval)
	defer ticker.Stop()

	for {
		entries, next := e.logsFrom(cursor)
		cursor = next
		for _, entry := range entries {
			if err := encoder.Encode(&structs.StreamLogsFrame{LogOutput: entry}); err != nil {
				return
			}
		}

		select {
		case <-goneCh:
			return
		case <-e.srv.shutdownCh:
			return
		case <-ticker.C:
		}
	}
}

// shutdown kills every tracked run process.
func (e *Exec) shutdown() {
	e.mu.Lock()
	handles := make([]*RunHandle, 0, len(e.runs))
	for _, handle := range e.runs {
		handles = append(handles, handle)
	}
	e.mu.Unlock()

	for _, handle := range handles {
		if handle.State() != RunStateExited {
			if err := handle.Kill(); err != nil {
				e.logger.Warn("failed to kill run process", "run_id", handle.RunID(), "error", err)
			}
		}
	}
}
