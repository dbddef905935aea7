// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package appio carries one message exchange at a time between a node
// and the workload process it launches. The node installs the inputs
// under a random token; the workload pulls them, does its work, and
// pushes the outputs back under the same token.
package appio

import (
	"fmt"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/superlink/helper/idcodec"
	"github.com/hashicorp/superlink/superlink/structs"
)

// tokenNumBytes sizes the random exchange token.
const tokenNumBytes = 8

// Servicer holds at most one exchange session. SetSession replaces the
// previous session wholesale; pulls and pushes against a stale token
// fail.
type Servicer struct {
	logger hclog.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	token  uint64
	msg    *structs.Message
	runCtx *structs.RunContext
	run    *structs.Run

	outMsg *structs.Message
	outCtx *structs.RunContext
	pushed bool
}

func NewServicer(logger hclog.Logger) *Servicer {
	return &Servicer{logger: logger.Named("appio")}
}

// SetSession installs the inputs for one exchange and returns its
// token.
func (s *Servicer) SetSession(msg *structs.Message, runCtx *structs.RunContext, run *structs.Run) (uint64, error) {
	token, err := idcodec.GenerateID(tokenNumBytes)
	if err != nil {
		return 0, fmt.Errorf("failed to mint session token: %w", err)
	}

	s.mu.Lock()
	s.session = &session{
		token:  token,
		msg:    msg,
		runCtx: runCtx,
		run:    run,
	}
	s.mu.Unlock()

	s.logger.Debug("session installed", "run_id", run.RunID)
	return token, nil
}

// GetOutputs returns the outputs the workload pushed, reporting false
// until a push has happened.
func (s *Servicer) GetOutputs() (*structs.Message, *structs.RunContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || !s.session.pushed {
		return nil, nil, false
	}
	return s.session.outMsg, s.session.outCtx, true
}

func (s *Servicer) pullInputs(token uint64) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.token != token {
		return nil, fmt.Errorf("invalid session token")
	}
	return s.session, nil
}

func (s *Servicer) pushOutputs(token uint64, msg *structs.Message, runCtx *structs.RunContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.token != token {
		return fmt.Errorf("invalid session token")
	}
	s.session.outMsg = msg
	s.session.outCtx = runCtx
	s.session.pushed = true
	return nil
}

// rpcReceiver exposes only the wire methods of the servicer.
type rpcReceiver struct {
	s *Servicer
}

func (r *rpcReceiver) PullClientAppInputs(args *structs.PullClientAppInputsRequest, reply *structs.PullClientAppInputsResponse) error {
	sess, err := r.s.pullInputs(args.Token)
	if err != nil {
		return err
	}
	reply.Message = sess.msg
	reply.Context = sess.runCtx
	reply.Run = sess.run
	return nil
}

func (r *rpcReceiver) PushClientAppOutputs(args *structs.PushClientAppOutputsRequest, reply *structs.PushClientAppOutputsResponse) error {
	if err := r.s.pushOutputs(args.Token, args.Message, args.Context); err != nil {
		return err
	}
	reply.Status = structs.PushStatusOK
	return nil
}
