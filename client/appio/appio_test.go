// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package appio

import (
	"fmt"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/superlink/ci"
	"github.com/hashicorp/superlink/helper/testlog"
	"github.com/hashicorp/superlink/superlink/structs"
)

func testExchange(t *testing.T) (*Servicer, *Client) {
	t.Helper()

	logger := testlog.HCLogger(t)
	servicer := NewServicer(logger)

	// the exchange normally binds its fixed loopback port; grab a free
	// one so parallel tests do not collide
	addr := fmt.Sprintf("127.0.0.1:%d", ci.PortAllocator.One())
	srv, err := NewServer(logger, servicer, addr)
	must.NoError(t, err)
	t.Cleanup(func() { must.NoError(t, srv.Shutdown()) })

	client := NewClient(logger, srv.Addr().String())
	t.Cleanup(func() { must.NoError(t, client.Close()) })

	return servicer, client
}

func mockInputs(runID uint64) (*structs.Message, *structs.RunContext, *structs.Run) {
	msg := &structs.Message{
		Metadata: structs.Metadata{
			RunID:       runID,
			MessageID:   "11111111-2222-3333-4444-555555555555",
			SrcNodeID:   0,
			DstNodeID:   77,
			MessageType: "train",
			TTL:         3600,
		},
		Content: []byte("weights"),
	}
	runCtx := &structs.RunContext{
		NodeID:    77,
		State:     []byte("round state"),
		RunConfig: map[string]interface{}{"num-server-rounds": float64(3)},
	}
	run := &structs.Run{RunID: runID, FabID: "app", FabVersion: "1.0.0"}
	return msg, runCtx, run
}

func TestExchange_roundTrip(t *testing.T) {
	ci.Parallel(t)

	servicer, client := testExchange(t)

	msg, runCtx, run := mockInputs(42)
	token, err := servicer.SetSession(msg, runCtx, run)
	must.NoError(t, err)
	must.Positive(t, token)

	// nothing pushed yet
	_, _, ok := servicer.GetOutputs()
	must.False(t, ok)

	gotMsg, gotCtx, gotRun, err := client.PullInputs(token)
	must.NoError(t, err)
	must.Eq(t, msg, gotMsg)
	must.Eq(t, runCtx, gotCtx)
	must.Eq(t, run, gotRun)

	reply := gotMsg.CreateReply([]byte("updated weights"))
	gotCtx.State = []byte("next round state")
	must.NoError(t, client.PushOutputs(token, reply, gotCtx))

	outMsg, outCtx, ok := servicer.GetOutputs()
	must.True(t, ok)
	must.Eq(t, []byte("updated weights"), outMsg.Content)
	must.Eq(t, msg.Metadata.MessageID, outMsg.Metadata.ReplyToMessage)
	must.Eq(t, []byte("next round state"), outCtx.State)
}

func TestExchange_invalidToken(t *testing.T) {
	ci.Parallel(t)

	servicer, client := testExchange(t)

	// no session at all
	_, _, _, err := client.PullInputs(1)
	must.ErrorContains(t, err, "invalid session token")

	msg, runCtx, run := mockInputs(42)
	token, err := servicer.SetSession(msg, runCtx, run)
	must.NoError(t, err)

	_, _, _, err = client.PullInputs(token + 1)
	must.ErrorContains(t, err, "invalid session token")

	err = client.PushOutputs(token+1, msg.CreateReply(nil), runCtx)
	must.ErrorContains(t, err, "invalid session token")

	// the real token still works
	_, _, _, err = client.PullInputs(token)
	must.NoError(t, err)
}

// TestExchange_replacement covers a new exchange invalidating the
// previous token, mid-flight pushes included.
func TestExchange_replacement(t *testing.T) {
	ci.Parallel(t)

	servicer, client := testExchange(t)

	msg1, ctx1, run1 := mockInputs(1)
	token1, err := servicer.SetSession(msg1, ctx1, run1)
	must.NoError(t, err)

	msg2, ctx2, run2 := mockInputs(2)
	token2, err := servicer.SetSession(msg2, ctx2, run2)
	must.NoError(t, err)

	_, _, _, err = client.PullInputs(token1)
	must.ErrorContains(t, err, "invalid session token")

	// a push for the replaced exchange must not leak into the new one
	err = client.PushOutputs(token1, msg1.CreateReply(nil), ctx1)
	must.ErrorContains(t, err, "invalid session token")

	_, _, ok := servicer.GetOutputs()
	must.False(t, ok)

	gotMsg, _, gotRun, err := client.PullInputs(token2)
	must.NoError(t, err)
	must.Eq(t, uint64(2), gotMsg.Metadata.RunID)
	must.Eq(t, uint64(2), gotRun.RunID)
}

func TestExchange_errorOutputs(t *testing.T) {
	ci.Parallel(t)

	servicer, client := testExchange(t)

	msg, runCtx, run := mockInputs(42)
	token, err := servicer.SetSession(msg, runCtx, run)
	must.NoError(t, err)

	gotMsg, gotCtx, _, err := client.PullInputs(token)
	must.NoError(t, err)

	reply := gotMsg.CreateErrorReply(&structs.ErrorRecord{
		Code:   structs.ErrorCodeClientAppRaisedException,
		Reason: "client app raised an exception",
	})
	must.NoError(t, client.PushOutputs(token, reply, gotCtx))

	outMsg, _, ok := servicer.GetOutputs()
	must.True(t, ok)
	must.True(t, outMsg.HasError())
	must.Eq(t, structs.ErrorCodeClientAppRaisedException, outMsg.Error.Code)
}
