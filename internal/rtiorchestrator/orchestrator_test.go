package rtiorchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/agentrt/internal/rtidispatch"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/runprofile"
)

// fakeAgent stands in for a subprocess: it reads outbound request frames
// and lets the test decide how (and whether) to reply, exactly like a
// mock subprocess driving a dispatcher directly (see rtidispatch's own
// tests for the same pattern).
type fakeAgent struct {
	t        *testing.T
	inbound  chan json.RawMessage
	outbound chan json.RawMessage
}

func newOrchestratorHarness(t *testing.T, subscriberCapacity int) (*rtidispatch.Dispatcher, *fakeAgent) {
	t.Helper()
	cfg := rtidispatch.DefaultConfig()
	cfg.SubscriberCapacity = subscriberCapacity
	d := rtidispatch.New(cfg, nil)
	inbound := make(chan json.RawMessage, 1024)
	outbound := make(chan json.RawMessage, 1024)
	d.SetOutbound(outbound)
	go d.Run(inbound)
	t.Cleanup(d.Stop)
	return d, &fakeAgent{t: t, inbound: inbound, outbound: outbound}
}

func (a *fakeAgent) nextRequest() (id uint64, method string, params json.RawMessage) {
	a.t.Helper()
	select {
	case req := <-a.outbound:
		var parsed struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(a.t, json.Unmarshal(req, &parsed))
		return parsed.ID, parsed.Method, parsed.Params
	case <-time.After(2 * time.Second):
		a.t.Fatal("timed out waiting for outbound request")
		return 0, "", nil
	}
}

func (a *fakeAgent) reply(id uint64, result any) {
	resp, err := json.Marshal(map[string]any{"id": id, "result": result})
	require.NoError(a.t, err)
	a.inbound <- resp
}

func (a *fakeAgent) notify(method string, params any) {
	msg, err := json.Marshal(map[string]any{"method": method, "params": params})
	require.NoError(a.t, err)
	a.inbound <- msg
}

func testCfg(t *testing.T) runprofile.SessionConfig {
	return runprofile.NewSessionConfig(t.TempDir()).WithTimeout(2 * time.Second)
}

func TestRunOnNewThreadAssemblesAssistantTextFromDeltas(t *testing.T) {
	d, agent := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := testCfg(t)

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	id, method, _ := agent.nextRequest()
	require.Equal(t, "thread/start", method)
	agent.reply(id, map[string]any{"threadId": "th-1"})

	id, method, _ = agent.nextRequest()
	require.Equal(t, "turn/start", method)
	agent.reply(id, map[string]any{"turnId": "tn-1"})

	agent.notify("turn/started", map[string]any{"threadId": "th-1", "turnId": "tn-1"})
	agent.notify("item/started", map[string]any{"threadId": "th-1", "turnId": "tn-1", "itemId": "it-1", "itemType": "agentMessage"})
	agent.notify("item/agentMessage/delta", map[string]any{"threadId": "th-1", "turnId": "tn-1", "itemId": "it-1", "delta": "hello "})
	agent.notify("item/agentMessage/delta", map[string]any{"threadId": "th-1", "turnId": "tn-1", "itemId": "it-1", "delta": "world"})
	agent.notify("turn/completed", map[string]any{"threadId": "th-1", "turnId": "tn-1"})

	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, "th-1", out.res.ThreadID)
	require.Equal(t, "tn-1", out.res.TurnID)
	require.Equal(t, "hello world", out.res.AssistantText)
}

func TestRunFailsWithRemoteErrorOnTurnFailed(t *testing.T) {
	d, agent := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := testCfg(t)

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
		done <- err
	}()

	id, _, _ := agent.nextRequest()
	agent.reply(id, map[string]any{"threadId": "th-2"})
	id, _, _ = agent.nextRequest()
	agent.reply(id, map[string]any{"turnId": "tn-2"})

	agent.notify("turn/failed", map[string]any{"threadId": "th-2", "turnId": "tn-2", "error": map[string]any{"code": 5, "message": "boom"}})

	err := <-done
	require.Error(t, err)
	require.True(t, errors.Is(err, rtierr.ErrTurnFailed))
}

func TestAttachmentValidationFailsOnMissingPath(t *testing.T) {
	d, _ := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := testCfg(t).AttachPath("does-not-exist.go")

	_, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
	require.Error(t, err)
	require.True(t, errors.Is(err, rtierr.ErrAttachmentNotFound))
}

func TestAttachmentValidationPassesOnExistingPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	d, agent := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := runprofile.NewSessionConfig(dir).WithTimeout(2 * time.Second).AttachPath("a.go")

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
		done <- err
	}()

	id, method, params := agent.nextRequest()
	require.Equal(t, "thread/start", method)
	agent.reply(id, map[string]any{"threadId": "th-3"})

	id, method, params = agent.nextRequest()
	require.Equal(t, "turn/start", method)
	var parsed struct {
		Input []struct {
			Type         string `json:"type"`
			Text         string `json:"text"`
			TextElements []struct {
				ByteRange struct {
					Start int `json:"start"`
					End   int `json:"end"`
				} `json:"byteRange"`
			} `json:"text_elements"`
		} `json:"input"`
	}
	require.NoError(t, json.Unmarshal(params, &parsed))
	require.Len(t, parsed.Input, 1)
	require.Equal(t, "text", parsed.Input[0].Type)
	require.Len(t, parsed.Input[0].TextElements, 1)
	mention := parsed.Input[0].Text[parsed.Input[0].TextElements[0].ByteRange.Start:parsed.Input[0].TextElements[0].ByteRange.End]
	require.Equal(t, "@a.go", mention)
	agent.reply(id, map[string]any{"turnId": "tn-3"})

	agent.notify("turn/interrupted", map[string]any{"threadId": "th-3", "turnId": "tn-3"})
	err := <-done
	require.True(t, errors.Is(err, rtierr.ErrTurnInterrupted))
}

func TestPrivilegedEscalationGateRejectsUnapproved(t *testing.T) {
	d, _ := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := testCfg(t).WithSandboxPolicy(runprofile.DangerFullAccessSandbox())

	_, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
	require.Error(t, err)
	require.True(t, errors.Is(err, rtierr.ErrInvalidRequest))
}

func TestPrivilegedEscalationGateAllowsApprovedRequest(t *testing.T) {
	d, agent := newOrchestratorHarness(t, 256)
	orch := New(d, nil)
	cfg := testCfg(t).
		WithSandboxPolicy(runprofile.DangerFullAccessSandbox()).
		WithApprovalPolicy(runprofile.ApprovalOnRequest).
		AllowPrivilegedEscalation()

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
		done <- err
	}()

	id, _, _ := agent.nextRequest()
	agent.reply(id, map[string]any{"threadId": "th-4"})
	id, _, _ = agent.nextRequest()
	agent.reply(id, map[string]any{"turnId": "tn-4"})
	agent.notify("turn/interrupted", map[string]any{"threadId": "th-4", "turnId": "tn-4"})

	require.True(t, errors.Is(<-done, rtierr.ErrTurnInterrupted))
}

// TestLaggedSubscriptionRecoversViaThreadRead mirrors the lagged-recovery
// scenario: a live channel too small to hold the burst that follows
// turn/start forces the orchestrator to fall back to thread/read, which
// is the sole source of the final assistant text in this test.
func TestLaggedSubscriptionRecoversViaThreadRead(t *testing.T) {
	d, agent := newOrchestratorHarness(t, 1)
	orch := New(d, nil)
	cfg := testCfg(t)

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := orch.RunOnNewThread(context.Background(), cfg, "hello")
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	id, _, _ := agent.nextRequest()
	agent.reply(id, map[string]any{"threadId": "th-lag"})

	id, _, _ = agent.nextRequest()
	agent.reply(id, map[string]any{"turnId": "tn-lag"})

	agent.notify("turn/started", map[string]any{"threadId": "th-lag", "turnId": "tn-lag"})
	for i := 0; i < 8; i++ {
		agent.notify("item/agentMessage/delta", map[string]any{"threadId": "th-lag", "turnId": "tn-lag", "itemId": "it-lag", "delta": "chunk"})
	}
	agent.notify("turn/completed", map[string]any{"threadId": "th-lag", "turnId": "tn-lag"})

	id, method, _ := agent.nextRequest()
	require.Equal(t, "thread/read", method)
	agent.reply(id, map[string]any{
		"threadId": "th-lag",
		"turns": []map[string]any{
			{"id": "tn-lag", "status": "completed", "assistantText": "ok-from-thread-read"},
		},
	})

	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, "ok-from-thread-read", out.res.AssistantText)
}
