package rtistate

import (
	"encoding/json"
	"testing"

	"github.com/dkoosis/agentrt/internal/rtiwire"
	"github.com/stretchr/testify/require"
)

func threadStarted(seq uint64, threadID string) *rtiwire.Envelope {
	return &rtiwire.Envelope{
		Seq:      seq,
		Method:   "thread/started",
		ThreadID: threadID,
		Raw:      json.RawMessage(`{"method":"thread/started","params":{"threadId":"` + threadID + `"}}`),
	}
}

func TestReducerEvictsSmallestLastSeqThreads(t *testing.T) {
	caps := Caps{MaxThreads: 2, MaxTurnsPerThread: 2, MaxItemsPerTurn: 2, MaxAccumBytes: 4}
	s := New()

	Reduce(s, threadStarted(1, "thr_1"), caps)
	Reduce(s, threadStarted(2, "thr_2"), caps)
	Reduce(s, threadStarted(3, "thr_3"), caps)

	require.Len(t, s.Threads, 2)
	_, hasThr1 := s.Threads["thr_1"]
	_, hasThr2 := s.Threads["thr_2"]
	_, hasThr3 := s.Threads["thr_3"]
	require.False(t, hasThr1)
	require.True(t, hasThr2)
	require.True(t, hasThr3)
}

func TestAgentMessageDeltaTruncatesAtCap(t *testing.T) {
	caps := Caps{MaxThreads: 2, MaxTurnsPerThread: 2, MaxItemsPerTurn: 2, MaxAccumBytes: 4}
	s := New()

	Reduce(s, threadStarted(1, "thr_1"), caps)
	Reduce(s, &rtiwire.Envelope{
		Seq: 2, Method: "turn/started", ThreadID: "thr_1", TurnID: "turn_1",
		Raw: json.RawMessage(`{"method":"turn/started","params":{"threadId":"thr_1","turnId":"turn_1"}}`),
	}, caps)
	Reduce(s, &rtiwire.Envelope{
		Seq: 3, Method: "item/started", ThreadID: "thr_1", TurnID: "turn_1", ItemID: "item_1",
		Raw: json.RawMessage(`{"method":"item/started","params":{"threadId":"thr_1","turnId":"turn_1","itemId":"item_1","itemType":"agentMessage"}}`),
	}, caps)
	Reduce(s, &rtiwire.Envelope{
		Seq: 4, Method: "item/agentMessage/delta", ThreadID: "thr_1", TurnID: "turn_1", ItemID: "item_1",
		Raw: json.RawMessage(`{"method":"item/agentMessage/delta","params":{"threadId":"thr_1","turnId":"turn_1","itemId":"item_1","delta":"hello"}}`),
	}, caps)

	item := s.Threads["thr_1"].Turns["turn_1"].Items["item_1"]
	require.Equal(t, "hell", item.TextAccum.Text)
	require.True(t, item.TextAccum.Truncated)
}

func TestAppendCappedRespectsUTF8Boundary(t *testing.T) {
	var a Accumulator
	a.appendCapped("a\xE2\x82\xACb", 2) // 'a' + euro sign (3 bytes) + 'b'
	require.Equal(t, "a", a.Text)
	require.True(t, a.Truncated)
}

func TestExtractErrorSignalToleratesBothShapes(t *testing.T) {
	code, msg, ok := ExtractErrorSignal(json.RawMessage(`{"error":{"code":7,"message":"boom"}}`))
	require.True(t, ok)
	require.Equal(t, 7, code)
	require.Equal(t, "boom", msg)

	code, msg, ok = ExtractErrorSignal(json.RawMessage(`{"code":9,"message":"bang"}`))
	require.True(t, ok)
	require.Equal(t, 9, code)
	require.Equal(t, "bang", msg)

	_, _, ok = ExtractErrorSignal(json.RawMessage(`{"nothing":true}`))
	require.False(t, ok)
}

func TestReduceIsPure(t *testing.T) {
	caps := DefaultCaps()
	s1 := New()
	s2 := New()
	env := threadStarted(1, "thr_1")

	Reduce(s1, env, caps)
	Reduce(s2, env, caps)

	require.Equal(t, s1.Threads["thr_1"].LastSeq, s2.Threads["thr_1"].LastSeq)
}
