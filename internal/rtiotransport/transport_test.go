package rtiotransport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// spawnCat starts cat as a stand-in subprocess that echoes each stdin line
// back to stdout, exercising the writer/reader roundtrip without a real
// agent binary.
func spawnCat(t *testing.T) *Transport {
	t.Helper()
	tr, err := Spawn(context.Background(), ProcessSpec{Program: "cat"}, DefaultConfig())
	require.NoError(t, err)
	return tr
}

func TestSpawnRejectsZeroCapacityChannels(t *testing.T) {
	_, err := Spawn(context.Background(), ProcessSpec{Program: "cat"}, Config{OutboundCapacity: 0, InboundCapacity: 1})
	require.Error(t, err)
}

func TestWriterAndReaderRoundtrip(t *testing.T) {
	tr := spawnCat(t)
	defer tr.TerminateAndJoin(time.Second, time.Second)

	tr.Outbound() <- json.RawMessage(`{"id":1,"method":"echo","params":{}}`)

	select {
	case line := <-tr.Inbound():
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		require.Equal(t, "echo", m["method"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed line")
	}
}

func TestReaderSkipsMalformedLines(t *testing.T) {
	tr := spawnCat(t)
	defer tr.TerminateAndJoin(time.Second, time.Second)

	tr.Outbound() <- json.RawMessage(`not json`)
	tr.Outbound() <- json.RawMessage(`{"id":2,"method":"ok","params":{}}`)

	select {
	case line := <-tr.Inbound():
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		require.Equal(t, "ok", m["method"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the well-formed line")
	}
	require.GreaterOrEqual(t, tr.MalformedLineCount(), uint64(1))
}
