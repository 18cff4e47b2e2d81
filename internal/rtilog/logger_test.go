package rtilog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitLoggingWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogging(LevelDebug, &buf)

	component := GetLogger("dispatcher")
	component.Info("dispatcher ready", "gen", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "dispatcher ready", entry["msg"])
	require.Equal(t, "dispatcher", entry["component"])

	_ = logger
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	logger := GetNoopLogger()
	logger.Debug("ignored")
	logger.WithField("k", "v").Error("also ignored")
}

func TestSetDefaultLoggerIgnoresNil(t *testing.T) {
	before := defaultLogger
	SetDefaultLogger(nil)
	require.Equal(t, before, defaultLogger)
}
