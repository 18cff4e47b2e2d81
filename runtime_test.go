package agentrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkoosis/agentrt/internal/rtihooks"
	"github.com/dkoosis/agentrt/internal/rtiswitchboard"
	"github.com/dkoosis/agentrt/runtimecfg"
)

// scriptedAgentCfg builds Settings that spawn a shell script as the
// subprocess: it answers the first request (initialize) with userAgent,
// then behaves like cat for anything after, exercising the handshake and
// teardown without a real agent binary.
func scriptedAgentCfg(t *testing.T, userAgent string) *runtimecfg.Settings {
	t.Helper()
	cfg := runtimecfg.New()
	cfg.Subprocess.CLIPath = "sh"
	cfg.Subprocess.Args = []string{"-c", `read l; printf '%s\n' '{"id":1,"result":{"userAgent":"` + userAgent + `"}}'; cat`}
	return cfg
}

func TestConnectCompletesHandshakeAndRecordsUserAgent(t *testing.T) {
	cfg := scriptedAgentCfg(t, "agent-cli/1.2.3")
	rt, err := New(cfg, rtihooks.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Connect(ctx))
	require.Equal(t, "agent-cli/1.2.3", rt.UserAgent())
	require.Equal(t, rtiswitchboard.StateRunning, rt.State())

	result := rt.Shutdown(context.Background())
	_ = result
}

func TestConnectFailsClosedOnIncompatibleVersionWhenRequired(t *testing.T) {
	cfg := scriptedAgentCfg(t, "agent-cli/0.1.0")
	cfg.Compatibility = runtimecfg.Compatibility{Required: true, MinVersion: "1.0.0"}
	rt, err := New(cfg, rtihooks.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = rt.Connect(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "older than required minimum")
}

func TestConnectIgnoresIncompatibleVersionWhenNotRequired(t *testing.T) {
	cfg := scriptedAgentCfg(t, "agent-cli/0.1.0")
	cfg.Compatibility = runtimecfg.Compatibility{Required: false, MinVersion: "1.0.0"}
	rt, err := New(cfg, rtihooks.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Connect(ctx))
	rt.Shutdown(context.Background())
}

func TestCallRawRejectsUnknownMethodUnderStrictContract(t *testing.T) {
	cfg := scriptedAgentCfg(t, "agent-cli/1.0.0")
	cfg.StrictContract = true
	rt, err := New(cfg, rtihooks.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Connect(ctx))
	defer rt.Shutdown(context.Background())

	_, err = rt.CallRaw(ctx, "totally/unknown/method", map[string]any{})
	require.Error(t, err)
}
