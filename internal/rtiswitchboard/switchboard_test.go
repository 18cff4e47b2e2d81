package rtiswitchboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitions(t *testing.T) {
	sb := New()
	require.Equal(t, StateStarting, sb.Current())

	require.NoError(t, sb.Fire(context.Background(), EventHandshakeStarted))
	require.Equal(t, StateHandshaking, sb.Current())

	require.NoError(t, sb.Fire(context.Background(), EventHandshakeComplete))
	require.Equal(t, StateRunning, sb.Current())
}

func TestRestartCycleReturnsToRunning(t *testing.T) {
	sb := New()
	require.NoError(t, sb.Fire(context.Background(), EventHandshakeStarted))
	require.NoError(t, sb.Fire(context.Background(), EventHandshakeComplete))

	require.NoError(t, sb.Fire(context.Background(), EventTransportExited))
	require.Equal(t, StateRestarting, sb.Current())

	require.NoError(t, sb.Fire(context.Background(), EventGenerationStarted))
	require.Equal(t, StateRunning, sb.Current())
}

func TestDeadIsAbsorbing(t *testing.T) {
	sb := New()
	require.NoError(t, sb.Fire(context.Background(), EventHandshakeStarted))
	require.NoError(t, sb.Fire(context.Background(), EventHandshakeComplete))
	require.NoError(t, sb.Fire(context.Background(), EventTransportExited))
	require.NoError(t, sb.Fire(context.Background(), EventExhausted))
	require.Equal(t, StateDead, sb.Current())
	require.True(t, sb.IsDead())

	require.Error(t, sb.Fire(context.Background(), EventGenerationStarted))
	require.Error(t, sb.Fire(context.Background(), EventShutdownRequested))
	require.Equal(t, StateDead, sb.Current())
}

func TestInvalidTransitionReturnsError(t *testing.T) {
	sb := New()
	err := sb.Fire(context.Background(), EventTransportExited)
	require.Error(t, err)
	require.Equal(t, StateStarting, sb.Current())
}

func TestLabelIncludesGenerationOnlyWhileConnected(t *testing.T) {
	require.Equal(t, "running(gen=3)", Label(StateRunning, 3))
	require.Equal(t, "dead", Label(StateDead, 3))
}
