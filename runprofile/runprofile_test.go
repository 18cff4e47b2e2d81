package runprofile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkoosis/agentrt/internal/rtihooks"
)

func TestProfileBuilderMethodsDoNotMutateOriginal(t *testing.T) {
	base := NewProfile()
	specialized := base.WithModel("gpt-5").AttachPath("foo.go")

	require.Nil(t, base.Model)
	require.Empty(t, base.Attachments)
	require.Equal(t, "gpt-5", *specialized.Model)
	require.Len(t, specialized.Attachments, 1)
}

func TestDangerFullAccessIsAlwaysPrivileged(t *testing.T) {
	require.True(t, DangerFullAccessSandbox().IsPrivileged())
}

func TestWorkspaceWriteIsPrivilegedOnlyWithNetwork(t *testing.T) {
	require.False(t, WorkspaceWriteSandbox([]string{"/tmp"}, false).IsPrivileged())
	require.True(t, WorkspaceWriteSandbox([]string{"/tmp"}, true).IsPrivileged())
}

func TestReadOnlySandboxIsNeverPrivileged(t *testing.T) {
	require.False(t, ReadOnlySandbox().IsPrivileged())
}

func TestSessionConfigRoundTripsThroughProfile(t *testing.T) {
	cfg := NewSessionConfig("/work").WithModel("gpt-5").AttachLocalImage("a.png")
	profile := cfg.Profile()
	require.Equal(t, "gpt-5", *profile.Model)
	require.Len(t, profile.Attachments, 1)
}

func TestSessionPromptParamsCarriesSessionDefaults(t *testing.T) {
	cfg := NewSessionConfig("/work").WithEffort(EffortHigh)
	params := SessionPromptParams(cfg, "do the thing")
	require.Equal(t, "/work", params.Cwd)
	require.Equal(t, "do the thing", params.Prompt)
	require.Equal(t, EffortHigh, params.Effort)
}

type namedPreHook struct{ name string }

func (h namedPreHook) Name() string { return h.name }
func (h namedPreHook) Call(context.Context, *rtihooks.Context) (rtihooks.Action, error) {
	return rtihooks.Action{}, nil
}

func TestMergeHookConfigsOverlayWinsOnCollision(t *testing.T) {
	defaults := rtihooks.Config{PreHooks: []rtihooks.PreHook{namedPreHook{name: "shared"}}}
	overlay := rtihooks.Config{PreHooks: []rtihooks.PreHook{namedPreHook{name: "shared"}, namedPreHook{name: "extra"}}}

	merged := MergeHookConfigs(defaults, overlay)
	require.Len(t, merged.PreHooks, 2)
	names := []string{merged.PreHooks[0].Name(), merged.PreHooks[1].Name()}
	require.Contains(t, names, "shared")
	require.Contains(t, names, "extra")
}

func TestMergeHookConfigsReturnsOtherWhenOneIsEmpty(t *testing.T) {
	overlay := rtihooks.Config{PreHooks: []rtihooks.PreHook{namedPreHook{name: "only"}}}
	merged := MergeHookConfigs(rtihooks.Config{}, overlay)
	require.Len(t, merged.PreHooks, 1)
}
