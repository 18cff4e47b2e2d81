package rtihooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePreHook struct {
	name   string
	action Action
	err    error
}

func (f *fakePreHook) Name() string { return f.name }
func (f *fakePreHook) Call(_ context.Context, _ *Context) (Action, error) {
	return f.action, f.err
}

type fakePostHook struct {
	name string
	err  error
}

func (f *fakePostHook) Name() string                          { return f.name }
func (f *fakePostHook) Call(_ context.Context, _ *Context) error { return f.err }

func TestRegisterDeduplicatesByName(t *testing.T) {
	k := NewKernel(Config{})
	k.Register(Config{PreHooks: []PreHook{&fakePreHook{name: "audit"}}})
	k.Register(Config{PreHooks: []PreHook{&fakePreHook{name: "audit"}}})

	actions, _ := k.RunPre(context.Background(), &Context{Phase: PreRun}, nil)
	require.Len(t, actions, 1)
}

func TestScopedHookWinsOnNameCollision(t *testing.T) {
	k := NewKernel(Config{PreHooks: []PreHook{&fakePreHook{name: "shared", action: Action{Mutate: &Patch{ModelOverride: strPtr("global-model")}}}}})

	scoped := &Config{PreHooks: []PreHook{&fakePreHook{name: "shared", action: Action{Mutate: &Patch{ModelOverride: strPtr("scoped-model")}}}}}

	actions, _ := k.RunPre(context.Background(), &Context{Phase: PreRun}, scoped)
	require.Len(t, actions, 1)
	require.Equal(t, "scoped-model", *actions[0].Mutate.ModelOverride)
}

func TestSessionPhaseIgnoresPromptAndAttachmentMutations(t *testing.T) {
	k := NewKernel(Config{PreHooks: []PreHook{&fakePreHook{name: "inject", action: Action{Mutate: &Patch{
		PromptOverride: strPtr("new prompt"),
		ModelOverride:  strPtr("keep-me"),
		AddAttachments: []any{"file.txt"},
	}}}}})

	actions, report := k.RunPre(context.Background(), &Context{Phase: PreSessionStart}, nil)
	require.Len(t, actions, 1)
	require.Nil(t, actions[0].Mutate.PromptOverride)
	require.Empty(t, actions[0].Mutate.AddAttachments)
	require.Equal(t, "keep-me", *actions[0].Mutate.ModelOverride)
	require.Len(t, report.Issues, 1)
	require.Equal(t, ClassValidation, report.Issues[0].Class)
}

func TestHookErrorIsFailOpen(t *testing.T) {
	k := NewKernel(Config{PreHooks: []PreHook{&fakePreHook{name: "broken", err: errors.New("boom")}}})

	actions, report := k.RunPre(context.Background(), &Context{Phase: PreRun}, nil)
	require.Empty(t, actions)
	require.Len(t, report.Issues, 1)
	require.Equal(t, ClassExecution, report.Issues[0].Class)
}

func TestPostHookErrorIsRecordedFailOpen(t *testing.T) {
	k := NewKernel(Config{PostHooks: []PostHook{&fakePostHook{name: "cleanup", err: errors.New("failed")}}})

	report := k.RunPost(context.Background(), &Context{Phase: PostRun}, nil)
	require.Len(t, report.Issues, 1)
}

func strPtr(s string) *string { return &s }
