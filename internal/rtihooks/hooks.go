// Package rtihooks implements the fail-open pre/post hook kernel that
// runs around session starts, prompt runs, and turns.
package rtihooks

import (
	"context"
	"sync"
)

// Phase names a point in the lifecycle a hook can run at.
type Phase int

const (
	PreSessionStart Phase = iota
	PostSessionStart
	PreRun
	PostRun
	PreTurn
	PostTurn
)

// IssueClass distinguishes a hook that rejected a mutation (Validation)
// from one that errored outright (Execution); both are fail-open.
type IssueClass int

const (
	ClassValidation IssueClass = iota
	ClassExecution
)

// Issue is one entry in a HookReport.
type Issue struct {
	HookName string
	Phase    Phase
	Class    IssueClass
	Message  string
}

// Report is the ordered list of issues from the most recent hook-enabled
// call. Only the latest report is retained.
type Report struct {
	Issues []Issue
}

func (r *Report) push(issue Issue) { r.Issues = append(r.Issues, issue) }

// Context is the immutable value handed to every hook invocation.
type Context struct {
	CorrelationID string
	Phase         Phase
	ThreadID      string
	TurnID        string
	Cwd           string
	Model         string
	Metadata      map[string]any
}

// Patch is what a pre-hook may request via Mutate.
type Patch struct {
	PromptOverride *string
	ModelOverride  *string
	AddAttachments []any
	MetadataDelta  map[string]any
}

// Action is the result of one pre-hook invocation: either Noop or Mutate.
type Action struct {
	Mutate *Patch
}

// PreHook runs before a guarded side effect.
type PreHook interface {
	Name() string
	Call(ctx context.Context, hc *Context) (Action, error)
}

// PostHook runs after a guarded side effect, even on failure.
type PostHook interface {
	Name() string
	Call(ctx context.Context, hc *Context) error
}

// Config is a reusable, named set of pre/post hooks, attachable to a
// RunProfile/SessionConfig or registered globally on the Kernel.
type Config struct {
	PreHooks  []PreHook
	PostHooks []PostHook
}

// IsEmpty reports whether no hooks are configured.
func (c Config) IsEmpty() bool { return len(c.PreHooks) == 0 && len(c.PostHooks) == 0 }

// Kernel owns the globally-registered hooks and the latest report.
type Kernel struct {
	mu        sync.RWMutex
	preHooks  []PreHook
	postHooks []PostHook

	reportMu sync.RWMutex
	latest   Report
}

// NewKernel builds a kernel seeded with an initial global hook config.
func NewKernel(cfg Config) *Kernel {
	return &Kernel{preHooks: append([]PreHook(nil), cfg.PreHooks...), postHooks: append([]PostHook(nil), cfg.PostHooks...)}
}

// IsEnabled reports whether any global hook is registered.
func (k *Kernel) IsEnabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.preHooks) > 0 || len(k.postHooks) > 0
}

// Register adds hooks to the global set, deduplicating by hook name;
// duplicates are silently ignored.
func (k *Kernel) Register(cfg Config) {
	if cfg.IsEmpty() {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	names := make(map[string]bool, len(k.preHooks)+len(cfg.PreHooks))
	for _, h := range k.preHooks {
		names[h.Name()] = true
	}
	for _, h := range cfg.PreHooks {
		if !names[h.Name()] {
			names[h.Name()] = true
			k.preHooks = append(k.preHooks, h)
		}
	}

	postNames := make(map[string]bool, len(k.postHooks)+len(cfg.PostHooks))
	for _, h := range k.postHooks {
		postNames[h.Name()] = true
	}
	for _, h := range cfg.PostHooks {
		if !postNames[h.Name()] {
			postNames[h.Name()] = true
			k.postHooks = append(k.postHooks, h)
		}
	}
}

// ReportSnapshot returns a copy of the latest report.
func (k *Kernel) ReportSnapshot() Report {
	k.reportMu.RLock()
	defer k.reportMu.RUnlock()
	return Report{Issues: append([]Issue(nil), k.latest.Issues...)}
}

func (k *Kernel) setLatestReport(r Report) {
	k.reportMu.Lock()
	defer k.reportMu.Unlock()
	k.latest = r
}

// mergedPreHooks builds the call-scoped hook set: global hooks plus any
// scoped hooks, deduplicated by name with the SCOPED hook winning on a
// name collision — scoped hooks are placed first in the dedup pass, so a
// colliding global hook is dropped rather than the scoped one.
func mergedPreHooks(global []PreHook, scoped []PreHook) []PreHook {
	if len(scoped) == 0 {
		return global
	}
	merged := make([]PreHook, 0, len(global)+len(scoped))
	names := make(map[string]bool, len(global)+len(scoped))
	for _, h := range scoped {
		if !names[h.Name()] {
			names[h.Name()] = true
			merged = append(merged, h)
		}
	}
	for _, h := range global {
		if !names[h.Name()] {
			names[h.Name()] = true
			merged = append(merged, h)
		}
	}
	return merged
}

func mergedPostHooks(global []PostHook, scoped []PostHook) []PostHook {
	if len(scoped) == 0 {
		return global
	}
	merged := make([]PostHook, 0, len(global)+len(scoped))
	names := make(map[string]bool, len(global)+len(scoped))
	for _, h := range scoped {
		if !names[h.Name()] {
			names[h.Name()] = true
			merged = append(merged, h)
		}
	}
	for _, h := range global {
		if !names[h.Name()] {
			names[h.Name()] = true
			merged = append(merged, h)
		}
	}
	return merged
}

// sessionPhase reports whether phase is one of the two session phases,
// at which a pre-hook's prompt/attachment mutations are ignored.
func sessionPhase(phase Phase) bool {
	return phase == PreSessionStart || phase == PostSessionStart
}

// RunPre executes global hooks plus any scoped hooks for one call,
// returning the decisions in hook-registration order. Any hook error is
// recorded as an Execution issue and execution continues.
func (k *Kernel) RunPre(ctx context.Context, hc *Context, scoped *Config) ([]Action, Report) {
	k.mu.RLock()
	global := append([]PreHook(nil), k.preHooks...)
	k.mu.RUnlock()

	var scopedHooks []PreHook
	if scoped != nil {
		scopedHooks = scoped.PreHooks
	}
	hooks := mergedPreHooks(global, scopedHooks)

	var report Report
	actions := make([]Action, 0, len(hooks))
	for _, h := range hooks {
		action, err := h.Call(ctx, hc)
		if err != nil {
			report.push(Issue{HookName: h.Name(), Phase: hc.Phase, Class: ClassExecution, Message: err.Error()})
			continue
		}
		if action.Mutate != nil && sessionPhase(hc.Phase) {
			if action.Mutate.PromptOverride != nil || len(action.Mutate.AddAttachments) > 0 {
				report.push(Issue{HookName: h.Name(), Phase: hc.Phase, Class: ClassValidation, Message: "prompt/attachment mutation ignored at session phase"})
				action.Mutate.PromptOverride = nil
				action.Mutate.AddAttachments = nil
			}
		}
		actions = append(actions, action)
	}
	k.setLatestReport(report)
	return actions, report
}

// RunPost executes global hooks plus any scoped hooks for one call. Any
// hook error is recorded as an Execution issue and execution continues.
func (k *Kernel) RunPost(ctx context.Context, hc *Context, scoped *Config) Report {
	k.mu.RLock()
	global := append([]PostHook(nil), k.postHooks...)
	k.mu.RUnlock()

	var scopedHooks []PostHook
	if scoped != nil {
		scopedHooks = scoped.PostHooks
	}
	hooks := mergedPostHooks(global, scopedHooks)

	var report Report
	for _, h := range hooks {
		if err := h.Call(ctx, hc); err != nil {
			report.push(Issue{HookName: h.Name(), Phase: hc.Phase, Class: ClassExecution, Message: err.Error()})
		}
	}
	k.setLatestReport(report)
	return report
}
