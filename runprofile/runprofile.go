// Package runprofile provides the builder types callers use to describe
// how a thread/turn should run: reasoning effort, approval and sandbox
// policy, attachments, timeout, and hook configuration. RunProfile is a
// reusable template; SessionConfig binds one to a working directory and
// can materialize prompt-run and thread-start parameters from it.
package runprofile

import (
	"time"

	"github.com/dkoosis/agentrt/internal/rtihooks"
)

// ReasoningEffort selects how much the agent should deliberate.
type ReasoningEffort int

const (
	EffortLow ReasoningEffort = iota
	EffortMedium
	EffortHigh
)

// DefaultEffort is used whenever a profile or session config doesn't set one.
const DefaultEffort = EffortMedium

// ApprovalPolicy selects how the agent should request approval for
// sensitive actions.
type ApprovalPolicy int

const (
	ApprovalUntrusted ApprovalPolicy = iota
	ApprovalOnFailure
	ApprovalOnRequest
	ApprovalNever
)

// SandboxKind selects the category of sandbox policy in effect.
type SandboxKind int

const (
	SandboxReadOnly SandboxKind = iota
	SandboxWorkspaceWrite
	SandboxDangerFullAccess
	SandboxExternal
)

// SandboxPolicy describes the execution sandbox. WritableRoots/Network
// only apply to SandboxWorkspaceWrite and SandboxExternal.
type SandboxPolicy struct {
	Kind          SandboxKind
	WritableRoots []string
	Network       bool
}

// ReadOnlySandbox is the safest default sandbox policy.
func ReadOnlySandbox() SandboxPolicy { return SandboxPolicy{Kind: SandboxReadOnly} }

// WorkspaceWriteSandbox allows writes under writableRoots, optionally with network.
func WorkspaceWriteSandbox(writableRoots []string, network bool) SandboxPolicy {
	return SandboxPolicy{Kind: SandboxWorkspaceWrite, WritableRoots: writableRoots, Network: network}
}

// DangerFullAccessSandbox removes all sandboxing. Requires
// privileged-escalation approval at runtime (SEC-004).
func DangerFullAccessSandbox() SandboxPolicy { return SandboxPolicy{Kind: SandboxDangerFullAccess} }

// ExternalSandbox delegates sandboxing to an external mechanism.
func ExternalSandbox(network bool) SandboxPolicy {
	return SandboxPolicy{Kind: SandboxExternal, Network: network}
}

// IsPrivileged reports whether this policy requires the SEC-004
// privileged-escalation gate: DangerFullAccess always, or
// WorkspaceWrite/External with network enabled.
func (p SandboxPolicy) IsPrivileged() bool {
	switch p.Kind {
	case SandboxDangerFullAccess:
		return true
	case SandboxWorkspaceWrite, SandboxExternal:
		return p.Network
	default:
		return false
	}
}

// AttachmentKind discriminates the Attachment variants.
type AttachmentKind int

const (
	AttachAtPath AttachmentKind = iota
	AttachImageURL
	AttachLocalImage
	AttachSkill
)

// Attachment is one input attached to a turn: a path mention, a remote or
// local image, or a named skill reference.
type Attachment struct {
	Kind        AttachmentKind
	Path        string
	Placeholder string
	URL         string
	SkillName   string
}

// AtPath builds a path-mention attachment.
func AtPath(path string) Attachment { return Attachment{Kind: AttachAtPath, Path: path} }

// AtPathWithPlaceholder builds a path-mention attachment with an explicit
// placeholder text.
func AtPathWithPlaceholder(path, placeholder string) Attachment {
	return Attachment{Kind: AttachAtPath, Path: path, Placeholder: placeholder}
}

// ImageURL builds a remote image attachment.
func ImageURL(url string) Attachment { return Attachment{Kind: AttachImageURL, URL: url} }

// LocalImage builds a local image-file attachment.
func LocalImage(path string) Attachment { return Attachment{Kind: AttachLocalImage, Path: path} }

// SkillRef builds a named skill attachment.
func SkillRef(name, path string) Attachment {
	return Attachment{Kind: AttachSkill, SkillName: name, Path: path}
}

// RunProfile is a reusable template for one or more turns: model, effort,
// policies, attachments, timeout, and hooks. Builder methods return a
// modified copy, so a base profile can be specialized per call without
// mutating the original.
type RunProfile struct {
	Model                        *string
	Effort                       ReasoningEffort
	ApprovalPolicy               ApprovalPolicy
	SandboxPolicy                SandboxPolicy
	PrivilegedEscalationApproved bool
	Attachments                  []Attachment
	Timeout                      time.Duration
	Hooks                        rtihooks.Config
}

// NewProfile builds a RunProfile with safe defaults: no model override,
// medium effort, no approval gate, read-only sandbox, 120s timeout.
func NewProfile() RunProfile {
	return RunProfile{
		Effort:         DefaultEffort,
		ApprovalPolicy: ApprovalNever,
		SandboxPolicy:  ReadOnlySandbox(),
		Timeout:        120 * time.Second,
	}
}

func (p RunProfile) WithModel(model string) RunProfile { p.Model = &model; return p }
func (p RunProfile) WithEffort(e ReasoningEffort) RunProfile { p.Effort = e; return p }
func (p RunProfile) WithApprovalPolicy(a ApprovalPolicy) RunProfile { p.ApprovalPolicy = a; return p }
func (p RunProfile) WithSandboxPolicy(s SandboxPolicy) RunProfile { p.SandboxPolicy = s; return p }
func (p RunProfile) AllowPrivilegedEscalation() RunProfile {
	p.PrivilegedEscalationApproved = true
	return p
}
func (p RunProfile) WithTimeout(d time.Duration) RunProfile { p.Timeout = d; return p }

func (p RunProfile) WithAttachment(a Attachment) RunProfile {
	p.Attachments = append(append([]Attachment(nil), p.Attachments...), a)
	return p
}
func (p RunProfile) AttachPath(path string) RunProfile { return p.WithAttachment(AtPath(path)) }
func (p RunProfile) AttachPathWithPlaceholder(path, placeholder string) RunProfile {
	return p.WithAttachment(AtPathWithPlaceholder(path, placeholder))
}
func (p RunProfile) AttachImageURL(url string) RunProfile { return p.WithAttachment(ImageURL(url)) }
func (p RunProfile) AttachLocalImage(path string) RunProfile {
	return p.WithAttachment(LocalImage(path))
}
func (p RunProfile) AttachSkill(name, path string) RunProfile {
	return p.WithAttachment(SkillRef(name, path))
}

func (p RunProfile) WithHooks(h rtihooks.Config) RunProfile { p.Hooks = h; return p }
func (p RunProfile) WithPreHook(h rtihooks.PreHook) RunProfile {
	p.Hooks.PreHooks = append(append([]rtihooks.PreHook(nil), p.Hooks.PreHooks...), h)
	return p
}
func (p RunProfile) WithPostHook(h rtihooks.PostHook) RunProfile {
	p.Hooks.PostHooks = append(append([]rtihooks.PostHook(nil), p.Hooks.PostHooks...), h)
	return p
}

// SessionConfig binds a RunProfile's settings to a working directory, to
// be reused as defaults across every turn in one thread.
type SessionConfig struct {
	Cwd                          string
	Model                        *string
	Effort                       ReasoningEffort
	ApprovalPolicy               ApprovalPolicy
	SandboxPolicy                SandboxPolicy
	PrivilegedEscalationApproved bool
	Attachments                  []Attachment
	Timeout                      time.Duration
	Hooks                        rtihooks.Config
}

// NewSessionConfig builds a SessionConfig from default profile settings.
func NewSessionConfig(cwd string) SessionConfig {
	return FromProfile(cwd, NewProfile())
}

// FromProfile binds profile's settings to cwd.
func FromProfile(cwd string, profile RunProfile) SessionConfig {
	return SessionConfig{
		Cwd:                          cwd,
		Model:                        profile.Model,
		Effort:                       profile.Effort,
		ApprovalPolicy:               profile.ApprovalPolicy,
		SandboxPolicy:                profile.SandboxPolicy,
		PrivilegedEscalationApproved: profile.PrivilegedEscalationApproved,
		Attachments:                  profile.Attachments,
		Timeout:                      profile.Timeout,
		Hooks:                        profile.Hooks,
	}
}

// Profile materializes this session's defaults as a standalone RunProfile.
func (s SessionConfig) Profile() RunProfile {
	return RunProfile{
		Model:                        s.Model,
		Effort:                       s.Effort,
		ApprovalPolicy:               s.ApprovalPolicy,
		SandboxPolicy:                s.SandboxPolicy,
		PrivilegedEscalationApproved: s.PrivilegedEscalationApproved,
		Attachments:                  append([]Attachment(nil), s.Attachments...),
		Timeout:                      s.Timeout,
		Hooks:                        s.Hooks,
	}
}

func (s SessionConfig) WithModel(model string) SessionConfig { s.Model = &model; return s }
func (s SessionConfig) WithEffort(e ReasoningEffort) SessionConfig { s.Effort = e; return s }
func (s SessionConfig) WithApprovalPolicy(a ApprovalPolicy) SessionConfig {
	s.ApprovalPolicy = a
	return s
}
func (s SessionConfig) WithSandboxPolicy(p SandboxPolicy) SessionConfig {
	s.SandboxPolicy = p
	return s
}
func (s SessionConfig) AllowPrivilegedEscalation() SessionConfig {
	s.PrivilegedEscalationApproved = true
	return s
}
func (s SessionConfig) WithTimeout(d time.Duration) SessionConfig { s.Timeout = d; return s }

func (s SessionConfig) WithAttachment(a Attachment) SessionConfig {
	s.Attachments = append(append([]Attachment(nil), s.Attachments...), a)
	return s
}
func (s SessionConfig) AttachPath(path string) SessionConfig { return s.WithAttachment(AtPath(path)) }
func (s SessionConfig) AttachPathWithPlaceholder(path, placeholder string) SessionConfig {
	return s.WithAttachment(AtPathWithPlaceholder(path, placeholder))
}
func (s SessionConfig) AttachImageURL(url string) SessionConfig {
	return s.WithAttachment(ImageURL(url))
}
func (s SessionConfig) AttachLocalImage(path string) SessionConfig {
	return s.WithAttachment(LocalImage(path))
}
func (s SessionConfig) AttachSkill(name, path string) SessionConfig {
	return s.WithAttachment(SkillRef(name, path))
}

func (s SessionConfig) WithHooks(h rtihooks.Config) SessionConfig { s.Hooks = h; return s }
func (s SessionConfig) WithPreHook(h rtihooks.PreHook) SessionConfig {
	s.Hooks.PreHooks = append(append([]rtihooks.PreHook(nil), s.Hooks.PreHooks...), h)
	return s
}
func (s SessionConfig) WithPostHook(h rtihooks.PostHook) SessionConfig {
	s.Hooks.PostHooks = append(append([]rtihooks.PostHook(nil), s.Hooks.PostHooks...), h)
	return s
}

// PromptRunParams is the materialized request for one prompt run, either
// from a session's defaults plus one prompt, or from a standalone
// profile plus explicit cwd and prompt.
type PromptRunParams struct {
	Cwd                          string
	Prompt                       string
	Model                        *string
	Effort                       ReasoningEffort
	ApprovalPolicy               ApprovalPolicy
	SandboxPolicy                SandboxPolicy
	PrivilegedEscalationApproved bool
	Attachments                  []Attachment
	Timeout                      time.Duration
}

// SessionPromptParams builds the prompt-run request for one turn in this session.
func SessionPromptParams(cfg SessionConfig, prompt string) PromptRunParams {
	return PromptRunParams{
		Cwd:                          cfg.Cwd,
		Prompt:                       prompt,
		Model:                        cfg.Model,
		Effort:                       cfg.Effort,
		ApprovalPolicy:               cfg.ApprovalPolicy,
		SandboxPolicy:                cfg.SandboxPolicy,
		PrivilegedEscalationApproved: cfg.PrivilegedEscalationApproved,
		Attachments:                  cfg.Attachments,
		Timeout:                      cfg.Timeout,
	}
}

// ProfileToPromptParams builds a one-off prompt-run request from a
// standalone profile plus an explicit cwd.
func ProfileToPromptParams(cwd, prompt string, profile RunProfile) PromptRunParams {
	return PromptRunParams{
		Cwd:                          cwd,
		Prompt:                       prompt,
		Model:                        profile.Model,
		Effort:                       profile.Effort,
		ApprovalPolicy:               profile.ApprovalPolicy,
		SandboxPolicy:                profile.SandboxPolicy,
		PrivilegedEscalationApproved: profile.PrivilegedEscalationApproved,
		Attachments:                  profile.Attachments,
		Timeout:                      profile.Timeout,
	}
}

// ThreadStartParams is the materialized override set for thread/start or
// thread/resume, derived from a session's defaults.
type ThreadStartParams struct {
	Model                        *string
	Cwd                          *string
	ApprovalPolicy               *ApprovalPolicy
	SandboxPolicy                *SandboxPolicy
	PrivilegedEscalationApproved bool
}

// SessionThreadStartParams builds the thread/start override set from a session's defaults.
func SessionThreadStartParams(cfg SessionConfig) ThreadStartParams {
	cwd := cfg.Cwd
	approval := cfg.ApprovalPolicy
	sandbox := cfg.SandboxPolicy
	return ThreadStartParams{
		Model:                        cfg.Model,
		Cwd:                          &cwd,
		ApprovalPolicy:               &approval,
		SandboxPolicy:                &sandbox,
		PrivilegedEscalationApproved: cfg.PrivilegedEscalationApproved,
	}
}

// MergeHookConfigs merges session defaults with a per-call overlay.
// Overlay hooks are placed first in the dedup pass, so an overlay hook
// wins on a name collision with a default.
func MergeHookConfigs(defaults, overlay rtihooks.Config) rtihooks.Config {
	if defaults.IsEmpty() {
		return overlay
	}
	if overlay.IsEmpty() {
		return defaults
	}
	return rtihooks.Config{
		PreHooks:  mergePre(defaults.PreHooks, overlay.PreHooks),
		PostHooks: mergePost(defaults.PostHooks, overlay.PostHooks),
	}
}

func mergePre(defaults, overlay []rtihooks.PreHook) []rtihooks.PreHook {
	merged := make([]rtihooks.PreHook, 0, len(defaults)+len(overlay))
	seen := make(map[string]bool, len(defaults)+len(overlay))
	for _, h := range overlay {
		if !seen[h.Name()] {
			seen[h.Name()] = true
			merged = append(merged, h)
		}
	}
	for _, h := range defaults {
		if !seen[h.Name()] {
			seen[h.Name()] = true
			merged = append(merged, h)
		}
	}
	return merged
}

func mergePost(defaults, overlay []rtihooks.PostHook) []rtihooks.PostHook {
	merged := make([]rtihooks.PostHook, 0, len(defaults)+len(overlay))
	seen := make(map[string]bool, len(defaults)+len(overlay))
	for _, h := range overlay {
		if !seen[h.Name()] {
			seen[h.Name()] = true
			merged = append(merged, h)
		}
	}
	for _, h := range defaults {
		if !seen[h.Name()] {
			seen[h.Name()] = true
			merged = append(merged, h)
		}
	}
	return merged
}
