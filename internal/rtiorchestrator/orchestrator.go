// Package rtiorchestrator drives one prompt run end to end: validating
// attachments, enforcing the privileged-sandbox escalation gate,
// starting or resuming a thread, issuing turn/start, consuming the live
// envelope stream until a terminal state, and recovering via thread/read
// when the stream subscription has lagged.
package rtiorchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkoosis/agentrt/internal/rtidispatch"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtihooks"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtistate"
	"github.com/dkoosis/agentrt/runprofile"
)

// Result is a successfully completed turn.
type Result struct {
	ThreadID      string
	TurnID        string
	AssistantText string
}

// Orchestrator ties a dispatcher and hook kernel to one prompt-run
// algorithm. It holds no per-run state; every field is safe to share
// across concurrent runs.
type Orchestrator struct {
	dispatcher *rtidispatch.Dispatcher
	hooks      *rtihooks.Kernel
	log        rtilog.Logger
}

// New builds an Orchestrator. hooks may be nil to disable the hook kernel.
func New(dispatcher *rtidispatch.Dispatcher, hooks *rtihooks.Kernel) *Orchestrator {
	return &Orchestrator{dispatcher: dispatcher, hooks: hooks, log: rtilog.GetLogger("orchestrator")}
}

// RunOnNewThread starts a fresh thread and drives one turn on it.
func (o *Orchestrator) RunOnNewThread(ctx context.Context, cfg runprofile.SessionConfig, prompt string) (Result, error) {
	return o.run(ctx, "", false, cfg, prompt)
}

// RunOnExistingThread resumes threadID and drives one turn on it.
func (o *Orchestrator) RunOnExistingThread(ctx context.Context, threadID string, cfg runprofile.SessionConfig, prompt string) (Result, error) {
	return o.run(ctx, threadID, true, cfg, prompt)
}

func (o *Orchestrator) run(ctx context.Context, threadID string, resume bool, cfg runprofile.SessionConfig, prompt string) (Result, error) {
	if err := validateAttachments(cfg.Cwd, cfg.Attachments); err != nil {
		return Result{}, err
	}
	if err := checkPrivilegedEscalationGate(cfg); err != nil {
		return Result{}, err
	}

	if o.hooks != nil {
		hc := &rtihooks.Context{Phase: rtihooks.PreRun, ThreadID: threadID, Cwd: cfg.Cwd, Model: modelOf(cfg)}
		actions, _ := o.hooks.RunPre(ctx, hc, &cfg.Hooks)
		cfg, prompt = applyPreActions(cfg, prompt, actions)
	}

	deadline := time.Now().Add(cfg.Timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	startedThreadID, err := o.startOrResumeThread(runCtx, threadID, resume, cfg)
	if err != nil {
		return Result{}, err
	}

	// Subscribe before turn/start so no envelope for this turn can be
	// missed between thread setup and the call that creates it.
	sub := o.dispatcher.Subscribe()
	defer sub.Unsubscribe()

	turnID, err := o.startTurn(runCtx, startedThreadID, cfg, prompt)
	if err != nil {
		return Result{}, err
	}

	result, runErr := o.collect(runCtx, sub, startedThreadID, turnID, deadline)

	if o.hooks != nil {
		postCtx := &rtihooks.Context{Phase: rtihooks.PostRun, ThreadID: startedThreadID, TurnID: turnID, Cwd: cfg.Cwd}
		o.hooks.RunPost(ctx, postCtx, &cfg.Hooks)
	}

	return result, runErr
}

func (o *Orchestrator) startOrResumeThread(ctx context.Context, threadID string, resume bool, cfg runprofile.SessionConfig) (string, error) {
	method := "thread/start"
	reqParams := map[string]any{
		"cwd":                          cfg.Cwd,
		"model":                        cfg.Model,
		"approvalPolicy":               approvalPolicyWire(cfg.ApprovalPolicy),
		"sandboxPolicy":                sandboxPolicyWire(cfg.SandboxPolicy),
		"privilegedEscalationApproved": cfg.PrivilegedEscalationApproved,
	}
	if resume {
		method = "thread/resume"
		reqParams["threadId"] = threadID
	}

	raw, err := o.dispatcher.CallRaw(ctx, method, reqParams)
	if err != nil {
		return "", err
	}

	var probe struct {
		ThreadID string `json:"threadId"`
		Thread   *struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	_ = json.Unmarshal(raw, &probe)
	got := probe.ThreadID
	if got == "" && probe.Thread != nil {
		got = probe.Thread.ID
	}
	if got == "" {
		return "", rtierr.InvalidRequest("%s reply carried no thread id", method)
	}
	if resume && got != threadID {
		return "", rtierr.InvalidRequest("%s reply thread id %q does not match requested %q", method, got, threadID)
	}
	return got, nil
}

func (o *Orchestrator) startTurn(ctx context.Context, threadID string, cfg runprofile.SessionConfig, prompt string) (string, error) {
	params := runprofile.SessionPromptParams(cfg, prompt)
	reqParams := map[string]any{
		"threadId":                     threadID,
		"input":                        buildInputItems(params.Prompt, params.Attachments),
		"cwd":                          params.Cwd,
		"model":                        params.Model,
		"effort":                       effortWire(params.Effort),
		"approvalPolicy":               approvalPolicyWire(params.ApprovalPolicy),
		"sandboxPolicy":                sandboxPolicyWire(params.SandboxPolicy),
		"privilegedEscalationApproved": params.PrivilegedEscalationApproved,
	}

	raw, err := o.dispatcher.CallRaw(ctx, "turn/start", reqParams)
	if err != nil {
		return "", err
	}
	var probe struct {
		TurnID string `json:"turnId"`
	}
	_ = json.Unmarshal(raw, &probe)
	if probe.TurnID == "" {
		return "", rtierr.InvalidRequest("turn/start reply carried no turn id")
	}
	return probe.TurnID, nil
}

// collect consumes the live envelope stream until a terminal envelope for
// (threadID, turnID) arrives, recovering via thread/read if the
// subscription has dropped envelopes in the meantime.
func (o *Orchestrator) collect(ctx context.Context, sub *rtidispatch.Subscription, threadID, turnID string, deadline time.Time) (Result, error) {
	lagCheck := time.NewTicker(100 * time.Millisecond)
	defer lagCheck.Stop()
	var lastLag uint64

	for {
		select {
		case env, ok := <-sub.Recv():
			if !ok {
				return Result{}, rtierr.TransportClosed("envelope broadcast closed mid-run")
			}
			if env.ThreadID != threadID || env.TurnID != turnID {
				continue
			}
			switch env.Method {
			case "turn/completed", "turn/failed", "turn/interrupted":
				// Envelopes dropped before this one may have carried the
				// turn's text, so an unhandled lag goes through thread/read first.
				if sub.Lagged() > lastLag {
					lastLag = sub.Lagged()
					if result, err, recovered := o.recoverViaThreadRead(ctx, threadID, turnID); recovered {
						return result, err
					}
				}
				return o.terminalFromState(threadID, turnID)
			}

		case <-lagCheck.C:
			if sub.Lagged() > lastLag {
				lastLag = sub.Lagged()
				if result, err, recovered := o.recoverViaThreadRead(ctx, threadID, turnID); recovered {
					return result, err
				}
			}

		case <-ctx.Done():
			o.bestEffortInterrupt(threadID, turnID)
			return Result{}, rtierr.Timeout(deadline.Format(time.RFC3339))
		}
	}
}

// terminalFromState reads the turn's terminal outcome straight out of the
// dispatcher's state projection, which has already reduced this envelope
// by the time it reached the broadcast.
func (o *Orchestrator) terminalFromState(threadID, turnID string) (Result, error) {
	snapshot := o.dispatcher.StateSnapshot()
	th, ok := snapshot.Threads[threadID]
	if !ok {
		return Result{}, rtierr.BareTurnFailed()
	}
	turn, ok := th.Turns[turnID]
	if !ok {
		return Result{}, rtierr.BareTurnFailed()
	}
	return turnOutcome(threadID, turnID, turn)
}

// turnOutcome maps one rtistate.Turn to either a successful Result or the
// matching terminal error.
func turnOutcome(threadID, turnID string, turn *rtistate.Turn) (Result, error) {
	switch turn.Status {
	case rtistate.TurnCompleted:
		text, sawAnyItem := assistantText(turn)
		text = strings.TrimSpace(text)
		if text == "" {
			if !sawAnyItem {
				return Result{}, rtierr.EmptyAssistantText()
			}
			return Result{}, rtierr.TurnWithoutAssistantText()
		}
		return Result{ThreadID: threadID, TurnID: turnID, AssistantText: text}, nil

	case rtistate.TurnFailed:
		if turn.TerminalErr != nil {
			if code, msg, ok := rtistate.ExtractErrorSignal(turn.TerminalErr); ok {
				return Result{}, rtierr.TurnFailed("turn/failed", code, msg)
			}
		}
		return Result{}, rtierr.BareTurnFailed()

	case rtistate.TurnInterrupted:
		return Result{}, rtierr.TurnInterrupted()

	default:
		return Result{}, rtierr.BareTurnFailed()
	}
}

// assistantText concatenates the text of every agentMessage item in
// stream order, reporting whether any item at all was ever observed for
// this turn (used to distinguish a truly empty turn from one that simply
// never produced assistant text).
func assistantText(turn *rtistate.Turn) (string, bool) {
	if len(turn.ItemOrder) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, id := range turn.ItemOrder {
		item, ok := turn.Items[id]
		if !ok || item.ItemType != "agentMessage" {
			continue
		}
		b.WriteString(item.TextAccum.Text)
	}
	return b.String(), true
}

type threadReadTurn struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AssistantText string `json:"assistantText"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// recoverViaThreadRead issues thread/read with includeTurns after a lag
// has been detected, and returns the target turn's outcome if thread/read
// shows it already reached a terminal state. recovered is false when the
// call failed, the turn could not be located, or it is still in progress
// (in which case the caller keeps waiting on the live stream).
func (o *Orchestrator) recoverViaThreadRead(ctx context.Context, threadID, turnID string) (result Result, err error, recovered bool) {
	raw, callErr := o.dispatcher.CallRaw(ctx, "thread/read", map[string]any{"threadId": threadID, "includeTurns": true})
	if callErr != nil {
		return Result{}, nil, false
	}

	var probe struct {
		Thread *struct {
			ID    string           `json:"id"`
			Turns []threadReadTurn `json:"turns"`
		} `json:"thread"`
		ThreadID string           `json:"threadId"`
		Turns    []threadReadTurn `json:"turns"`
	}
	if jsonErr := json.Unmarshal(raw, &probe); jsonErr != nil {
		return Result{}, nil, false
	}

	turns := probe.Turns
	if probe.Thread != nil {
		turns = probe.Thread.Turns
	}
	for _, t := range turns {
		if t.ID != turnID {
			continue
		}
		if t.Status == "completed" && strings.TrimSpace(t.AssistantText) == "" {
			// An empty thread/read text leaves the locally collected text in place.
			if th, ok := o.dispatcher.StateSnapshot().Threads[threadID]; ok {
				if turn, ok := th.Turns[turnID]; ok {
					if text, _ := assistantText(turn); strings.TrimSpace(text) != "" {
						return Result{ThreadID: threadID, TurnID: turnID, AssistantText: strings.TrimSpace(text)}, nil, true
					}
				}
			}
		}
		return turnOutcomeFromRead(threadID, turnID, t)
	}
	return Result{}, nil, false
}

func turnOutcomeFromRead(threadID, turnID string, t threadReadTurn) (Result, error, bool) {
	switch t.Status {
	case "completed":
		text := strings.TrimSpace(t.AssistantText)
		if text == "" {
			return Result{}, rtierr.TurnWithoutAssistantText(), true
		}
		return Result{ThreadID: threadID, TurnID: turnID, AssistantText: text}, nil, true

	case "failed":
		if t.Error != nil {
			return Result{}, rtierr.TurnFailed("thread/read", t.Error.Code, t.Error.Message), true
		}
		return Result{}, rtierr.BareTurnFailed(), true

	case "interrupted":
		return Result{}, rtierr.TurnInterrupted(), true

	default:
		// Still in progress per thread/read; keep waiting on the live stream.
		return Result{}, nil, false
	}
}

func (o *Orchestrator) bestEffortInterrupt(threadID, turnID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, _ = o.dispatcher.CallRaw(ctx, "turn/interrupt", map[string]any{"threadId": threadID, "turnId": turnID})
}

func validateAttachments(cwd string, attachments []runprofile.Attachment) error {
	for _, a := range attachments {
		var path string
		switch a.Kind {
		case runprofile.AttachAtPath, runprofile.AttachLocalImage, runprofile.AttachSkill:
			path = a.Path
		default:
			continue
		}
		if path == "" {
			continue
		}
		resolved := path
		if !filepath.IsAbs(resolved) && cwd != "" {
			resolved = filepath.Join(cwd, path)
		}
		if _, err := os.Stat(resolved); err != nil {
			return rtierr.AttachmentNotFound(path)
		}
	}
	return nil
}

// checkPrivilegedEscalationGate implements the SEC-004 gate: a privileged
// sandbox policy (DangerFullAccess, or WorkspaceWrite/External with
// network) is refused unless explicitly approved, the approval policy is
// not Never, and a cwd is set.
func checkPrivilegedEscalationGate(cfg runprofile.SessionConfig) error {
	if !cfg.SandboxPolicy.IsPrivileged() {
		return nil
	}
	if !cfg.PrivilegedEscalationApproved {
		return rtierr.PrivilegedEscalationDenied("privileged sandbox policy requires AllowPrivilegedEscalation")
	}
	if cfg.ApprovalPolicy == runprofile.ApprovalNever {
		return rtierr.PrivilegedEscalationDenied("privileged sandbox policy is incompatible with ApprovalNever")
	}
	if cfg.Cwd == "" {
		return rtierr.PrivilegedEscalationDenied("privileged sandbox policy requires an explicit cwd")
	}
	return nil
}

func applyPreActions(cfg runprofile.SessionConfig, prompt string, actions []rtihooks.Action) (runprofile.SessionConfig, string) {
	for _, a := range actions {
		if a.Mutate == nil {
			continue
		}
		if a.Mutate.PromptOverride != nil {
			prompt = *a.Mutate.PromptOverride
		}
		if a.Mutate.ModelOverride != nil {
			cfg = cfg.WithModel(*a.Mutate.ModelOverride)
		}
		for _, raw := range a.Mutate.AddAttachments {
			if att, ok := raw.(runprofile.Attachment); ok {
				cfg = cfg.WithAttachment(att)
			}
		}
	}
	return cfg, prompt
}

func modelOf(cfg runprofile.SessionConfig) string {
	if cfg.Model == nil {
		return ""
	}
	return *cfg.Model
}

func effortWire(e runprofile.ReasoningEffort) string {
	switch e {
	case runprofile.EffortLow:
		return "low"
	case runprofile.EffortHigh:
		return "high"
	default:
		return "medium"
	}
}

func approvalPolicyWire(p runprofile.ApprovalPolicy) string {
	switch p {
	case runprofile.ApprovalUntrusted:
		return "untrusted"
	case runprofile.ApprovalOnFailure:
		return "on-failure"
	case runprofile.ApprovalOnRequest:
		return "on-request"
	default:
		return "never"
	}
}

func sandboxPolicyWire(p runprofile.SandboxPolicy) map[string]any {
	switch p.Kind {
	case runprofile.SandboxWorkspaceWrite:
		return map[string]any{"type": "workspace-write", "writableRoots": p.WritableRoots, "network": p.Network}
	case runprofile.SandboxDangerFullAccess:
		return map[string]any{"type": "danger-full-access"}
	case runprofile.SandboxExternal:
		return map[string]any{"type": "external", "network": p.Network}
	default:
		return map[string]any{"type": "read-only"}
	}
}

// textElement is one @path mention's byte range within the text item,
// wired as {"byteRange":{"start","end"},"placeholder"?}.
type textElement struct {
	start, end  int
	placeholder string
}

// buildInputItems assembles the turn/start "input" array: a single text
// item carrying the prompt with every AtPath attachment appended as an
// "@path" mention and recorded as a text element's byte range, followed
// by one input item per non-text attachment (image, localImage, skill).
func buildInputItems(prompt string, attachments []runprofile.Attachment) []map[string]any {
	text := prompt
	var elements []textElement
	var tail []map[string]any

	for _, a := range attachments {
		switch a.Kind {
		case runprofile.AttachAtPath:
			text, elements = appendAtPathMention(text, elements, a.Path, a.Placeholder)
		case runprofile.AttachImageURL:
			tail = append(tail, map[string]any{"type": "image", "url": a.URL})
		case runprofile.AttachLocalImage:
			tail = append(tail, map[string]any{"type": "localImage", "path": a.Path})
		case runprofile.AttachSkill:
			tail = append(tail, map[string]any{"type": "skill", "name": a.SkillName, "path": a.Path})
		}
	}

	input := make([]map[string]any, 0, 1+len(tail))
	textItem := map[string]any{"type": "text", "text": text}
	if len(elements) > 0 {
		textItem["text_elements"] = textElementsWire(elements)
	}
	input = append(input, textItem)
	input = append(input, tail...)
	return input
}

// appendAtPathMention appends a newline-separated "@path" mention to text
// and records its byte range, mirroring the reference runtime's
// append_at_path_mention.
func appendAtPathMention(text string, elements []textElement, path, placeholder string) (string, []textElement) {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	start := len(text)
	text += "@" + path
	end := len(text)
	return text, append(elements, textElement{start: start, end: end, placeholder: placeholder})
}

func textElementsWire(elements []textElement) []map[string]any {
	out := make([]map[string]any, 0, len(elements))
	for _, e := range elements {
		m := map[string]any{"byteRange": map[string]any{"start": e.start, "end": e.end}}
		if e.placeholder != "" {
			m["placeholder"] = e.placeholder
		}
		out = append(out, m)
	}
	return out
}
