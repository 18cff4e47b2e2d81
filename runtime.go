// Package agentrt is the public facade over the whole client-side
// runtime: it wires the transport, dispatcher, supervisor, hook kernel,
// compatibility guard, schema guard, and contract validator into the
// one connection a host application holds, and drives the initialize
// handshake and prompt-run algorithm on top of them.
package agentrt

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/dkoosis/agentrt/internal/rticompat"
	"github.com/dkoosis/agentrt/internal/rticontract"
	"github.com/dkoosis/agentrt/internal/rtidispatch"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtihooks"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtimetrics"
	"github.com/dkoosis/agentrt/internal/rtiorchestrator"
	"github.com/dkoosis/agentrt/internal/rtiswitchboard"
	"github.com/dkoosis/agentrt/internal/rtisupervisor"
	"github.com/dkoosis/agentrt/internal/schemaguard"
	"github.com/dkoosis/agentrt/runprofile"
	"github.com/dkoosis/agentrt/runtimecfg"
)

// Runtime is one connection to an agent subprocess, from handshake
// through shutdown. All methods are safe for concurrent use once Connect
// has returned.
type Runtime struct {
	cfg        *runtimecfg.Settings
	metrics    *rtimetrics.Metrics
	supervisor *rtisupervisor.Supervisor
	hooks      *rtihooks.Kernel
	orch       *rtiorchestrator.Orchestrator
	contract   *rticontract.Validator
	guard      rticompat.Guard
	log        rtilog.Logger

	userAgent string
}

// New builds a Runtime from cfg. Call Connect to spawn the subprocess and
// complete the handshake before issuing any calls.
func New(cfg *runtimecfg.Settings, hooks rtihooks.Config) (*Runtime, error) {
	guard, err := cfg.CompatibilityGuard()
	if err != nil {
		return nil, errors.Wrap(err, "agentrt: invalid compatibility config")
	}
	contract, err := rticontract.NewValidator(cfg.ContractMode())
	if err != nil {
		return nil, errors.Wrap(err, "agentrt: failed to compile contract schemas")
	}

	metrics := rtimetrics.New(nil)
	dispatcherCfg := cfg.DispatcherConfig()
	sup := rtisupervisor.New(cfg.ProcessSpec(), cfg.TransportConfig(), dispatcherCfg, cfg.RestartPolicy(), metrics)
	kernel := rtihooks.NewKernel(hooks)

	return &Runtime{
		cfg:        cfg,
		metrics:    metrics,
		supervisor: sup,
		hooks:      kernel,
		orch:       rtiorchestrator.New(sup.Dispatcher(), kernel),
		contract:   contract,
		guard:      guard,
		log:        rtilog.GetLogger("agentrt"),
	}, nil
}

// Connect verifies the active schema (if configured), spawns the
// subprocess, and completes the initialize/initialized handshake,
// enforcing the compatibility guard before marking the connection ready.
func (r *Runtime) Connect(ctx context.Context) error {
	if r.cfg.SchemaDir != "" {
		if _, err := schemaguard.Verify(r.cfg.SchemaDir); err != nil {
			return errors.Wrap(err, "agentrt: schema guard rejected active schema directory")
		}
	}

	if err := r.supervisor.Start(ctx); err != nil {
		return errors.Wrap(err, "agentrt: failed to start subprocess")
	}

	raw, err := r.supervisor.CallRaw(ctx, "initialize", map[string]any{})
	if err != nil {
		return errors.Wrap(err, "agentrt: initialize call failed")
	}

	var result struct {
		UserAgent string `json:"userAgent"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return errors.Wrap(err, "agentrt: initialize reply was not valid JSON")
	}

	_, _, guardErr := r.guard.Check(result.UserAgent)
	if guardErr != nil {
		shutdownErr := r.teardownAfterFailedHandshake(ctx)
		return rticompat.TeardownJoinError(guardErr, shutdownErr)
	}
	r.userAgent = result.UserAgent

	if err := r.supervisor.Dispatcher().NotifyRaw("initialized", map[string]any{}); err != nil {
		return errors.Wrap(err, "agentrt: failed to send initialized notification")
	}

	if err := r.supervisor.MarkHandshakeComplete(ctx); err != nil {
		return errors.Wrap(err, "agentrt: switchboard rejected handshake completion")
	}
	r.log.Info("connected", "userAgent", r.userAgent)
	return nil
}

func (r *Runtime) teardownAfterFailedHandshake(ctx context.Context) error {
	result := r.supervisor.Shutdown(ctx, r.cfg.FlushTimeout(), r.cfg.TerminateGrace())
	return result.ExitErr
}

// UserAgent returns the subprocess's advertised user agent, populated
// once Connect has completed successfully.
func (r *Runtime) UserAgent() string { return r.userAgent }

// Metrics returns the Prometheus metrics bundle backing this runtime.
func (r *Runtime) Metrics() *rtimetrics.Metrics { return r.metrics }

// CallRaw validates params against the contract (when the method is
// known or strict mode is enabled) and issues a request, awaiting the
// response under ctx's deadline.
func (r *Runtime) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := r.validateOutboundParams(ctx, method, params); err != nil {
		return nil, err
	}
	return r.supervisor.CallRaw(ctx, method, params)
}

// NotifyRaw sends a method+params frame with no id and no completion
// tracking.
func (r *Runtime) NotifyRaw(ctx context.Context, method string, params any) error {
	if err := r.validateOutboundParams(ctx, method, params); err != nil {
		return err
	}
	return r.supervisor.Dispatcher().NotifyRaw(method, params)
}

func (r *Runtime) validateOutboundParams(ctx context.Context, method string, params any) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return rtierr.InvalidRequest("could not marshal params for %q: %v", method, err)
	}
	return r.contract.ValidateParams(ctx, method, encoded)
}

// Subscribe registers a new live-envelope subscriber. Callers must call
// Unsubscribe once done to free the slot.
func (r *Runtime) Subscribe() *rtidispatch.Subscription {
	return r.supervisor.Dispatcher().Subscribe()
}

// TakeServerRequests hands out the single-consumer server-request queue.
func (r *Runtime) TakeServerRequests() (<-chan *rtidispatch.ServerRequest, error) {
	return r.supervisor.Dispatcher().TakeServerRequests()
}

// RespondApprovalOK shape-validates result for method and completes the
// pending server request identified by approvalID.
func (r *Runtime) RespondApprovalOK(approvalID, method string, result json.RawMessage) error {
	if err := rticontract.ValidateServerRequestResult(method, result); err != nil {
		return err
	}
	return r.supervisor.Dispatcher().RespondApprovalOK(approvalID, result)
}

// RespondApprovalErr completes a pending server request with a JSON-RPC
// error reply.
func (r *Runtime) RespondApprovalErr(approvalID string, code int, message string) error {
	return r.supervisor.Dispatcher().RespondApprovalErr(approvalID, code, message)
}

// StartThread runs one prompt on a freshly started thread.
func (r *Runtime) StartThread(ctx context.Context, cfg runprofile.SessionConfig, prompt string) (rtiorchestrator.Result, error) {
	return r.orch.RunOnNewThread(ctx, cfg, prompt)
}

// ResumeThread runs one prompt on an existing thread.
func (r *Runtime) ResumeThread(ctx context.Context, threadID string, cfg runprofile.SessionConfig, prompt string) (rtiorchestrator.Result, error) {
	return r.orch.RunOnExistingThread(ctx, threadID, cfg, prompt)
}

// RegisterHooks adds hooks to the runtime's global hook set, deduplicating
// by hook name.
func (r *Runtime) RegisterHooks(cfg rtihooks.Config) { r.hooks.Register(cfg) }

// HooksReport returns the most recent hook execution report.
func (r *Runtime) HooksReport() rtihooks.Report { return r.hooks.ReportSnapshot() }

// State returns the connection's current switchboard phase.
func (r *Runtime) State() rtiswitchboard.State { return r.supervisor.State() }

// Shutdown tears the connection down: stops restart handling, terminates
// the current subprocess generation, and releases the dispatcher.
func (r *Runtime) Shutdown(ctx context.Context) error {
	result := r.supervisor.Shutdown(ctx, r.cfg.FlushTimeout(), r.cfg.TerminateGrace())
	return result.ExitErr
}
