// Package rtiswitchboard wraps looplab/fsm into the runtime's
// ConnectionState machine: Starting -> Handshaking -> Running{gen} ->
// (Restarting{gen} -> Running{gen+1})* -> ShuttingDown -> Dead. Dead is
// absorbing. This generalizes the teacher's internal/fsm wrapper from an
// MCP method-routing state machine to a connection-generation lifecycle.
package rtiswitchboard

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	lfsm "github.com/looplab/fsm"

	"github.com/dkoosis/agentrt/internal/rtilog"
)

// State names a value of ConnectionState.
type State string

const (
	StateStarting     State = "starting"
	StateHandshaking  State = "handshaking"
	StateRunning      State = "running"
	StateRestarting   State = "restarting"
	StateShuttingDown State = "shutting_down"
	StateDead         State = "dead"
)

// Event names a transition trigger.
type Event string

const (
	EventHandshakeStarted  Event = "handshake_started"
	EventHandshakeComplete Event = "handshake_complete"
	EventTransportExited   Event = "transport_exited"
	EventGenerationStarted Event = "generation_started"
	EventShutdownRequested Event = "shutdown_requested"
	EventExhausted         Event = "exhausted"
)

// Switchboard is the named, inspectable companion to the supervisor's
// generation counter: it tracks only the connection's phase, never the
// generation number itself (that remains an atomic.Uint64 on the
// supervisor), and rejects transitions that don't belong to the current
// phase rather than silently permitting them.
type Switchboard struct {
	mu  sync.RWMutex
	fsm *lfsm.FSM
	log rtilog.Logger
}

// New builds a Switchboard starting in StateStarting.
func New() *Switchboard {
	sb := &Switchboard{log: rtilog.GetLogger("switchboard")}
	sb.fsm = lfsm.NewFSM(
		string(StateStarting),
		lfsm.Events{
			{Name: string(EventHandshakeStarted), Src: []string{string(StateStarting)}, Dst: string(StateHandshaking)},
			{Name: string(EventHandshakeComplete), Src: []string{string(StateHandshaking)}, Dst: string(StateRunning)},
			{Name: string(EventTransportExited), Src: []string{string(StateRunning)}, Dst: string(StateRestarting)},
			{Name: string(EventGenerationStarted), Src: []string{string(StateRestarting)}, Dst: string(StateRunning)},
			{Name: string(EventShutdownRequested), Src: []string{string(StateStarting), string(StateHandshaking), string(StateRunning), string(StateRestarting)}, Dst: string(StateShuttingDown)},
			{Name: string(EventExhausted), Src: []string{string(StateRestarting), string(StateShuttingDown)}, Dst: string(StateDead)},
		},
		lfsm.Callbacks{
			"enter_state": func(_ context.Context, e *lfsm.Event) {
				sb.log.Debug("connection state transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return sb
}

// Current returns the current state.
func (sb *Switchboard) Current() State {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return State(sb.fsm.Current())
}

// IsDead reports whether the machine has reached the absorbing Dead state.
func (sb *Switchboard) IsDead() bool {
	return sb.Current() == StateDead
}

// Fire triggers event, returning an error if the event is not valid from
// the current state (looplab's NoTransitionError/InvalidEventError).
func (sb *Switchboard) Fire(ctx context.Context, event Event) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if err := sb.fsm.Event(ctx, string(event)); err != nil {
		return errors.Wrapf(err, "switchboard: event %q invalid from state %q", event, sb.fsm.Current())
	}
	return nil
}

// CanFire reports whether event is valid from the current state, without
// evaluating any guard (looplab's Can() semantics).
func (sb *Switchboard) CanFire(event Event) bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.fsm.Can(string(event))
}

// Label formats a human-readable state label including an optional
// generation number, e.g. "running(gen=3)".
func Label(s State, gen uint64) string {
	if s == StateRunning || s == StateRestarting {
		return string(s) + "(gen=" + strconv.FormatUint(gen, 10) + ")"
	}
	return string(s)
}
