// Package rtisupervisor owns the subprocess's connection generation: it
// spawns the transport, drives a persistent dispatcher across restarts,
// and rebuilds a crashed generation with exponential backoff and jitter.
package rtisupervisor

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkoosis/agentrt/internal/rtidispatch"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtimetrics"
	"github.com/dkoosis/agentrt/internal/rtiotransport"
	"github.com/dkoosis/agentrt/internal/rtiswitchboard"
)

// RestartMode selects whether the supervisor ever restarts a crashed
// generation.
type RestartMode int

const (
	RestartNever RestartMode = iota
	RestartOnCrash
)

// RestartPolicy bounds restart attempts and backoff.
type RestartPolicy struct {
	Mode          RestartMode
	MaxRestarts   int
	BaseBackoffMs int64
	MaxBackoffMs  int64
}

// NeverRestart never rebuilds a crashed generation; the first exit is terminal.
func NeverRestart() RestartPolicy { return RestartPolicy{Mode: RestartNever} }

// OnCrash restarts up to maxRestarts times with exponential backoff capped
// at maxBackoffMs.
func OnCrash(maxRestarts int, baseBackoffMs, maxBackoffMs int64) RestartPolicy {
	return RestartPolicy{Mode: RestartOnCrash, MaxRestarts: maxRestarts, BaseBackoffMs: baseBackoffMs, MaxBackoffMs: maxBackoffMs}
}

// backoffDelay computes base*2^attempt capped at max, plus uniform jitter
// in [0, min(base/10, 1000)]ms. attempt is 0-indexed (first retry is
// attempt 0).
func backoffDelay(attempt int, baseMs, maxMs int64) time.Duration {
	delay := baseMs
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxMs {
			delay = maxMs
			break
		}
	}
	if delay > maxMs {
		delay = maxMs
	}

	jitterCap := baseMs / 10
	if jitterCap > 1000 {
		jitterCap = 1000
	}
	var jitter int64
	if jitterCap > 0 {
		jitter = rand.Int64N(jitterCap + 1)
	}
	return time.Duration(delay+jitter) * time.Millisecond
}

// Supervisor owns one persistent Dispatcher and rebuilds the transport
// generation that feeds it whenever the subprocess exits unexpectedly.
type Supervisor struct {
	spec          rtiotransport.ProcessSpec
	transportCfg  rtiotransport.Config
	policy        RestartPolicy
	metrics       *rtimetrics.Metrics
	log           rtilog.Logger

	sb         *rtiswitchboard.Switchboard
	dispatcher *rtidispatch.Dispatcher

	generation atomic.Uint64
	stopping   atomic.Bool
	stopCh     chan struct{}

	mu        sync.RWMutex
	transport *rtiotransport.Transport

	watchDone chan struct{}
}

// New constructs a Supervisor around a freshly-built Dispatcher. Call
// Start to spawn generation 0.
func New(spec rtiotransport.ProcessSpec, transportCfg rtiotransport.Config, dispatcherCfg rtidispatch.Config, policy RestartPolicy, metrics *rtimetrics.Metrics) *Supervisor {
	return &Supervisor{
		spec:         spec,
		transportCfg: transportCfg,
		policy:       policy,
		metrics:      metrics,
		log:          rtilog.GetLogger("supervisor"),
		sb:           rtiswitchboard.New(),
		dispatcher:   rtidispatch.New(dispatcherCfg, metrics),
		stopCh:       make(chan struct{}),
		watchDone:    make(chan struct{}),
	}
}

// Dispatcher returns the persistent dispatcher shared across generations.
func (s *Supervisor) Dispatcher() *rtidispatch.Dispatcher { return s.dispatcher }

// Generation returns the current generation number.
func (s *Supervisor) Generation() uint64 { return s.generation.Load() }

// State returns the connection's current phase.
func (s *Supervisor) State() rtiswitchboard.State { return s.sb.Current() }

// Start spawns generation 0 and begins watching for unexpected exits.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.sb.Fire(ctx, rtiswitchboard.EventHandshakeStarted); err != nil {
		return err
	}
	if err := s.spawnGeneration(ctx); err != nil {
		return err
	}
	go s.watch(ctx)
	return nil
}

// MarkHandshakeComplete transitions Handshaking -> Running once the
// caller has completed its initialize exchange and compatibility check.
func (s *Supervisor) MarkHandshakeComplete(ctx context.Context) error {
	return s.sb.Fire(ctx, rtiswitchboard.EventHandshakeComplete)
}

func (s *Supervisor) spawnGeneration(ctx context.Context) error {
	t, err := rtiotransport.Spawn(ctx, s.spec, s.transportCfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	s.dispatcher.SetOutbound(t.Outbound())
	go s.dispatcher.Run(t.Inbound())
	return nil
}

func (s *Supervisor) currentTransport() *rtiotransport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// watch waits for the current generation's transport to exit and either
// rebuilds the next generation (per policy) or settles into Dead.
func (s *Supervisor) watch(ctx context.Context) {
	defer close(s.watchDone)
	attempt := 0

	for {
		t := s.currentTransport()
		if t == nil {
			return
		}

		select {
		case <-t.Done():
		case <-s.stopCh:
			return
		}

		if s.stopping.Load() {
			return
		}

		s.dispatcher.DrainPendingOnTransportClose()
		if s.metrics != nil {
			s.metrics.RestartsTotal.Inc()
		}
		if err := s.sb.Fire(ctx, rtiswitchboard.EventTransportExited); err != nil {
			s.log.Error("switchboard rejected transport-exited event", "error", err)
			return
		}

		if s.policy.Mode == RestartNever || attempt >= s.policy.MaxRestarts {
			_ = s.sb.Fire(ctx, rtiswitchboard.EventExhausted)
			s.log.Warn("restart attempts exhausted, connection is dead", "attempts", attempt)
			return
		}

		delay := backoffDelay(attempt, s.policy.BaseBackoffMs, s.policy.MaxBackoffMs)
		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		}

		attempt++
		if err := s.spawnGeneration(ctx); err != nil {
			s.log.Error("failed to respawn generation", "error", err, "attempt", attempt)
			continue
		}
		s.generation.Add(1)
		if s.metrics != nil {
			s.metrics.RestartsTotal.Inc()
		}
		if err := s.sb.Fire(ctx, rtiswitchboard.EventGenerationStarted); err != nil {
			s.log.Error("switchboard rejected generation-started event", "error", err)
			return
		}
	}
}

// CallRaw fails fast once the connection has reached Dead; otherwise it
// delegates to the persistent dispatcher.
func (s *Supervisor) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.sb.IsDead() {
		return nil, rtierr.InvalidRequest("connection is dead: no further calls accepted")
	}
	return s.dispatcher.CallRaw(ctx, method, params)
}

// Shutdown stops restart handling, terminates the current generation's
// subprocess, and settles the connection into Dead.
func (s *Supervisor) Shutdown(ctx context.Context, flushTimeout, terminateGrace time.Duration) rtiotransport.JoinResult {
	s.stopping.Store(true)
	_ = s.sb.Fire(ctx, rtiswitchboard.EventShutdownRequested)
	close(s.stopCh)
	<-s.watchDone

	t := s.currentTransport()
	var result rtiotransport.JoinResult
	if t != nil {
		result = t.TerminateAndJoin(flushTimeout, terminateGrace)
	}
	s.dispatcher.Stop()
	_ = s.sb.Fire(ctx, rtiswitchboard.EventExhausted)
	return result
}
