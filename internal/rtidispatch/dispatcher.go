// Package rtidispatch owns all pending-RPC and pending-server-request
// state, the envelope broadcaster, the optional sink, and the timeout
// sweeper — the kernel's single point of mutation for everything that
// flows across the wire.
package rtidispatch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkoosis/agentrt/internal/rtiauthcache"
	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtimetrics"
	"github.com/dkoosis/agentrt/internal/rtistate"
	"github.com/dkoosis/agentrt/internal/rtiwire"
)

const sweepInterval = 50 * time.Millisecond

// Config bounds the dispatcher's queues and policies.
type Config struct {
	SinkCapacity             int
	ServerRequestCapacity    int
	AutoDeclineUnknown       bool
	DefaultServerTimeoutMs   int64
	ServerTimeoutAction      TimeoutAction
	SubscriberCapacity       int
	StateCaps                rtistate.Caps
	AuthCache                *rtiauthcache.Cache
}

// DefaultConfig mirrors sensible defaults for the queues above.
func DefaultConfig() Config {
	return Config{
		SinkCapacity:           0,
		ServerRequestCapacity:  64,
		AutoDeclineUnknown:     true,
		DefaultServerTimeoutMs: 30_000,
		ServerTimeoutAction:    TimeoutDecline,
		SubscriberCapacity:     256,
		StateCaps:              rtistate.DefaultCaps(),
	}
}

// Dispatcher is the runtime's single mutator of pending RPC/server-request
// state and the live envelope stream.
type Dispatcher struct {
	cfg Config

	pending   *pendingRPCs
	serverReq *serverRequestRouter
	broadcast *Broadcaster
	sink      *sink
	metrics   *rtimetrics.Metrics
	log       rtilog.Logger

	stateMu sync.RWMutex
	state   *rtistate.State

	seq      atomic.Uint64
	outbound atomic.Pointer[chan json.RawMessage]

	stopSweep chan struct{}
}

// New constructs a Dispatcher. Call Run with the transport's inbound
// channel to start processing, and SetOutbound once the transport's
// outbound channel for the current generation is known.
func New(cfg Config, metrics *rtimetrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		pending:   newPendingRPCs(),
		serverReq: newServerRequestRouter(cfg.ServerRequestCapacity, cfg.AutoDeclineUnknown, cfg.DefaultServerTimeoutMs, cfg.ServerTimeoutAction, cfg.AuthCache),
		broadcast: NewBroadcaster(),
		sink:      newSink(cfg.SinkCapacity, metrics),
		metrics:   metrics,
		log:       rtilog.GetLogger("dispatcher"),
		state:     rtistate.New(),
		stopSweep: make(chan struct{}),
	}
	return d
}

// SetOutbound installs the outbound frame channel for the current
// transport generation. Passing nil marks the transport as closed; any
// caller observing a nil outbound treats it as TransportClosed.
func (d *Dispatcher) SetOutbound(ch chan json.RawMessage) {
	if ch == nil {
		d.outbound.Store(nil)
		return
	}
	d.outbound.Store(&ch)
}

// writeFrame enqueues frame on the current generation's outbound channel.
// Unlike the broadcast/sink paths this blocks on a full queue rather than
// dropping: reply and request frames are not lossy by design.
func (d *Dispatcher) writeFrame(frame json.RawMessage) error {
	p := d.outbound.Load()
	if p == nil {
		return rtierr.TransportClosed("no active transport generation")
	}
	*p <- frame
	return nil
}

// Run processes inbound messages until the channel is closed, also
// driving the 50ms timeout sweep. It is meant to run in its own
// goroutine for the lifetime of one transport generation.
func (d *Dispatcher) Run(inbound <-chan json.RawMessage) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			d.handleInbound(raw)
		case <-ticker.C:
			d.runSweep()
		case <-d.stopSweep:
			return
		}
	}
}

// Stop halts the sweep/inbound loop (used by the supervisor when tearing
// a generation down deliberately rather than via transport EOF).
func (d *Dispatcher) Stop() {
	select {
	case <-d.stopSweep:
	default:
		close(d.stopSweep)
	}
}

func (d *Dispatcher) handleInbound(raw json.RawMessage) {
	if d.metrics != nil {
		d.metrics.IngressTotal.Inc()
	}

	kind, id, method, threadID, turnID, itemID := rtiwire.Classify(raw)

	switch kind {
	case rtiwire.KindResponse:
		d.resolveResponse(id, raw)
	case rtiwire.KindServerRequest:
		if reply := d.serverReq.route(&rtiwire.Envelope{ID: id, Method: method, Raw: raw}, nowMs()); reply != nil {
			_ = d.writeFrame(reply)
		}
		if d.metrics != nil {
			d.metrics.PendingServerReqGauge.Set(float64(d.serverReq.pendingCount()))
		}
	}

	env := &rtiwire.Envelope{
		Seq:        d.seq.Add(1),
		ReceivedMs: nowMs(),
		Direction:  rtiwire.DirectionInbound,
		Kind:       kind,
		ID:         id,
		Method:     method,
		ThreadID:   threadID,
		TurnID:     turnID,
		ItemID:     itemID,
		Raw:        raw,
	}

	d.stateMu.Lock()
	rtistate.Reduce(d.state, env, d.cfg.StateCaps)
	d.stateMu.Unlock()

	d.sink.forward(env)
	d.broadcast.Publish(env)
}

func (d *Dispatcher) resolveResponse(id *rtiwire.ID, raw json.RawMessage) {
	if id == nil || id.IsStr || id.IsNull {
		return // locally-allocated ids are always numeric
	}
	numID := uint64(id.Num)
	ch := d.pending.resolve(numID)
	if ch == nil {
		return
	}

	var probe struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &probe)

	if probe.Error != nil {
		ch <- rpcResult{Err: &RpcError{Remote: &rtierr.RemoteError{Code: probe.Error.Code, Message: probe.Error.Message, Data: probe.Error.Data}}}
		return
	}
	ch <- rpcResult{Value: probe.Result}
}

func (d *Dispatcher) runSweep() {
	replies := d.serverReq.sweep(nowMs())
	for _, reply := range replies {
		_ = d.writeFrame(reply)
	}
	if d.metrics != nil {
		d.metrics.PendingRPCGauge.Set(float64(d.pending.count()))
		d.metrics.PendingServerReqGauge.Set(float64(d.serverReq.pendingCount()))
	}
}

type outboundRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type outboundNotification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// CallRaw allocates a correlation id, sends a JSON-RPC request frame, and
// awaits the response under ctx's deadline.
func (d *Dispatcher) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, ch := d.pending.insert()
	frame, err := json.Marshal(outboundRequest{ID: id, Method: method, Params: params})
	if err != nil {
		d.pending.remove(id)
		return nil, rtierr.InvalidRequest("could not marshal params for %q: %v", method, err)
	}

	if err := d.writeFrame(frame); err != nil {
		d.pending.remove(id)
		return nil, err
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-ctx.Done():
		d.pending.remove(id)
		return nil, &RpcError{Timeout: true}
	}
}

// NotifyRaw sends a method+params frame with no id and no completion
// tracking.
func (d *Dispatcher) NotifyRaw(method string, params any) error {
	frame, err := json.Marshal(outboundNotification{Method: method, Params: params})
	if err != nil {
		return rtierr.InvalidRequest("could not marshal params for %q: %v", method, err)
	}
	return d.writeFrame(frame)
}

// Subscribe registers a new live-envelope subscriber.
func (d *Dispatcher) Subscribe() *Subscription {
	return d.broadcast.Subscribe(d.cfg.SubscriberCapacity)
}

// TakeServerRequests hands out the single-consumer server-request queue.
func (d *Dispatcher) TakeServerRequests() (<-chan *ServerRequest, error) {
	return d.serverReq.takeQueue()
}

// RespondApprovalOK completes a pending server request with a successful
// result, after shape validation.
func (d *Dispatcher) RespondApprovalOK(approvalID string, result json.RawMessage) error {
	reply, err := d.serverReq.complete(approvalID, result, nil)
	if err != nil {
		return err
	}
	return d.writeFrame(reply)
}

// RespondApprovalErr completes a pending server request with a JSON-RPC
// error reply.
func (d *Dispatcher) RespondApprovalErr(approvalID string, code int, message string) error {
	reply, err := d.serverReq.complete(approvalID, nil, &rtierr.RemoteError{Code: code, Message: message})
	if err != nil {
		return err
	}
	return d.writeFrame(reply)
}

// StateSnapshot returns the current projection. Readers take a reference
// under a read lock rather than deep-copying; the reducer always installs
// a freshly-mutated state so this reference stays valid for the reader's
// use.
func (d *Dispatcher) StateSnapshot() *rtistate.State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// DrainPendingOnTransportClose resolves every outstanding waiter with
// TransportClosed and answers every pending server request with its
// timeout-policy reply, as if its deadline had passed.
// Called by the supervisor when a generation's transport exits.
func (d *Dispatcher) DrainPendingOnTransportClose() {
	for _, ch := range d.pending.drainAll() {
		ch <- rpcResult{Err: &RpcError{TransportClosed: true}}
	}
	replies := d.serverReq.sweep(maxInt64)
	for _, reply := range replies {
		_ = d.writeFrame(reply)
	}
}

// PendingRPCCount reports the number of currently in-flight outbound RPCs.
func (d *Dispatcher) PendingRPCCount() int { return d.pending.count() }

// NoReceiverCount reports how many envelopes were broadcast with no
// subscribers listening.
func (d *Dispatcher) NoReceiverCount() uint64 { return d.broadcast.NoReceiverCount() }

const maxInt64 = int64(^uint64(0) >> 1)

func nowMs() int64 { return time.Now().UnixMilli() }
