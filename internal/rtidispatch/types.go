package rtidispatch

import (
	"encoding/json"

	"github.com/dkoosis/agentrt/internal/rtierr"
)

// RpcError is the outcome of a failed outbound call.
type RpcError struct {
	InvalidRequest string
	TransportClosed bool
	Timeout        bool
	Remote         *rtierr.RemoteError
}

func (e *RpcError) Error() string {
	switch {
	case e.Remote != nil:
		return e.Remote.Error()
	case e.TransportClosed:
		return "agentrt: transport closed"
	case e.Timeout:
		return "agentrt: timeout"
	case e.InvalidRequest != "":
		return "agentrt: invalid request: " + e.InvalidRequest
	default:
		return "agentrt: rpc error"
	}
}

// rpcResult is delivered to a pending waiter's single-shot completion
// channel: one of Value or Err is set.
type rpcResult struct {
	Value json.RawMessage
	Err   *RpcError
}

// ServerRequest is the application-facing view of a queued, inbound
// server-originated request awaiting a reply.
type ServerRequest struct {
	ApprovalID string
	Method     string
	Params     json.RawMessage
	DeadlineMs int64
}
