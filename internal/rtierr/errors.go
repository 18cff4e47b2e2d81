// Package rtierr defines the tagged error taxonomy shared across the runtime.
package rtierr

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

// Sentinel markers. Callers use errors.Is against these even after the
// concrete error has been wrapped with per-call context (approval id,
// method, thread id, ...).
var (
	ErrTransportClosed            = errors.New("agentrt: transport closed")
	ErrTimeout                    = errors.New("agentrt: timeout")
	ErrInvalidRequest             = errors.New("agentrt: invalid request")
	ErrNotInitialized             = errors.New("agentrt: runtime not initialized")
	ErrInvalidConfig              = errors.New("agentrt: invalid config")
	ErrServerRequestReceiverTaken = errors.New("agentrt: server request receiver already taken")
	ErrAttachmentNotFound         = errors.New("agentrt: attachment not found")
	ErrTurnFailed                 = errors.New("agentrt: turn failed")
	ErrTurnInterrupted            = errors.New("agentrt: turn interrupted")
	ErrEmptyAssistantText         = errors.New("agentrt: empty assistant text")
	ErrTurnWithoutAssistantText   = errors.New("agentrt: turn completed without assistant text")
)

// RemoteError carries a JSON-RPC error object returned by the subprocess.
type RemoteError struct {
	Code    int
	Message string
	Data    any
}

func (e *RemoteError) Error() string {
	return e.Message + " (remote code " + strconv.Itoa(e.Code) + ")"
}

// Timeout wraps ErrTimeout marked so errors.Is(err, ErrTimeout) succeeds,
// while preserving the deadline that was exceeded for diagnostics.
func Timeout(context string) error {
	return errors.Mark(errors.Newf("agentrt: timeout: %s", errors.Safe(context)), ErrTimeout)
}

// TransportClosed marks an error as a transport-closed condition while
// attaching the supplied detail (e.g. generation number, exit status).
func TransportClosed(detail string) error {
	err := errors.Mark(errors.New("agentrt: transport closed"), ErrTransportClosed)
	return errors.WithDetail(err, detail)
}

// InvalidConfig wraps a configuration validation failure.
func InvalidConfig(msg string, args ...any) error {
	return errors.Mark(errors.Newf("agentrt: invalid config: "+msg, args...), ErrInvalidConfig)
}

// NotInitialized marks a call made before the runtime finished connecting.
func NotInitialized() error {
	return errors.Mark(errors.New("agentrt: runtime not initialized"), ErrNotInitialized)
}

// InvalidRequest wraps a local or remote invalid-request condition.
func InvalidRequest(msg string, args ...any) error {
	return errors.Mark(errors.Newf("agentrt: invalid request: "+msg, args...), ErrInvalidRequest)
}

// AttachmentNotFound marks a prompt-run attachment path that does not exist.
func AttachmentNotFound(path string) error {
	err := errors.Mark(errors.Newf("agentrt: attachment not found: %s", errors.Safe(path)), ErrAttachmentNotFound)
	return errors.WithDetail(err, path)
}

// TurnFailed marks a turn/failed terminal state, attaching the source
// method and remote code/message when a terminal error signal was captured.
func TurnFailed(sourceMethod string, code int, message string) error {
	err := errors.Mark(errors.Newf("agentrt: turn failed: %s (source=%s, code=%d)", errors.Safe(message), errors.Safe(sourceMethod), code), ErrTurnFailed)
	return err
}

// BareTurnFailed marks a turn/failed terminal state with no captured
// error signal.
func BareTurnFailed() error {
	return errors.Mark(errors.New("agentrt: turn failed"), ErrTurnFailed)
}

// TurnInterrupted marks a turn/interrupted terminal state.
func TurnInterrupted() error {
	return errors.Mark(errors.New("agentrt: turn interrupted"), ErrTurnInterrupted)
}

// EmptyAssistantText marks a turn/completed terminal state with no
// captured context at all (no item ever started for this turn).
func EmptyAssistantText() error {
	return errors.Mark(errors.New("agentrt: empty assistant text"), ErrEmptyAssistantText)
}

// TurnWithoutAssistantText marks a turn/completed terminal state where
// context was captured but no assistant text was ever accumulated.
func TurnWithoutAssistantText() error {
	return errors.Mark(errors.New("agentrt: turn completed without assistant text"), ErrTurnWithoutAssistantText)
}

// PrivilegedEscalationDenied marks a SEC-004 gate rejection.
func PrivilegedEscalationDenied(reason string) error {
	return errors.Mark(errors.Newf("agentrt: privileged escalation denied: %s", errors.Safe(reason)), ErrInvalidRequest)
}
