// Package rtiotransport spawns the agent subprocess and exchanges
// newline-delimited JSON frames with it over stdin/stdout, mirroring the
// teacher's goroutine-per-direction stdio transport but using a custom
// NDJSON framing instead of a Content-Length-delimited RPC library.
package rtiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dkoosis/agentrt/internal/rtilog"
)

// ProcessSpec names the subprocess to launch.
type ProcessSpec struct {
	Program string
	Args    []string
	Dir     string
}

// Config bounds the transport's channel capacities. Both must be > 0.
type Config struct {
	OutboundCapacity int
	InboundCapacity  int
}

// DefaultConfig mirrors the reference transport's default channel sizes.
func DefaultConfig() Config {
	return Config{OutboundCapacity: 1024, InboundCapacity: 1024}
}

// JoinResult is returned once the transport has fully wound down.
type JoinResult struct {
	ExitErr            error
	MalformedLineCount uint64
}

// Transport owns one subprocess incarnation: its pipes and the reader/
// writer goroutines that move NDJSON frames across them.
type Transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	outbound chan json.RawMessage
	inbound  chan json.RawMessage

	malformed atomic.Uint64

	readerDone chan struct{}
	writerDone chan struct{}
	exitErr    error

	log rtilog.Logger
}

// Spawn starts the subprocess and the reader/writer goroutines.
func Spawn(ctx context.Context, spec ProcessSpec, cfg Config) (*Transport, error) {
	if cfg.OutboundCapacity <= 0 || cfg.InboundCapacity <= 0 {
		return nil, errors.New("agentrt/transport: channel capacities must be > 0")
	}

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	cmd.Dir = spec.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	t := &Transport{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		outbound:   make(chan json.RawMessage, cfg.OutboundCapacity),
		inbound:    make(chan json.RawMessage, cfg.InboundCapacity),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		log:        rtilog.GetLogger("transport"),
	}

	go t.readerLoop()
	go t.writerLoop()

	return t, nil
}

// Outbound returns the send side of the outbound queue.
func (t *Transport) Outbound() chan<- json.RawMessage { return t.outbound }

// Inbound returns the receive side of the inbound queue.
func (t *Transport) Inbound() <-chan json.RawMessage { return t.inbound }

// MalformedLineCount reports how many inbound lines failed to parse.
func (t *Transport) MalformedLineCount() uint64 { return t.malformed.Load() }

// TryWaitExit reports whether the subprocess has exited yet, without
// blocking. Go has no non-blocking Wait, so this is emulated by checking
// whether the reader has observed EOF.
func (t *Transport) TryWaitExit() (exited bool, err error) {
	select {
	case <-t.readerDone:
		return true, t.exitErr
	default:
		return false, nil
	}
}

// Done returns a channel closed once the reader goroutine has observed
// EOF or error on the subprocess's stdout, i.e. once the subprocess side
// of this generation is finished. Supervisors block on this to detect an
// unexpected exit.
func (t *Transport) Done() <-chan struct{} { return t.readerDone }

func (t *Transport) readerLoop() {
	defer close(t.readerDone)
	defer close(t.inbound)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			t.malformed.Add(1)
			t.log.Warn("malformed inbound line", "error", err)
			continue
		}
		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		t.inbound <- cp
	}
	if err := scanner.Err(); err != nil {
		t.exitErr = err
	}
}

func (t *Transport) writerLoop() {
	defer close(t.writerDone)

	for frame := range t.outbound {
		buf := append(append([]byte(nil), frame...), '\n')
		if _, err := t.stdin.Write(buf); err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			t.log.Warn("write to subprocess stdin failed", "error", err)
			return
		}
	}
}

// TerminateAndJoin closes the outbound queue, waits up to flushTimeout
// for the writer to drain, then requests subprocess termination (SIGTERM,
// escalating to Kill after terminateGrace), and finally awaits the reader.
func (t *Transport) TerminateAndJoin(flushTimeout, terminateGrace time.Duration) JoinResult {
	close(t.outbound)

	select {
	case <-t.writerDone:
	case <-time.After(flushTimeout):
	}

	_ = t.cmd.Process.Signal(syscall.SIGTERM)
	term := make(chan error, 1)
	go func() { term <- t.cmd.Wait() }()

	select {
	case err := <-term:
		if t.exitErr == nil {
			t.exitErr = err
		}
	case <-time.After(terminateGrace):
		_ = t.cmd.Process.Kill()
		<-term
	}

	<-t.readerDone

	return JoinResult{ExitErr: t.exitErr, MalformedLineCount: t.malformed.Load()}
}
