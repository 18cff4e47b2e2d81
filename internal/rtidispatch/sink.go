package rtidispatch

import (
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtimetrics"
	"github.com/dkoosis/agentrt/internal/rtiwire"
)

// sink asynchronously forwards each envelope to an optional external
// observer through a bounded queue. A full or closed sink never stalls
// the dispatcher's main path: sends are non-blocking try-sends, and a
// drop increments a metric and logs a warning.
type sink struct {
	ch      chan *rtiwire.Envelope
	metrics *rtimetrics.Metrics
	log     rtilog.Logger
}

func newSink(capacity int, metrics *rtimetrics.Metrics) *sink {
	if capacity <= 0 {
		return nil
	}
	return &sink{ch: make(chan *rtiwire.Envelope, capacity), metrics: metrics, log: rtilog.GetLogger("sink")}
}

// forward attempts a non-blocking send; on failure it drops the envelope.
func (s *sink) forward(env *rtiwire.Envelope) {
	if s == nil {
		return
	}
	select {
	case s.ch <- env:
	default:
		if s.metrics != nil {
			s.metrics.SinkDroppedTotal.Inc()
		}
		s.log.Warn("dropped envelope: sink queue full", "method", env.Method, "seq", env.Seq)
	}
}

// Recv exposes the sink's receive side to the external observer.
func (s *sink) Recv() <-chan *rtiwire.Envelope {
	if s == nil {
		return nil
	}
	return s.ch
}
