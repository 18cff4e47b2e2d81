// Package rtimetrics exposes the runtime's counters and gauges through a
// caller-supplied Prometheus registerer, generalizing the instrumentation
// patterns found elsewhere in the retrieval pack to this runtime's
// dispatcher/supervisor/sink concerns.
package rtimetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge the kernel updates.
type Metrics struct {
	IngressTotal      prometheus.Counter
	MalformedTotal     prometheus.Counter
	SinkDroppedTotal   prometheus.Counter
	BroadcastNoRecvTotal prometheus.Counter
	RestartsTotal      prometheus.Counter
	PendingRPCGauge    prometheus.Gauge
	PendingServerReqGauge prometheus.Gauge
}

// New registers and returns a fresh Metrics bundle. reg may be nil, in
// which case a private registry is used so callers who don't care about
// exporting metrics still get working counters.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := prometheus.WrapRegistererWithPrefix("agentrt_", reg)

	m := &Metrics{
		IngressTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingress_total", Help: "Total inbound messages processed by the dispatcher.",
		}),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malformed_lines_total", Help: "Total inbound lines that failed to parse as JSON.",
		}),
		SinkDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_dropped_total", Help: "Total envelopes dropped because the sink queue was full or closed.",
		}),
		BroadcastNoRecvTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_no_receiver_total", Help: "Total envelopes published while no subscriber existed.",
		}),
		RestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restarts_total", Help: "Total supervised subprocess restarts.",
		}),
		PendingRPCGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_rpc_count", Help: "Current number of in-flight outbound RPCs.",
		}),
		PendingServerReqGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_server_request_count", Help: "Current number of unanswered server requests.",
		}),
	}

	factory.MustRegister(
		m.IngressTotal, m.MalformedTotal, m.SinkDroppedTotal,
		m.BroadcastNoRecvTotal, m.RestartsTotal, m.PendingRPCGauge, m.PendingServerReqGauge,
	)
	return m
}
