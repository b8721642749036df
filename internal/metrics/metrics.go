// Package metrics collects Prometheus series for the running host: instance
// residency, RPC/chat/scheduler throughput, and MCP connection state. The
// teacher's go.mod already declares prometheus/client_golang as a direct
// dependency but never wires it to anything (grep finds no import of it
// anywhere in the teacher tree) — this package is the first real usage of
// that declared dependency, built the conventional promhttp/client_golang
// way rather than copied from a teacher file that does not exist.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the host updates as it runs. New
// constructs and registers them against a private registry so test code
// can instantiate more than one Metrics without collector-already-registered
// panics.
type Metrics struct {
	InstancesActive prometheus.GaugeFunc

	RequestsTotal  *prometheus.CounterVec
	RPCCallsTotal  *prometheus.CounterVec
	RPCDuration    *prometheus.HistogramVec
	ChatMessages   *prometheus.CounterVec
	SchedulerFires *prometheus.CounterVec
	MCPConnections *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New constructs and registers the host's metrics against a fresh registry.
// activeFunc reports the registry.Active() instance count on every scrape.
func New(activeFunc func() float64) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		InstancesActive: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "agenthost_instances_active",
			Help: "Number of agent instances currently resident in memory.",
		}, activeFunc),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthost_requests_total",
			Help: "Total HTTP requests routed to agent instances, by route.",
		}, []string{"route"}),
		RPCCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthost_rpc_calls_total",
			Help: "Total RPC calls dispatched, by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agenthost_rpc_duration_seconds",
			Help:    "RPC call latency, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		ChatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthost_chat_messages_persisted_total",
			Help: "Total chat messages persisted, by role.",
		}, []string{"role"}),
		SchedulerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthost_scheduler_fires_total",
			Help: "Total scheduled callback invocations, by callback and outcome.",
		}, []string{"callback", "outcome"}),
		MCPConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agenthost_mcp_connections",
			Help: "Outbound MCP server connections in each state.",
		}, []string{"state"}),
		registry: reg,
	}

	reg.MustRegister(
		m.InstancesActive,
		m.RequestsTotal,
		m.RPCCallsTotal,
		m.RPCDuration,
		m.ChatMessages,
		m.SchedulerFires,
		m.MCPConnections,
	)
	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
