// Package metrics wires the counters/gauges behind every
// fire-and-forget error path: callers record the failure here and
// continue instead of propagating it up a call stack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge the core emits. Construct one
// per process with NewRegistry and register it with a
// prometheus.Registerer (typically prometheus.DefaultRegisterer, or a
// dedicated one under test).
type Registry struct {
	EPacketErrors       *prometheus.CounterVec
	EPacketTXTotal      *prometheus.CounterVec
	EPacketRXTotal      *prometheus.CounterVec
	LoggerBlocksWritten *prometheus.CounterVec
	LoggerDegraded      *prometheus.GaugeVec
	WatchdogWarnings    *prometheus.CounterVec
	WatchdogFatal       *prometheus.CounterVec
	RunnerStarts        *prometheus.CounterVec
	RunnerTimeouts      *prometheus.CounterVec
}

// NewRegistry builds and registers every metric under reg. Passing a
// fresh prometheus.NewRegistry() (rather than the global default) is
// recommended in tests to avoid cross-test collisions.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		EPacketErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_epacket_errors_total",
			Help: "ePacket TX/RX failures by kind.",
		}, []string{"kind"}),
		EPacketTXTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_epacket_tx_total",
			Help: "ePacket frames successfully queued for transmission, by interface.",
		}, []string{"interface"}),
		EPacketRXTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_epacket_rx_total",
			Help: "ePacket frames delivered to the dispatcher, by interface and auth outcome.",
		}, []string{"interface", "auth"}),
		LoggerBlocksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_logger_blocks_committed_total",
			Help: "TDF logger blocks committed to a backend.",
		}, []string{"logger"}),
		LoggerDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "infuse_logger_degraded",
			Help: "1 if a logger instance has hit its persistent-failure plateau.",
		}, []string{"logger"}),
		WatchdogWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_watchdog_warnings_total",
			Help: "Soft watchdog warning events, by channel.",
		}, []string{"channel"}),
		WatchdogFatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_watchdog_fatal_total",
			Help: "Soft watchdog fatal expiries, by channel.",
		}, []string{"channel"}),
		RunnerStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_runner_task_starts_total",
			Help: "Task runner starts, by task_id.",
		}, []string{"task_id"}),
		RunnerTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infuse_runner_task_timeouts_total",
			Help: "Task runner terminate_signal raises due to timeout, by task_id.",
		}, []string{"task_id"}),
	}
	reg.MustRegister(
		m.EPacketErrors, m.EPacketTXTotal, m.EPacketRXTotal,
		m.LoggerBlocksWritten, m.LoggerDegraded,
		m.WatchdogWarnings, m.WatchdogFatal,
		m.RunnerStarts, m.RunnerTimeouts,
	)
	return m
}
