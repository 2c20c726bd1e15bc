// Package observability holds the prometheus collectors shared by the
// engine, the approval gateway and the checkpoint store.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campaignflow"

// Metrics holds all collectors for the campaignflow service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	phaseDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	activeRuns    prometheus.Gauge

	// Checkpoint metrics
	checkpointOpDuration *prometheus.HistogramVec
	transportSelections  *prometheus.CounterVec

	// Approval metrics
	approvalsRequested prometheus.Counter
	approvalDecisions  *prometheus.CounterVec

	// Server metrics
	rpcDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase executions",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"phase", "outcome"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Runs reaching a suspension or terminal status",
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Runs currently driven by the engine",
			},
		),
		checkpointOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "checkpoint_op_duration_seconds",
				Help:      "Latency of checkpoint store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport", "op", "result"},
		),
		transportSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_selections_total",
				Help:      "Checkpoint transport diagnoses by selected transport",
			},
			[]string{"transport", "degraded"},
		),
		approvalsRequested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_requested_total",
				Help:      "Approval requests opened",
			},
		),
		approvalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_decisions_total",
				Help:      "Approval decisions by status and decider kind",
			},
			[]string{"status", "decider"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "Server-side latency of checkpoint service calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport", "method", "code"},
		),
	}

	m.registry.MustRegister(
		m.phaseDuration,
		m.runsTotal,
		m.activeRuns,
		m.checkpointOpDuration,
		m.transportSelections,
		m.approvalsRequested,
		m.approvalDecisions,
		m.rpcDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePhase records one phase execution.
func (m *Metrics) ObservePhase(phase, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, outcome).Observe(d.Seconds())
}

// RunStarted and RunStopped bracket one engine drive of a run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunStopped records the status the run stopped at.
func (m *Metrics) RunStopped(status string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

// ObserveCheckpointOp records one checkpoint store call.
func (m *Metrics) ObserveCheckpointOp(transport, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.checkpointOpDuration.WithLabelValues(transport, op, result(err)).Observe(d.Seconds())
}

// TransportSelected records a fresh diagnosis.
func (m *Metrics) TransportSelected(transport string, degraded bool) {
	if m == nil {
		return
	}
	d := "false"
	if degraded {
		d = "true"
	}
	m.transportSelections.WithLabelValues(transport, d).Inc()
}

// ApprovalRequested counts an opened gate.
func (m *Metrics) ApprovalRequested() {
	if m == nil {
		return
	}
	m.approvalsRequested.Inc()
}

// ApprovalDecided counts a decision. Decider is "human" or "system".
func (m *Metrics) ApprovalDecided(status, decider string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(status, decider).Inc()
}

// ObserveRPC records one served checkpoint call.
func (m *Metrics) ObserveRPC(transport, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(transport, method, code).Observe(d.Seconds())
}

// ServeHTTP exposes the metrics in the prometheus text format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
