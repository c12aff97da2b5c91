// Package types contains public API types for the workload generator.
// These types form the external interface (status API, history, MCP tools)
// and must remain backwards-compatible.
package types

import "time"

// LoadConfig describes one load cycle. It is read fresh at the start of every
// supervisor iteration and is immutable for the lifetime of a cycle.
type LoadConfig struct {
	TargetTPS     int           `json:"targetTps"`
	Concurrency   int           `json:"concurrency"`
	CycleDuration time.Duration `json:"cycleDurationNs"`
}

// Enabled reports whether the config qualifies for load generation.
// Anything else is the idle policy.
func (c LoadConfig) Enabled() bool {
	return c.TargetTPS > 0 && c.Concurrency > 0
}

// TxOutcome is the result of a single transaction attempt.
type TxOutcome struct {
	Success bool
	// Completed is true when a receipt was obtained, whatever its status.
	// Only completed attempts contribute a latency sample.
	Completed bool
	Latency   time.Duration
	GasUsed   uint64
}

// WindowAggregate is the raw accumulation of one cycle's attempts.
type WindowAggregate struct {
	Sent         uint64
	Failed       uint64
	GasUsedTotal uint64
	Latencies    []time.Duration // completion order

	// Quantiles over Latencies, zero when there are no samples.
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Total returns the number of recorded attempts.
func (a WindowAggregate) Total() uint64 {
	return a.Sent + a.Failed
}

// WindowMetrics are derived once per cycle from a WindowAggregate and the
// cycle's elapsed wall time.
type WindowMetrics struct {
	TPS         float64       `json:"tps"`
	RPS         float64       `json:"rps"`
	MGasPerSec  float64       `json:"mgasPerSec"`
	FailureRate float64       `json:"failureRate"` // 0-1
	AvgLatency  time.Duration `json:"avgLatencyNs"`

	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	GasUsed uint64        `json:"gasUsed"`
	Samples int           `json:"samples"`
	P50     time.Duration `json:"p50LatencyNs"`
	P95     time.Duration `json:"p95LatencyNs"`
	P99     time.Duration `json:"p99LatencyNs"`
	Elapsed time.Duration `json:"elapsedNs"`
}

// SupervisorState is the current phase of the supervisor loop.
type SupervisorState string

const (
	StateConnecting SupervisorState = "connecting"
	StateIdle       SupervisorState = "idle"
	StateRunning    SupervisorState = "running"
	StateCooldown   SupervisorState = "cooldown"
	StateBackoff    SupervisorState = "backoff"
)

// AllStates lists every supervisor state, used to reset state gauges.
var AllStates = []SupervisorState{StateConnecting, StateIdle, StateRunning, StateCooldown, StateBackoff}

// Status is a point-in-time view of the supervisor, served by the status API.
type Status struct {
	State           SupervisorState `json:"state"`
	GethURL         string          `json:"gethUrl"`
	ChainID         uint64          `json:"chainId"`
	HeadBlock       uint64          `json:"headBlock"`
	SenderAddress   string          `json:"senderAddress,omitempty"`
	Config          LoadConfig      `json:"config"`
	CyclesCompleted uint64          `json:"cyclesCompleted"`
	Restarts        uint64          `json:"restarts"`
	LastError       string          `json:"lastError,omitempty"`
	LastCycleAt     *time.Time      `json:"lastCycleAt,omitempty"`
	LastWindow      *WindowMetrics  `json:"lastWindow,omitempty"`
	UptimeSeconds   float64         `json:"uptimeSeconds"`
}
