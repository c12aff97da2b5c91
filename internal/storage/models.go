// Package storage provides persistence for load cycle history.
package storage

import (
	"time"

	"github.com/gateway-fm/workload/pkg/types"
)

// CycleRun is one completed load cycle with its window metrics.
// JSON tags use camelCase to match the status API.
type CycleRun struct {
	ID            string               `json:"id"`
	StartedAt     time.Time            `json:"startedAt"`
	CompletedAt   time.Time            `json:"completedAt"`
	TargetTPS     int                  `json:"targetTps"`
	Concurrency   int                  `json:"concurrency"`
	DurationMs    int64                `json:"durationMs"` // Configured cycle duration
	ElapsedMs     int64                `json:"elapsedMs"`  // Wall time including in-flight overrun
	Clamped       bool                 `json:"clamped"`    // Per-worker rate was raised to the minimum
	SenderAddress string               `json:"senderAddress,omitempty"`
	ChainID       uint64               `json:"chainId"`
	TxSent        uint64               `json:"txSent"`
	TxFailed      uint64               `json:"txFailed"`
	GasUsed       uint64               `json:"gasUsed"`
	TPS           float64              `json:"tps"`
	MGasPerSec    float64              `json:"mgasPerSec"`
	FailureRate   float64              `json:"failureRate"`
	AvgLatencyMs  float64              `json:"avgLatencyMs"`
	Window        *types.WindowMetrics `json:"window,omitempty"`
}

// PaginatedCycleRuns represents a paginated list of cycle runs.
type PaginatedCycleRuns struct {
	Runs   []CycleRun `json:"runs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}
