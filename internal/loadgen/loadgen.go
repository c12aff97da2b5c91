// Package loadgen drives continuous transfer load against a node: workers
// paced to a target rate, cycles that aggregate their outcomes, and a
// supervisor that keeps cycling through connectivity failures.
package loadgen

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/internal/storage"
	"github.com/gateway-fm/workload/pkg/types"
)

// Timing defaults.
const (
	DefaultReceiptTimeout    = 30 * time.Second
	DefaultCooldown          = 5 * time.Second
	DefaultBackoff           = 10 * time.Second
	DefaultMaxBackoff        = 2 * time.Minute
	DefaultNoAccountsPause   = 10 * time.Second
	DefaultHeadBlockInterval = 5 * time.Second
)

// Cycle results reported to the sink.
const (
	ResultCompleted  = "completed"
	ResultIdle       = "idle"
	ResultNoAccounts = "no_accounts"
)

// ErrNoAccounts is returned when the node manages no account to send from.
var ErrNoAccounts = errors.New("no accounts available from eth_accounts")

// Submitter performs the three steps of one transfer attempt.
type Submitter interface {
	QuoteFee(ctx context.Context) (*big.Int, error)
	Submit(ctx context.Context, gasPrice *big.Int) (common.Hash, error)
	AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*rpc.TransactionReceipt, error)
}

// Sink receives everything the workload exports.
type Sink interface {
	ObserveLatency(d time.Duration)
	IncRPCErrors()
	PublishWindow(w types.WindowMetrics)
	SetHeadBlock(n uint64)
	SetLoadConfig(cfg types.LoadConfig)
	SetState(state types.SupervisorState)
	RecordCycle(result string)
	IncRestarts()
}

// ConfigProvider is queried once per supervisor iteration.
type ConfigProvider interface {
	LoadConfig() types.LoadConfig
}

// ConfigProviderFunc adapts a function to ConfigProvider.
type ConfigProviderFunc func() types.LoadConfig

// LoadConfig implements ConfigProvider.
func (f ConfigProviderFunc) LoadConfig() types.LoadConfig {
	return f()
}

// History persists completed cycles.
type History interface {
	SaveCycleRun(ctx context.Context, run *storage.CycleRun) error
	PruneCycleRuns(ctx context.Context, keep int) (int64, error)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
