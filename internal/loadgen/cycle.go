package loadgen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/workload/internal/metrics"
	"github.com/gateway-fm/workload/internal/ratelimit"
	"github.com/gateway-fm/workload/internal/storage"
	"github.com/gateway-fm/workload/pkg/types"
)

// RunMeta labels a cycle in history.
type RunMeta struct {
	ChainID uint64
	Sender  common.Address
}

// CycleResult is what one completed cycle produced.
type CycleResult struct {
	ID        string
	Plan      ratelimit.Plan
	StartedAt time.Time
	Elapsed   time.Duration
	Attempts  int
	Aggregate types.WindowAggregate
	Metrics   types.WindowMetrics
}

// Cycle runs one bounded load window: N workers, one shared aggregator,
// metrics derived and published after every worker has joined.
type Cycle struct {
	sink             Sink
	history          History
	historyRetention int
	receiptTimeout   time.Duration
	logger           *slog.Logger
}

// CycleConfig for creating a Cycle.
type CycleConfig struct {
	Sink             Sink
	History          History // optional
	HistoryRetention int     // runs kept after each save, 0 keeps all
	ReceiptTimeout   time.Duration
	Logger           *slog.Logger
}

// NewCycle creates a cycle controller.
func NewCycle(cfg CycleConfig) *Cycle {
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = DefaultReceiptTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cycle{
		sink:             cfg.Sink,
		history:          cfg.History,
		historyRetention: cfg.HistoryRetention,
		receiptTimeout:   receiptTimeout,
		logger:           logger,
	}
}

// Run executes one cycle. A config that does not qualify for load is the
// idle policy: nothing runs, nothing is published, and Run returns nil.
func (c *Cycle) Run(ctx context.Context, cfg types.LoadConfig, submitter Submitter, meta RunMeta) *CycleResult {
	plan, ok := ratelimit.Resolve(cfg.TargetTPS, cfg.Concurrency)
	if !ok {
		c.logger.Info("target TPS and concurrency must be > 0, skipping load generation",
			slog.Int("targetTps", cfg.TargetTPS),
			slog.Int("concurrency", cfg.Concurrency),
		)
		return nil
	}
	if plan.Clamped {
		c.logger.Info("target TPS too low for concurrency, using minimum per-worker rate",
			slog.Int("targetTps", cfg.TargetTPS),
			slog.Int("concurrency", cfg.Concurrency),
			slog.Float64("perWorkerTps", plan.PerWorkerRate),
		)
	}

	c.logger.Info("starting load",
		slog.Int("targetTps", plan.TargetTPS),
		slog.Int("concurrency", plan.Concurrency),
		slog.Float64("perWorkerTps", plan.PerWorkerRate),
		slog.Duration("interval", plan.Interval),
		slog.Duration("duration", cfg.CycleDuration),
	)

	agg := metrics.NewAggregator()
	start := time.Now()
	deadline := start.Add(cfg.CycleDuration)

	var wg sync.WaitGroup
	attempts := make([]int, plan.Concurrency)
	for i := 0; i < plan.Concurrency; i++ {
		w := &worker{
			id:             i,
			submitter:      submitter,
			agg:            agg,
			sink:           c.sink,
			pacer:          ratelimit.NewPacer(plan.Interval),
			deadline:       deadline,
			receiptTimeout: c.receiptTimeout,
			logger:         c.logger,
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			attempts[i] = w.run(ctx)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	snapshot := agg.Snapshot()
	window := metrics.Derive(snapshot, elapsed)
	c.sink.PublishWindow(window)

	total := 0
	for _, n := range attempts {
		total += n
	}

	c.logger.Info("load generation finished",
		slog.Uint64("sent", window.Sent),
		slog.Uint64("failed", window.Failed),
		slog.Duration("duration", elapsed),
	)
	c.logger.Info("cycle metrics",
		slog.Float64("tps", window.TPS),
		slog.Float64("rpcRps", window.RPS),
		slog.Float64("mgasPerSec", window.MGasPerSec),
		slog.Float64("failureRatePct", window.FailureRate*100),
		slog.Duration("avgLatency", window.AvgLatency),
		slog.Duration("p99Latency", window.P99),
	)

	result := &CycleResult{
		ID:        uuid.New().String(),
		Plan:      plan,
		StartedAt: start,
		Elapsed:   elapsed,
		Attempts:  total,
		Aggregate: snapshot,
		Metrics:   window,
	}

	c.persist(ctx, cfg, result, meta)
	agg.Reset()

	return result
}

// persist stores the cycle. Failures only warn.
func (c *Cycle) persist(ctx context.Context, cfg types.LoadConfig, r *CycleResult, meta RunMeta) {
	if c.history == nil {
		return
	}

	// Write even when ctx was cancelled mid-cycle so the partial window is kept
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	window := r.Metrics
	run := &storage.CycleRun{
		ID:           r.ID,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.StartedAt.Add(r.Elapsed),
		TargetTPS:    cfg.TargetTPS,
		Concurrency:  cfg.Concurrency,
		DurationMs:   cfg.CycleDuration.Milliseconds(),
		ElapsedMs:    r.Elapsed.Milliseconds(),
		Clamped:      r.Plan.Clamped,
		ChainID:      meta.ChainID,
		TxSent:       window.Sent,
		TxFailed:     window.Failed,
		GasUsed:      window.GasUsed,
		TPS:          window.TPS,
		MGasPerSec:   window.MGasPerSec,
		FailureRate:  window.FailureRate,
		AvgLatencyMs: float64(window.AvgLatency) / float64(time.Millisecond),
		Window:       &window,
	}
	if meta.Sender != (common.Address{}) {
		run.SenderAddress = meta.Sender.Hex()
	}

	if err := c.history.SaveCycleRun(saveCtx, run); err != nil {
		c.logger.Warn("failed to persist cycle run", slog.String("id", r.ID), slog.String("error", err.Error()))
		return
	}

	if c.historyRetention > 0 {
		if pruned, err := c.history.PruneCycleRuns(saveCtx, c.historyRetention); err != nil {
			c.logger.Warn("failed to prune cycle history", slog.String("error", err.Error()))
		} else if pruned > 0 {
			c.logger.Debug("pruned cycle history", slog.Int64("deleted", pruned))
		}
	}
}
