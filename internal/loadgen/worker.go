package loadgen

import (
	"context"
	"log/slog"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/workload/internal/metrics"
	"github.com/gateway-fm/workload/internal/ratelimit"
	"github.com/gateway-fm/workload/pkg/types"
)

// worker issues paced attempts until the cycle deadline passes.
type worker struct {
	id             int
	submitter      Submitter
	agg            *metrics.Aggregator
	sink           Sink
	pacer          *ratelimit.Pacer
	deadline       time.Time
	receiptTimeout time.Duration
	logger         *slog.Logger
}

// run returns the number of attempts made. The deadline is only checked
// between attempts, so an attempt in flight may finish after it.
func (w *worker) run(ctx context.Context) int {
	attempts := 0
	for {
		if ctx.Err() != nil || !time.Now().Before(w.deadline) {
			return attempts
		}

		start := time.Now()
		w.agg.Record(w.attempt(ctx, start))
		attempts++

		if err := w.pacer.Wait(ctx, start); err != nil {
			return attempts
		}
	}
}

func (w *worker) attempt(ctx context.Context, start time.Time) types.TxOutcome {
	gasPrice, err := w.submitter.QuoteFee(ctx)
	if err != nil {
		return w.failed(err)
	}

	txHash, err := w.submitter.Submit(ctx, gasPrice)
	if err != nil {
		return w.failed(err)
	}

	receipt, err := w.submitter.AwaitReceipt(ctx, txHash, w.receiptTimeout)
	if err != nil {
		return w.failed(err)
	}

	latency := time.Since(start)
	w.sink.ObserveLatency(latency)

	success := receipt.Status == ethtypes.ReceiptStatusSuccessful
	if success {
		w.logger.Debug("transaction included",
			slog.Int("worker", w.id),
			slog.String("tx", txHash.Hex()),
			slog.Uint64("block", receipt.BlockNumber),
		)
	} else {
		w.logger.Warn("transaction reverted",
			slog.Int("worker", w.id),
			slog.String("tx", txHash.Hex()),
			slog.Uint64("block", receipt.BlockNumber),
		)
	}

	return types.TxOutcome{
		Success:   success,
		Completed: true,
		Latency:   latency,
		GasUsed:   receipt.GasUsed,
	}
}

func (w *worker) failed(err error) types.TxOutcome {
	w.sink.IncRPCErrors()
	w.logger.Warn("transaction failed",
		slog.Int("worker", w.id),
		slog.String("error", err.Error()),
	)
	return types.TxOutcome{}
}
