package loadgen

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/workload/internal/rpc"
)

// headBlockRefresher keeps the head block gauge current so rate() over it works.
type headBlockRefresher struct {
	client   rpc.Client
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
	onBlock  func(uint64)
}

// run polls eth_blockNumber every interval until ctx is done. Errors only warn.
func (h *headBlockRefresher) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.client.GetBlockNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Warn("failed to refresh head block metric", slog.String("error", err.Error()))
				continue
			}
			h.sink.SetHeadBlock(n)
			if h.onBlock != nil {
				h.onBlock(n)
			}
		}
	}
}
