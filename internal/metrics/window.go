package metrics

import (
	"time"

	"github.com/gateway-fm/workload/pkg/types"
)

// RPCCallsPerAttempt models the fixed request sequence of one attempt:
// fee quote, submit, receipt poll.
const RPCCallsPerAttempt = 3

// Derive computes the window metrics of a cycle from its final aggregate and
// elapsed wall time. Rates are 0 when elapsed is not positive.
func Derive(agg types.WindowAggregate, elapsed time.Duration) types.WindowMetrics {
	total := agg.Total()

	m := types.WindowMetrics{
		Sent:    agg.Sent,
		Failed:  agg.Failed,
		GasUsed: agg.GasUsedTotal,
		Samples: len(agg.Latencies),
		P50:     agg.P50,
		P95:     agg.P95,
		P99:     agg.P99,
		Elapsed: elapsed,
	}

	if secs := elapsed.Seconds(); secs > 0 {
		m.TPS = float64(total) / secs
		m.RPS = float64(total*RPCCallsPerAttempt) / secs
		m.MGasPerSec = float64(agg.GasUsedTotal) / 1e6 / secs
	}

	if total > 0 {
		m.FailureRate = float64(agg.Failed) / float64(total)
	}

	m.AvgLatency = meanLatency(agg.Latencies)

	return m
}

// meanLatency returns the arithmetic mean, 0 for no samples.
func meanLatency(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return time.Duration(sum / float64(len(samples)))
}
