// Package metrics provides window aggregation, metric derivation and the
// Prometheus sink.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/gateway-fm/workload/pkg/types"
)

// Latency histogram range in microseconds: 1us to 10min, 3 significant figures.
const (
	histLowestUs  = 1
	histHighestUs = int64(10 * time.Minute / time.Microsecond)
	histSigFigs   = 3
)

// Aggregator accumulates the outcomes of one cycle. A single mutex covers the
// counters and the latency collection so readers never observe a partial
// update.
type Aggregator struct {
	mu sync.Mutex

	sent      uint64
	failed    uint64
	gasUsed   uint64
	latencies []time.Duration
	hist      *hdrhistogram.Histogram
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		hist: hdrhistogram.New(histLowestUs, histHighestUs, histSigFigs),
	}
}

// Record adds one attempt outcome.
func (a *Aggregator) Record(o types.TxOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if o.Success {
		a.sent++
	} else {
		a.failed++
	}
	a.gasUsed += o.GasUsed

	if o.Completed {
		a.latencies = append(a.latencies, o.Latency)
		us := o.Latency.Microseconds()
		if us < histLowestUs {
			us = histLowestUs
		}
		// Values beyond the trackable range are still counted in latencies.
		_ = a.hist.RecordValue(min(us, histHighestUs))
	}
}

// Snapshot returns a copy of the accumulated window. It locks even though the
// cycle controller only calls it after every worker has joined.
func (a *Aggregator) Snapshot() types.WindowAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	latencies := make([]time.Duration, len(a.latencies))
	copy(latencies, a.latencies)

	snap := types.WindowAggregate{
		Sent:         a.sent,
		Failed:       a.failed,
		GasUsedTotal: a.gasUsed,
		Latencies:    latencies,
	}
	if a.hist.TotalCount() > 0 {
		snap.P50 = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P95 = time.Duration(a.hist.ValueAtQuantile(95)) * time.Microsecond
		snap.P99 = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
		snap.Max = time.Duration(a.hist.Max()) * time.Microsecond
	}
	return snap
}

// Reset clears the window.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sent = 0
	a.failed = 0
	a.gasUsed = 0
	a.latencies = nil
	a.hist.Reset()
}
