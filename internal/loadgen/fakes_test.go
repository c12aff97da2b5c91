package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/internal/storage"
	"github.com/gateway-fm/workload/pkg/types"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records everything published to it.
type fakeSink struct {
	mu         sync.Mutex
	latencies  []time.Duration
	rpcErrors  int
	windows    []types.WindowMetrics
	headBlocks []uint64
	configs    []types.LoadConfig
	states     []types.SupervisorState
	cycles     map[string]int
	restarts   int
}

var _ Sink = (*fakeSink)(nil)

func newFakeSink() *fakeSink {
	return &fakeSink{cycles: make(map[string]int)}
}

func (s *fakeSink) ObserveLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
}

func (s *fakeSink) IncRPCErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcErrors++
}

func (s *fakeSink) PublishWindow(w types.WindowMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
}

func (s *fakeSink) SetHeadBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headBlocks = append(s.headBlocks, n)
}

func (s *fakeSink) SetLoadConfig(cfg types.LoadConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
}

func (s *fakeSink) SetState(state types.SupervisorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *fakeSink) RecordCycle(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[result]++
}

func (s *fakeSink) IncRestarts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
}

func (s *fakeSink) snapshot() fakeSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycles := make(map[string]int, len(s.cycles))
	for k, v := range s.cycles {
		cycles[k] = v
	}
	return fakeSink{
		latencies:  append([]time.Duration(nil), s.latencies...),
		rpcErrors:  s.rpcErrors,
		windows:    append([]types.WindowMetrics(nil), s.windows...),
		headBlocks: append([]uint64(nil), s.headBlocks...),
		configs:    append([]types.LoadConfig(nil), s.configs...),
		states:     append([]types.SupervisorState(nil), s.states...),
		cycles:     cycles,
		restarts:   s.restarts,
	}
}

// mockSubmitter scripts the three attempt steps.
type mockSubmitter struct {
	quoteErr  error
	submitErr error
	awaitErr  error
	status    uint64
	gasUsed   uint64
	delay     time.Duration

	quotes  atomic.Int64
	submits atomic.Int64
	awaits  atomic.Int64
}

var _ Submitter = (*mockSubmitter)(nil)

func (m *mockSubmitter) QuoteFee(ctx context.Context) (*big.Int, error) {
	m.quotes.Add(1)
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (m *mockSubmitter) Submit(ctx context.Context, gasPrice *big.Int) (common.Hash, error) {
	m.submits.Add(1)
	if m.submitErr != nil {
		return common.Hash{}, m.submitErr
	}
	return common.HexToHash("0x01"), nil
}

func (m *mockSubmitter) AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*rpc.TransactionReceipt, error) {
	m.awaits.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.awaitErr != nil {
		return nil, m.awaitErr
	}
	return &rpc.TransactionReceipt{TxHash: txHash, Status: m.status, GasUsed: m.gasUsed, BlockNumber: 42}, nil
}

// fakeClient implements rpc.Client with scripted failures.
type fakeClient struct {
	chainIDErr  error
	blockErr    error
	balanceErr  error
	accounts    []common.Address
	accountsErr error

	mu     sync.Mutex
	block  uint64
	calls  map[string]int
	closed bool
}

var _ rpc.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		calls:    make(map[string]int),
		accounts: []common.Address{common.HexToAddress("0xaa")},
	}
}

func (c *fakeClient) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
}

func (c *fakeClient) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	c.record(method)
	return nil, nil
}

func (c *fakeClient) ChainID(ctx context.Context) (uint64, error) {
	c.record("eth_chainId")
	if c.chainIDErr != nil {
		return 0, c.chainIDErr
	}
	return 1337, nil
}

func (c *fakeClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	c.record("eth_blockNumber")
	if c.blockErr != nil {
		return 0, c.blockErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	return c.block, nil
}

func (c *fakeClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	c.record("eth_getBalance")
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return big.NewInt(1e18), nil
}

func (c *fakeClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	c.record("eth_gasPrice")
	return big.NewInt(1), nil
}

func (c *fakeClient) Accounts(ctx context.Context) ([]common.Address, error) {
	c.record("eth_accounts")
	if c.accountsErr != nil {
		return nil, c.accountsErr
	}
	return c.accounts, nil
}

func (c *fakeClient) SendTransaction(ctx context.Context, args rpc.TransactionArgs) (common.Hash, error) {
	c.record("eth_sendTransaction")
	return common.Hash{}, nil
}

func (c *fakeClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.TransactionReceipt, error) {
	c.record("eth_getTransactionReceipt")
	return nil, nil
}

// fakeHistory stores cycle runs in memory.
type fakeHistory struct {
	mu      sync.Mutex
	runs    []*storage.CycleRun
	saveErr error
	pruned  []int
}

var _ History = (*fakeHistory)(nil)

func (h *fakeHistory) SaveCycleRun(ctx context.Context, run *storage.CycleRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saveErr != nil {
		return h.saveErr
	}
	h.runs = append(h.runs, run)
	return nil
}

func (h *fakeHistory) PruneCycleRuns(ctx context.Context, keep int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruned = append(h.pruned, keep)
	return 0, nil
}

// sleepRecorder replaces real sleeps and cancels the run after a number of them.
type sleepRecorder struct {
	mu          sync.Mutex
	durations   []time.Duration
	cancelAfter int
	cancel      context.CancelFunc
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.durations = append(r.durations, d)
	n := len(r.durations)
	r.mu.Unlock()

	if n >= r.cancelAfter {
		r.cancel()
		return ctx.Err()
	}
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durations...)
}

// scriptedConfig returns configs in order, repeating the last one.
type scriptedConfig struct {
	mu      sync.Mutex
	configs []types.LoadConfig
	reads   int
}

func (s *scriptedConfig) LoadConfig() types.LoadConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.reads, len(s.configs)-1)
	s.reads++
	return s.configs[i]
}
