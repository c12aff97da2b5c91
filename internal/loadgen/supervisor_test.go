package loadgen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/pkg/types"
)

var (
	enabledConfig = types.LoadConfig{TargetTPS: 1, Concurrency: 1}
	idleConfig    = types.LoadConfig{}
)

// dialStep is one scripted Dial result; the last step repeats.
type dialStep struct {
	client *fakeClient
	err    error
}

type supervisorHarness struct {
	sup     *Supervisor
	sink    *fakeSink
	sleeper *sleepRecorder

	mu          sync.Mutex
	dials       int
	concurrency []int
}

func newSupervisorHarness(t *testing.T, steps []dialStep, provider ConfigProvider, cancelAfter int, mutate func(*SupervisorConfig)) (*supervisorHarness, context.Context) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &supervisorHarness{
		sink:    newFakeSink(),
		sleeper: &sleepRecorder{cancelAfter: cancelAfter, cancel: cancel},
	}

	cfg := SupervisorConfig{
		GethURL: "http://geth:8545",
		Dial: func(ctx context.Context) (rpc.Client, error) {
			h.mu.Lock()
			i := min(h.dials, len(steps)-1)
			h.dials++
			h.mu.Unlock()
			if steps[i].err != nil {
				return nil, steps[i].err
			}
			return steps[i].client, nil
		},
		NewSubmitter: func(client rpc.Client, from common.Address, concurrency int) Submitter {
			h.mu.Lock()
			h.concurrency = append(h.concurrency, concurrency)
			h.mu.Unlock()
			return &mockSubmitter{status: 1, gasUsed: 21000}
		},
		Config:            provider,
		Cycle:             NewCycle(CycleConfig{Sink: h.sink, Logger: discardLogger()}),
		Sink:              h.sink,
		Logger:            discardLogger(),
		HeadBlockInterval: time.Hour,
		Sleep:             h.sleeper.sleep,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.sup = NewSupervisor(cfg)

	return h, ctx
}

func staticConfig(cfg types.LoadConfig) ConfigProvider {
	return ConfigProviderFunc(func() types.LoadConfig { return cfg })
}

func assertDurations(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Sink: newFakeSink()})

	if s.cfg.Cooldown != DefaultCooldown {
		t.Errorf("Cooldown = %v, want %v", s.cfg.Cooldown, DefaultCooldown)
	}
	if s.cfg.Backoff != DefaultBackoff {
		t.Errorf("Backoff = %v, want %v", s.cfg.Backoff, DefaultBackoff)
	}
	if s.cfg.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("MaxBackoff = %v, want %v", s.cfg.MaxBackoff, DefaultMaxBackoff)
	}
	if s.cfg.NoAccountsPause != DefaultNoAccountsPause {
		t.Errorf("NoAccountsPause = %v, want %v", s.cfg.NoAccountsPause, DefaultNoAccountsPause)
	}
	if s.Status().State != types.StateConnecting {
		t.Errorf("initial state = %s, want connecting", s.Status().State)
	}
}

func TestSupervisor_Preflight(t *testing.T) {
	unreachable := newFakeClient()
	unreachable.chainIDErr = errBoom

	tests := []struct {
		name    string
		step    dialStep
		wantErr bool
	}{
		{"reachable", dialStep{client: newFakeClient()}, false},
		{"dial fails", dialStep{err: errBoom}, true},
		{"chain id fails", dialStep{client: unreachable}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ctx := newSupervisorHarness(t, []dialStep{tt.step}, staticConfig(idleConfig), 1, nil)

			err := h.sup.Preflight(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Preflight() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errBoom) {
				t.Errorf("error should wrap cause, got %v", err)
			}
			if tt.step.client != nil && !tt.step.client.isClosed() {
				t.Error("preflight client should be closed")
			}
		})
	}
}

func TestSupervisor_IdleConfigSkipsLoad(t *testing.T) {
	client := newFakeClient()
	h, ctx := newSupervisorHarness(t, []dialStep{{client: client}}, staticConfig(idleConfig), 1, nil)

	err := h.sup.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	assertDurations(t, h.sleeper.recorded(), []time.Duration{DefaultCooldown})

	if n := client.count("eth_accounts"); n != 0 {
		t.Errorf("eth_accounts called %d times on idle config", n)
	}
	snap := h.sink.snapshot()
	if snap.cycles[ResultIdle] != 1 {
		t.Errorf("idle cycles = %d, want 1", snap.cycles[ResultIdle])
	}
	if len(snap.windows) != 0 {
		t.Error("idle cycle must not publish a window")
	}
	if len(h.concurrency) != 0 {
		t.Error("no submitter should be built")
	}
}

func TestSupervisor_CompletesCycle(t *testing.T) {
	client := newFakeClient()
	cfg := types.LoadConfig{TargetTPS: 20, Concurrency: 3, CycleDuration: 20 * time.Millisecond}
	h, ctx := newSupervisorHarness(t, []dialStep{{client: client}}, staticConfig(cfg), 1, nil)

	_ = h.sup.Run(ctx)

	snap := h.sink.snapshot()
	if snap.cycles[ResultCompleted] != 1 {
		t.Errorf("completed cycles = %d, want 1", snap.cycles[ResultCompleted])
	}
	if len(snap.windows) != 1 {
		t.Errorf("published %d windows, want 1", len(snap.windows))
	}
	if len(h.concurrency) != 1 || h.concurrency[0] != 3 {
		t.Errorf("submitter concurrency = %v, want [3]", h.concurrency)
	}

	st := h.sup.Status()
	if st.ChainID != 1337 {
		t.Errorf("ChainID = %d, want 1337", st.ChainID)
	}
	if st.SenderAddress != common.HexToAddress("0xaa").Hex() {
		t.Errorf("SenderAddress = %s", st.SenderAddress)
	}
	if st.CyclesCompleted != 1 {
		t.Errorf("CyclesCompleted = %d, want 1", st.CyclesCompleted)
	}
	if st.LastWindow == nil || st.LastCycleAt == nil {
		t.Error("last window should be recorded")
	}
	if st.State != types.StateCooldown {
		t.Errorf("State = %s, want cooldown", st.State)
	}
	if st.Config != cfg {
		t.Errorf("Config = %+v, want %+v", st.Config, cfg)
	}
	if st.HeadBlock == 0 || len(snap.headBlocks) == 0 {
		t.Error("head block should be published at session start")
	}
	if !client.isClosed() {
		t.Error("client should be closed when the session ends")
	}
}

func TestSupervisor_RestartRerunsStartup(t *testing.T) {
	broken := newFakeClient()
	broken.accountsErr = errBoom
	healthy := newFakeClient()

	h, ctx := newSupervisorHarness(t, []dialStep{{client: broken}, {client: healthy}}, staticConfig(enabledConfig), 2, nil)

	err := h.sup.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	assertDurations(t, h.sleeper.recorded(), []time.Duration{DefaultBackoff, DefaultCooldown})

	for name, c := range map[string]*fakeClient{"broken": broken, "healthy": healthy} {
		if n := c.count("eth_chainId"); n != 1 {
			t.Errorf("%s: eth_chainId called %d times, want 1", name, n)
		}
		if n := c.count("eth_getBalance"); n != 1 {
			t.Errorf("%s: eth_getBalance called %d times, want 1", name, n)
		}
	}
	if !broken.isClosed() {
		t.Error("failed session client should be closed")
	}

	st := h.sup.Status()
	if st.Restarts != 1 {
		t.Errorf("Restarts = %d, want 1", st.Restarts)
	}
	if !strings.Contains(st.LastError, "get accounts") {
		t.Errorf("LastError = %q", st.LastError)
	}
	snap := h.sink.snapshot()
	if snap.restarts != 1 {
		t.Errorf("sink restarts = %d, want 1", snap.restarts)
	}
	if snap.cycles[ResultCompleted] != 1 {
		t.Errorf("completed cycles = %d, want 1", snap.cycles[ResultCompleted])
	}
}

func TestSupervisor_BackoffDoublesAndCaps(t *testing.T) {
	steps := []dialStep{
		{err: errBoom},
		{err: errBoom},
		{err: errBoom},
		{err: errBoom},
		{client: newFakeClient()},
	}
	h, ctx := newSupervisorHarness(t, steps, staticConfig(idleConfig), 5, func(c *SupervisorConfig) {
		c.Backoff = 10 * time.Second
		c.MaxBackoff = 30 * time.Second
	})

	_ = h.sup.Run(ctx)

	assertDurations(t, h.sleeper.recorded(), []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		DefaultCooldown,
	})
	if st := h.sup.Status(); st.Restarts != 4 {
		t.Errorf("Restarts = %d, want 4", st.Restarts)
	}
}

func TestSupervisor_BackoffResetsAfterSessionStarts(t *testing.T) {
	broken := newFakeClient()
	broken.accountsErr = errBoom

	steps := []dialStep{
		{err: errBoom},
		{client: broken},
		{err: errBoom},
		{client: newFakeClient()},
	}
	h, ctx := newSupervisorHarness(t, steps, staticConfig(enabledConfig), 4, nil)

	_ = h.sup.Run(ctx)

	assertDurations(t, h.sleeper.recorded(), []time.Duration{
		DefaultBackoff,
		DefaultBackoff,
		DefaultBackoff,
		DefaultCooldown,
	})
}

func TestSupervisor_NoAccounts(t *testing.T) {
	client := newFakeClient()
	client.accounts = nil

	h, ctx := newSupervisorHarness(t, []dialStep{{client: client}}, staticConfig(enabledConfig), 2, nil)

	_ = h.sup.Run(ctx)

	assertDurations(t, h.sleeper.recorded(), []time.Duration{DefaultNoAccountsPause, DefaultNoAccountsPause})

	if len(h.concurrency) != 0 {
		t.Error("no submitter should be built without accounts")
	}
	snap := h.sink.snapshot()
	if snap.cycles[ResultNoAccounts] != 2 {
		t.Errorf("no_accounts cycles = %d, want 2", snap.cycles[ResultNoAccounts])
	}
	if st := h.sup.Status(); st.Restarts != 0 {
		t.Errorf("missing accounts must not restart the session, restarts = %d", st.Restarts)
	}
	if n := client.count("eth_chainId"); n != 1 {
		t.Errorf("eth_chainId called %d times, want 1", n)
	}
}

func TestSupervisor_BalanceFailureOnlyWarns(t *testing.T) {
	client := newFakeClient()
	client.balanceErr = errBoom

	h, ctx := newSupervisorHarness(t, []dialStep{{client: client}}, staticConfig(idleConfig), 1, nil)

	_ = h.sup.Run(ctx)

	if st := h.sup.Status(); st.Restarts != 0 || st.LastError != "" {
		t.Errorf("balance failure should not fail the session: %+v", st)
	}
}

func TestSupervisor_StartupFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeClient)
		wantErr string
	}{
		{"chain id", func(c *fakeClient) { c.chainIDErr = errBoom }, "get chain id"},
		{"block number", func(c *fakeClient) { c.blockErr = errBoom }, "get block number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.mutate(client)

			h, ctx := newSupervisorHarness(t, []dialStep{{client: client}}, staticConfig(idleConfig), 1, nil)

			_ = h.sup.Run(ctx)

			assertDurations(t, h.sleeper.recorded(), []time.Duration{DefaultBackoff})
			if st := h.sup.Status(); !strings.Contains(st.LastError, tt.wantErr) {
				t.Errorf("LastError = %q, want it to contain %q", st.LastError, tt.wantErr)
			}
			if !client.isClosed() {
				t.Error("client should be closed")
			}
		})
	}
}

func TestSupervisor_RecoversPanic(t *testing.T) {
	var mu sync.Mutex
	reads := 0
	provider := ConfigProviderFunc(func() types.LoadConfig {
		mu.Lock()
		defer mu.Unlock()
		reads++
		if reads == 1 {
			panic("config exploded")
		}
		return idleConfig
	})

	h, ctx := newSupervisorHarness(t, []dialStep{{client: newFakeClient()}}, provider, 2, nil)

	err := h.sup.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	assertDurations(t, h.sleeper.recorded(), []time.Duration{DefaultBackoff, DefaultCooldown})

	st := h.sup.Status()
	if !strings.Contains(st.LastError, "panic") {
		t.Errorf("LastError = %q, want panic", st.LastError)
	}
	if st.Restarts != 1 {
		t.Errorf("Restarts = %d, want 1", st.Restarts)
	}
}

func TestSupervisor_ReadsConfigEveryIteration(t *testing.T) {
	last := types.LoadConfig{TargetTPS: 0, Concurrency: 3}
	provider := &scriptedConfig{configs: []types.LoadConfig{idleConfig, enabledConfig, last}}

	h, ctx := newSupervisorHarness(t, []dialStep{{client: newFakeClient()}}, provider, 3, nil)

	_ = h.sup.Run(ctx)

	snap := h.sink.snapshot()
	want := []types.LoadConfig{idleConfig, enabledConfig, last}
	if len(snap.configs) != len(want) {
		t.Fatalf("published configs = %v, want %v", snap.configs, want)
	}
	for i := range want {
		if snap.configs[i] != want[i] {
			t.Errorf("config[%d] = %+v, want %+v", i, snap.configs[i], want[i])
		}
	}
	if snap.cycles[ResultIdle] != 2 || snap.cycles[ResultCompleted] != 1 {
		t.Errorf("cycles = %v", snap.cycles)
	}
	if got := h.sup.Status().Config; got != last {
		t.Errorf("Status().Config = %+v, want %+v", got, last)
	}
}

func TestSupervisor_CancelledBeforeStart(t *testing.T) {
	h, ctx := newSupervisorHarness(t, []dialStep{{client: newFakeClient()}}, staticConfig(enabledConfig), 1, nil)
	h.sleeper.cancel()

	err := h.sup.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n := len(h.sleeper.recorded()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestHeadBlockRefresher(t *testing.T) {
	client := newFakeClient()
	sink := newFakeSink()

	var mu sync.Mutex
	var seen []uint64
	r := &headBlockRefresher{
		client:   client,
		sink:     sink,
		interval: 5 * time.Millisecond,
		logger:   discardLogger(),
		onBlock: func(n uint64) {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot().headBlocks) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop on cancel")
	}

	blocks := sink.snapshot().headBlocks
	if len(blocks) < 2 {
		t.Fatalf("head block published %d times, want >= 2", len(blocks))
	}
	if blocks[1] <= blocks[0] {
		t.Errorf("head block should advance: %v", blocks)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Errorf("onBlock called %d times", len(seen))
	}
}

func TestHeadBlockRefresher_ErrorsContinue(t *testing.T) {
	client := newFakeClient()
	client.blockErr = errBoom
	sink := newFakeSink()

	r := &headBlockRefresher{client: client, sink: sink, interval: 2 * time.Millisecond, logger: discardLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.run(ctx)

	if n := client.count("eth_blockNumber"); n < 2 {
		t.Errorf("eth_blockNumber called %d times, want >= 2", n)
	}
	if len(sink.snapshot().headBlocks) != 0 {
		t.Error("failed polls must not publish")
	}
}
