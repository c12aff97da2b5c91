package loadgen

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/pkg/types"
)

// Dialer constructs a client for one supervisor session.
type Dialer func(ctx context.Context) (rpc.Client, error)

// SubmitterFactory builds the submitter for one cycle.
type SubmitterFactory func(client rpc.Client, from common.Address, concurrency int) Submitter

// SupervisorConfig for creating a Supervisor.
type SupervisorConfig struct {
	GethURL      string
	Dial         Dialer
	NewSubmitter SubmitterFactory
	Config       ConfigProvider
	Cycle        *Cycle
	Sink         Sink
	Prefunded    common.Address // account whose balance is logged at session start
	Logger       *slog.Logger

	Cooldown          time.Duration
	Backoff           time.Duration
	MaxBackoff        time.Duration
	NoAccountsPause   time.Duration
	HeadBlockInterval time.Duration

	// Sleep replaces the ctx-aware sleep between phases, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor runs load cycles forever. Any session-level failure tears the
// session down, waits a backoff and starts again from dialing.
type Supervisor struct {
	cfg    SupervisorConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	mu          sync.RWMutex
	state       types.SupervisorState
	chainID     uint64
	headBlock   uint64
	sender      common.Address
	loadConfig  types.LoadConfig
	cycles      uint64
	restarts    uint64
	lastErr     string
	lastCycleAt *time.Time
	lastWindow  *types.WindowMetrics
	startedAt   time.Time
}

// NewSupervisor creates a supervisor, filling unset timings with defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.Backoff)
	}
	if cfg.NoAccountsPause <= 0 {
		cfg.NoAccountsPause = DefaultNoAccountsPause
	}
	if cfg.HeadBlockInterval <= 0 {
		cfg.HeadBlockInterval = DefaultHeadBlockInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleepFn := cfg.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}

	return &Supervisor{
		cfg:       cfg,
		sleep:     sleepFn,
		logger:    logger,
		state:     types.StateConnecting,
		startedAt: time.Now(),
	}
}

// Preflight dials once and asks for the chain id. main treats a failure
// here as fatal; later failures are handled by Run.
func (s *Supervisor) Preflight(ctx context.Context) error {
	client, err := s.cfg.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer closeClient(client)

	if _, err := client.ChainID(ctx); err != nil {
		return fmt.Errorf("node at %s is not reachable: %w", s.cfg.GethURL, err)
	}
	return nil
}

// Run loops sessions until ctx is cancelled, then returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.cfg.Backoff

	for {
		reachedLoop, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if reachedLoop {
			delay = s.cfg.Backoff
		}
		s.setLastError(err)
		s.logger.Error("session failed, restarting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)

		s.setState(types.StateBackoff)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
		if !reachedLoop {
			delay = min(delay*2, s.cfg.MaxBackoff)
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		s.cfg.Sink.IncRestarts()
	}
}

// session runs the startup sequence then cycles until something fails.
// reachedLoop reports whether startup completed.
func (s *Supervisor) session(ctx context.Context) (reachedLoop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in session: %v", r)
		}
	}()

	s.setState(types.StateConnecting)
	s.logger.Info("connecting to geth JSON-RPC", slog.String("url", s.cfg.GethURL))

	client, err := s.cfg.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer closeClient(client)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return false, fmt.Errorf("get chain id: %w", err)
	}
	block, err := client.GetBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("get block number: %w", err)
	}

	s.logger.Info("connected", slog.Uint64("chainId", chainID))
	s.logger.Info("current block number", slog.Uint64("block", block))
	s.cfg.Sink.SetHeadBlock(block)
	s.mu.Lock()
	s.chainID = chainID
	s.headBlock = block
	s.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	refresher := &headBlockRefresher{
		client:   client,
		sink:     s.cfg.Sink,
		interval: s.cfg.HeadBlockInterval,
		logger:   s.logger,
		onBlock:  s.setHeadBlock,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		refresher.run(sessionCtx)
	}()

	s.logBalance(ctx, client)

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		cfg := s.cfg.Config.LoadConfig()
		s.cfg.Sink.SetLoadConfig(cfg)
		s.mu.Lock()
		s.loadConfig = cfg
		s.mu.Unlock()

		if cfg.Enabled() {
			accounts, err := client.Accounts(ctx)
			if err != nil {
				return true, fmt.Errorf("get accounts: %w", err)
			}
			if len(accounts) == 0 {
				s.logger.Error("cannot generate load", slog.String("error", ErrNoAccounts.Error()))
				s.cfg.Sink.RecordCycle(ResultNoAccounts)
				if err := s.sleep(ctx, s.cfg.NoAccountsPause); err != nil {
					return true, err
				}
				continue
			}

			from := accounts[0]
			s.mu.Lock()
			s.sender = from
			s.mu.Unlock()

			s.logger.Info("starting load generation",
				slog.Int("targetTps", cfg.TargetTPS),
				slog.Int("concurrency", cfg.Concurrency),
				slog.Duration("duration", cfg.CycleDuration),
				slog.String("from", from.Hex()),
			)
			s.setState(types.StateRunning)

			submitter := s.cfg.NewSubmitter(client, from, cfg.Concurrency)
			result := s.cfg.Cycle.Run(ctx, cfg, submitter, RunMeta{ChainID: chainID, Sender: from})
			s.recordCycle(result)
			s.cfg.Sink.RecordCycle(ResultCompleted)
		} else {
			s.setState(types.StateIdle)
			s.logger.Info("TARGET_TPS and/or CONCURRENCY not set (>0), skipping load generation cycle")
			s.cfg.Sink.RecordCycle(ResultIdle)
		}

		s.setState(types.StateCooldown)
		if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
			return true, err
		}
	}
}

// logBalance logs the prefunded account balance. Failures only warn.
func (s *Supervisor) logBalance(ctx context.Context, client rpc.Client) {
	balance, err := client.GetBalance(ctx, s.cfg.Prefunded)
	if err != nil {
		s.logger.Warn("failed to query balance",
			slog.String("account", s.cfg.Prefunded.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(params.Ether)).Float64()
	s.logger.Info("prefunded account balance",
		slog.String("account", s.cfg.Prefunded.Hex()),
		slog.Float64("eth", eth),
		slog.String("wei", balance.String()),
	)
}

func closeClient(client rpc.Client) {
	if c, ok := client.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Supervisor) setState(state types.SupervisorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.cfg.Sink.SetState(state)
}

func (s *Supervisor) setHeadBlock(n uint64) {
	s.mu.Lock()
	s.headBlock = n
	s.mu.Unlock()
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
	}
}

func (s *Supervisor) recordCycle(r *CycleResult) {
	if r == nil {
		return
	}
	now := time.Now()
	window := r.Metrics

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.lastCycleAt = &now
	s.lastWindow = &window
}

// Status returns a point-in-time view of the supervisor.
func (s *Supervisor) Status() types.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.Status{
		State:           s.state,
		GethURL:         s.cfg.GethURL,
		ChainID:         s.chainID,
		HeadBlock:       s.headBlock,
		Config:          s.loadConfig,
		CyclesCompleted: s.cycles,
		Restarts:        s.restarts,
		LastError:       s.lastErr,
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
	}
	if s.sender != (common.Address{}) {
		st.SenderAddress = s.sender.Hex()
	}
	if s.lastCycleAt != nil {
		t := *s.lastCycleAt
		st.LastCycleAt = &t
	}
	if s.lastWindow != nil {
		w := *s.lastWindow
		st.LastWindow = &w
	}
	return st
}
