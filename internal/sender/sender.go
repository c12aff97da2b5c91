// Package sender submits fixed-shape transfers to the node with bounded concurrency.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/internal/txbuilder"
)

// Sender splits one transfer attempt into quote, submit and receipt wait.
// Every step holds a semaphore slot while it talks to the node, which caps
// the RPC calls in flight across all workers.
type Sender struct {
	client       rpc.Client
	builder      *txbuilder.TransferBuilder
	semaphore    chan struct{}
	pollInterval time.Duration
	logger       *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Client       rpc.Client
	Builder      *txbuilder.TransferBuilder
	Concurrency  int           // Max RPC steps in flight (default: 500)
	PollInterval time.Duration // Receipt poll spacing (default: 100ms)
	Logger       *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 500
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = rpc.DefaultReceiptPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:       cfg.Client,
		builder:      cfg.Builder,
		semaphore:    make(chan struct{}, concurrency),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (s *Sender) acquire(ctx context.Context) error {
	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) release() {
	<-s.semaphore
}

// From returns the sending account.
func (s *Sender) From() common.Address {
	return s.builder.From()
}

// QuoteFee returns the node's current gas price.
func (s *Sender) QuoteFee(ctx context.Context) (*big.Int, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	gasPrice, err := s.client.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote gas price: %w", err)
	}
	return gasPrice, nil
}

// Submit sends one transfer priced at gasPrice and returns its hash.
func (s *Sender) Submit(ctx context.Context, gasPrice *big.Int) (common.Hash, error) {
	args, err := s.builder.Build(gasPrice)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transfer: %w", err)
	}

	if err := s.acquire(ctx); err != nil {
		return common.Hash{}, err
	}
	defer s.release()

	txHash, err := s.client.SendTransaction(ctx, args)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return txHash, nil
}

// AwaitReceipt blocks until txHash is included or timeout elapses. A receipt
// with status 0 is returned without error; the caller classifies it.
func (s *Sender) AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*rpc.TransactionReceipt, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	receipt, err := rpc.WaitForReceipt(ctx, s.client, txHash, timeout, s.pollInterval)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}

	s.logger.Debug("transfer included",
		slog.String("tx", txHash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("status", receipt.Status),
	)
	return receipt, nil
}

// Capacity returns the total number of slots.
func (s *Sender) Capacity() int {
	return cap(s.semaphore)
}

// InFlight returns the number of steps currently talking to the node.
func (s *Sender) InFlight() int {
	return len(s.semaphore)
}
