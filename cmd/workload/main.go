// Workload generator: drives a continuous stream of value transfers against a
// geth JSON-RPC endpoint and exports throughput and latency metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/workload/internal/config"
	"github.com/gateway-fm/workload/internal/loadgen"
	"github.com/gateway-fm/workload/internal/metrics"
	"github.com/gateway-fm/workload/internal/rpc"
	"github.com/gateway-fm/workload/internal/sender"
	"github.com/gateway-fm/workload/internal/storage"
	"github.com/gateway-fm/workload/internal/transport"
	"github.com/gateway-fm/workload/internal/txbuilder"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusMetrics(reg)

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
		return 1
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	clientCfg := rpc.DefaultClientConfig(cfg.GethURL)
	clientCfg.Logger = logger

	dial := func(ctx context.Context) (rpc.Client, error) {
		client, err := rpc.NewHTTPClient(clientCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	newSubmitter := func(client rpc.Client, from common.Address, concurrency int) loadgen.Submitter {
		return sender.New(sender.Config{
			Client:      client,
			Builder:     txbuilder.NewTransferBuilder(from),
			Concurrency: concurrency,
			Logger:      logger,
		})
	}

	cycle := loadgen.NewCycle(loadgen.CycleConfig{
		Sink:             sink,
		History:          store,
		HistoryRetention: cfg.HistoryRetention,
		Logger:           logger,
	})

	supervisor := loadgen.NewSupervisor(loadgen.SupervisorConfig{
		GethURL:      cfg.GethURL,
		Dial:         dial,
		NewSubmitter: newSubmitter,
		Config:       config.NewEnvProvider(logger),
		Cycle:        cycle,
		Sink:         sink,
		Prefunded:    txbuilder.DefaultRecipient,
		Logger:       logger,
	})

	if err := supervisor.Preflight(ctx); err != nil {
		logger.Error("failed to connect to geth", "url", cfg.GethURL, "error", err)
		return 1
	}

	probeClient, err := rpc.NewHTTPClient(clientCfg)
	if err != nil {
		logger.Error("failed to create RPC client", "error", err)
		return 1
	}
	defer probeClient.Close()

	server := transport.NewServer(transport.ServerConfig{
		Status:             supervisor,
		History:            store,
		Health:             &transport.NodeHealth{Client: probeClient},
		Gatherer:           reg,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	code := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
			code = 1
		}
		stop()
		<-runErr
	case <-runErr:
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}

	return code
}
