package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/metrics"
	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/server"
	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// The metrics server also carries the approvals API when the wallet
	// defers to an operator.
	approvals := wallet.NewQueueApprover()
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.ApprovalMode == config.ApprovalQueue {
		server.RegisterApprovalRoutes(mux, approvals, metricsCollector, logger)
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("no solana endpoint", "error", err)
		os.Exit(1)
	}
	ledger := solana.NewClient(solana.NewRPCClient(endpoint), cfg.SolanaCluster, metricsCollector, logger).
		WithConfirmPollInterval(cfg.ConfirmPollInterval)
	logger.Info("initialized solana RPC client", "total_endpoints", len(cfg.SolanaRPCURLs))

	approver, err := wallet.ApproverForMode(cfg.ApprovalMode, approvals)
	if err != nil {
		logger.Error("invalid approval mode", "error", err)
		os.Exit(1)
	}
	provider, err := wallet.LoadKeypairProvider(cfg.WalletKeypairPath, approver, logger)
	if err != nil {
		logger.Error("failed to load wallet keypair", "error", err)
		os.Exit(1)
	}

	// Activities sign with a connected wallet. Trust is held in memory only,
	// so every start asks the approver for the connection.
	account, err := provider.Connect(ctx, wallet.ConnectOptions{})
	if err != nil {
		logger.Error("failed to connect wallet", "error", err)
		os.Exit(1)
	}
	defer provider.Disconnect(context.Background())
	logger.Info("wallet connected", "account", account.String())

	observers := transfer.Observers{transfer.NewMetricsObserver(metricsCollector)}

	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store := db.NewStore(dbPool).WithMetrics(metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		observers = append(observers, db.NewRecorder(store, logger))
		logger.Info("connected to database")
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		observers = append(observers, natspkg.NewEventObserver(natsPublisher, logger))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Ledger:            ledger,
		Wallet:            provider,
		Observer:          observers,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"account", account.String(),
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}
