package main

import (
	"context"
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
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"cluster", cfg.SolanaCluster,
		"approval_mode", cfg.ApprovalMode,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client on one of the configured endpoints
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("no solana endpoint", "error", err)
		os.Exit(1)
	}
	ledger := solana.NewClient(solana.NewRPCClient(endpoint), cfg.SolanaCluster, metricsCollector, logger).
		WithConfirmPollInterval(cfg.ConfirmPollInterval)
	logger.Info("initialized solana RPC client", "total_endpoints", len(cfg.SolanaRPCURLs))

	// Wallet answers through the approvals API unless configured otherwise
	approvals := wallet.NewQueueApprover()
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

	tracker := server.NewTracker(0)
	observers := transfer.Observers{tracker, transfer.NewMetricsObserver(metricsCollector)}

	// Optional transfer history
	var store *db.Store
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
		store = db.NewStore(dbPool).WithMetrics(metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		observers = append(observers, db.NewRecorder(store, logger))
		logger.Info("connected to database")
	}

	// Optional event stream
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		observers = append(observers, natspkg.NewEventObserver(natsPublisher, logger))

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	workflow := transfer.NewWorkflow(cfg.SolanaCluster, observers, logger)
	runner := transfer.NewRunner(ctx, workflow, metricsCollector, logger)
	defer runner.Close()

	httpServer := server.New(cfg.ServerAddr, cfg.SolanaCluster, provider, ledger, runner, tracker, metricsCollector, logger)
	if cfg.ApprovalMode == config.ApprovalQueue {
		httpServer = httpServer.WithApprovals(approvals)
	}
	if store != nil {
		httpServer = httpServer.WithStore(store)
	}
	if ssePublisher != nil {
		httpServer = httpServer.WithStream(ssePublisher)
	}
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	logger.Info("server initialized, all dependencies ready",
		"database", store != nil,
		"nats", ssePublisher != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}
