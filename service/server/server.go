package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server driving a single wallet session.
type Server struct {
	addr         string
	cluster      string
	provider     wallet.Provider
	ledger       transfer.Ledger
	runner       *transfer.Runner
	tracker      *Tracker
	session      *sessionHolder
	store        TransferStore
	approvals    *wallet.QueueApprover
	ssePublisher *SSEPublisher
	renderer     *TemplateRenderer
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The tracker must also be registered as an observer of the runner's workflow
// so in-flight attempts can be queried.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr, cluster string, provider wallet.Provider, ledger transfer.Ledger, runner *transfer.Runner, tracker *Tracker, m *metrics.Metrics, logger *slog.Logger) *Server {
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &Server{
		addr:     addr,
		cluster:  cluster,
		provider: provider,
		ledger:   ledger,
		runner:   runner,
		tracker:  tracker,
		session:  &sessionHolder{},
		metrics:  m,
		logger:   logger,
	}
}

// WithStore enables the transfer history endpoints.
func (s *Server) WithStore(store TransferStore) *Server {
	s.store = store
	return s
}

// WithApprovals exposes pending wallet requests so they can be decided over HTTP.
func (s *Server) WithApprovals(q *wallet.QueueApprover) *Server {
	s.approvals = q
	return s
}

// WithStream enables the SSE endpoints.
func (s *Server) WithStream(p *SSEPublisher) *Server {
	s.ssePublisher = p
	return s
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session routes
	route("POST /api/v1/session", "/api/v1/session", handleConnect(s.session, s.provider, s.ledger, s.cluster, s.logger))
	route("DELETE /api/v1/session", "/api/v1/session", handleDisconnect(s.session, s.logger))
	route("GET /api/v1/session", "/api/v1/session", handleGetSession(s.session, s.cluster))
	route("GET /api/v1/balance", "/api/v1/balance", handleBalance(s.session, s.logger))

	// Transfer routes
	route("POST /api/v1/transfers", "/api/v1/transfers", handleCreateTransfer(s.session, s.runner, s.tracker, s.logger))
	route("GET /api/v1/transfers/{id}", "/api/v1/transfers/{id}", handleGetTransfer(s.tracker, s.store, s.logger))
	route("GET /api/v1/transfers", "/api/v1/transfers", handleListTransfers(s.session, s.store, s.logger))

	// Approval routes (if the wallet defers to an HTTP operator)
	if s.approvals != nil {
		RegisterApprovalRoutes(mux, s.approvals, s.metrics, s.logger)
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/transfers/{account}", "/api/v1/stream/transfers", handleStreamTransfers(s.ssePublisher, s.metrics, s.logger))
		route("GET /api/v1/stream/transfers", "/api/v1/stream/transfers", handleStreamTransfers(s.ssePublisher, s.metrics, s.logger))
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		mux.HandleFunc("GET /{$}", handleIndexPage(s.renderer, s.cluster))
		mux.HandleFunc("GET /favicon.ico", handleFavicon())
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// RegisterApprovalRoutes adds the approvals API for q to mux.
func RegisterApprovalRoutes(mux *http.ServeMux, q *wallet.QueueApprover, m *metrics.Metrics, logger *slog.Logger) {
	mux.Handle("GET /api/v1/approvals", metrics.HTTPMetricsMiddleware(m, "/api/v1/approvals")(handleListApprovals(q)))
	mux.Handle("POST /api/v1/approvals/{id}", metrics.HTTPMetricsMiddleware(m, "/api/v1/approvals/{id}")(handleDecideApproval(q, logger)))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.ssePublisher == nil {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}
	if s.store == nil {
		s.logger.Warn("database not configured, transfer history disabled")
	}

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Connect, sign approvals and SSE streams hold responses open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "cluster", s.cluster)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if sess := s.session.take(); sess != nil {
		if err := sess.Disconnect(ctx); err != nil {
			s.logger.Warn("failed to disconnect wallet", "error", err)
		}
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
