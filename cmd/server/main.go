package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/ghostwriter/internal"
	"github.com/DukeRupert/ghostwriter/internal/handler"
	"github.com/DukeRupert/ghostwriter/internal/metrics"
	"github.com/DukeRupert/ghostwriter/internal/middleware"
	"github.com/DukeRupert/ghostwriter/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	plans, err := cfg.PlanRegistry()
	if err != nil {
		return fmt.Errorf("plan registry initialization failed: %w", err)
	}

	// Connect storage and run migrations
	stores, err := internal.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	// Initialize services
	ledger := service.NewUsageLedger(stores.Usage, logger,
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithBackendName(string(cfg.LedgerBackend)),
	)
	quotaService := service.NewQuotaService(plans, stores.Subscriptions, ledger, logger,
		service.WithLookupTimeout(cfg.StoreTimeout),
	)

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	// Initialize handlers
	usageHandler := handler.NewUsageHandler(quotaService, ledger, cfg.IsStrict(), logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := stores.Ping(pingCtx); err != nil {
			logger.Error("Health check failed", "error", err)
			http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Usage API (requires the gateway's user header)
	apiMiddleware := []func(http.Handler) http.Handler{authMw.WithUser, authMw.RequireUser}
	if cfg.APIRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.APIRateLimit, time.Minute)
		defer limiter.Stop()
		apiMiddleware = append(apiMiddleware, middleware.NewRateLimitMiddleware(limiter, logger).Limit)
	}
	requireUser := middleware.Stack(apiMiddleware...)
	usageHandler.RegisterRoutes(mux, requireUser)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server starting",
		"address", server.Addr,
		"env", cfg.Env,
		"ledger", cfg.LedgerBackend,
		"enforcement", cfg.QuotaEnforcement,
		"default_plan", plans.Default(),
	)
	return serve(server, sigChan, logger)
}

// serve runs server until a signal arrives on stop, then shuts it down
// gracefully. A listener failure is returned immediately.
func serve(server *http.Server, stop <-chan os.Signal, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a failed listener
	select {
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
