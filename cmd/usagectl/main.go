// Package main implements usagectl, the operator CLI for the usage ledger
// and plan entitlements.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/DukeRupert/ghostwriter/internal"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/DukeRupert/ghostwriter/internal/service"
	"github.com/spf13/cobra"
)

var (
	// verbose enables debug logging to stderr
	verbose bool
	// asJSON switches output to JSON
	asJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "usagectl",
	Short: "Inspect and adjust metered usage",
	Long: `usagectl reads and writes the usage ledger and subscriptions directly,
using the same configuration as the server (DATABASE_URL, LEDGER_BACKEND,
REDIS_URL, DEFAULT_PLAN).`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
}

// app bundles what the data commands need.
type app struct {
	cfg    *internal.Config
	logger *slog.Logger
	stores *internal.Stores
	plans  *domain.PlanRegistry
	ledger service.UsageLedger
	quotas service.QuotaService
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := internal.NewLogger(os.Stderr, cfg.Env, level)

	plans, err := cfg.PlanRegistry()
	if err != nil {
		return nil, err
	}

	stores, err := internal.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger := service.NewUsageLedger(stores.Usage, logger,
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithBackendName(string(cfg.LedgerBackend)),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		stores: stores,
		plans:  plans,
		ledger: ledger,
		quotas: service.NewQuotaService(plans, stores.Subscriptions, ledger, logger,
			service.WithLookupTimeout(cfg.StoreTimeout)),
	}, nil
}

func (a *app) Close() {
	if err := a.stores.Close(); err != nil {
		a.logger.Warn("Failed to close stores", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatLimit renders the unlimited sentinel as a word.
func formatLimit(limit int64) string {
	if limit >= domain.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}
