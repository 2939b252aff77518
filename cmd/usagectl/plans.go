package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/DukeRupert/ghostwriter/internal"
	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(migrateCmd)
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List plan tiers and their monthly limits",
	Long: `List every plan tier with its monthly limits. Posts and regenerations
share the posts budget. The tier marked default applies to users without an
entitled subscription and to unknown plans.

Examples:
  usagectl plans
  DEFAULT_PLAN=starter usagectl plans --json`,
	Args: cobra.NoArgs,
	RunE: runPlans,
}

func runPlans(cmd *cobra.Command, args []string) error {
	defaultPlan := domain.PlanTrial
	if v := os.Getenv("DEFAULT_PLAN"); v != "" {
		defaultPlan = domain.PlanID(v)
	}
	plans, err := domain.NewPlanRegistry(defaultPlan, domain.DefaultPlanLimits...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, struct {
			Default domain.PlanID       `json:"default"`
			Plans   []domain.PlanLimits `json:"plans"`
		}{plans.Default(), plans.Plans()})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tPOSTS\tTOPICS\tVOICE ANALYSES\t")
	for _, l := range plans.Plans() {
		name := string(l.Plan)
		if l.Plan == plans.Default() {
			name += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", name,
			formatLimit(l.Posts), formatLimit(l.Topics), formatLimit(l.VoiceAnalyses))
	}
	return tw.Flush()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded goose migrations to DATABASE_URL. The server also
migrates on startup; this command exists for deploy pipelines.

Examples:
  DATABASE_URL=postgres://localhost/ghostwriter usagectl migrate`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := internal.NewPool(cmd.Context(), databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := internal.RunMigrations(pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
	return nil
}
