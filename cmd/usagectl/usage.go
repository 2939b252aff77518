package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/DukeRupert/ghostwriter/internal/domain"
	"github.com/spf13/cobra"
)

var (
	// usage flags
	usagePeriod string

	// record flags
	recordCount int64

	// subscribe flags
	subscribeStatus    string
	subscribePeriodEnd string
)

func init() {
	usageCmd.Flags().StringVar(&usagePeriod, "period", "", "period as YYYY-MM (default: current UTC month)")
	recordCmd.Flags().Int64Var(&recordCount, "count", 1, "units to record")
	subscribeCmd.Flags().StringVar(&subscribeStatus, "status", string(domain.SubscriptionStatusActive), "subscription status")
	subscribeCmd.Flags().StringVar(&subscribePeriodEnd, "period-end", "", "billing period end as RFC 3339")

	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(subscribeCmd)
}

var usageCmd = &cobra.Command{
	Use:   "usage <user>",
	Short: "Show a user's usage for a period",
	Long: `Show a user's counters for one period. A period with nothing recorded
shows zeros.

Examples:
  usagectl usage user_123
  usagectl usage user_123 --period 2026-09 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := args[0]
	out := cmd.OutOrStdout()

	if usagePeriod == "" {
		summary, err := a.quotas.Summary(ctx, userID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, summary)
		}
		fmt.Fprintf(out, "User %s on %s plan, period %s (resets %s)\n\n",
			summary.UserID, summary.Plan, summary.Period, summary.ResetsAt.Format(time.RFC3339))
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RESOURCE\tUSED\tLIMIT\tREMAINING\t")
		for _, r := range domain.Resources {
			u := summary.Resources[r]
			if u.Unlimited {
				fmt.Fprintf(tw, "%s\t%d\tunlimited\tunlimited\t\n", r, u.Used)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t\n", r, u.Used, u.Limit, u.Remaining)
		}
		return tw.Flush()
	}

	period, err := domain.ParsePeriod(usagePeriod)
	if err != nil {
		return err
	}
	rec, err := a.ledger.CurrentUsage(ctx, userID, period)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, rec)
	}

	fmt.Fprintf(out, "User %s, period %s\n\n", rec.UserID, rec.Period)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTER\tCOUNT\t")
	for _, c := range domain.Counters {
		fmt.Fprintf(tw, "%s\t%d\t\n", c, rec.Count(c))
	}
	return tw.Flush()
}

var checkCmd = &cobra.Command{
	Use:   "check <user> <action>",
	Short: "Evaluate whether a user may perform an action",
	Long: `Evaluate the quota for an action without recording anything.

Actions: generate_post, regenerate_post, classify_topic, research_topic,
analyze_voice.

Examples:
  usagectl check user_123 generate_post`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action, err := domain.ParseAction(args[1])
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.quotas.CheckLimit(ctx, args[0], action)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, decision)
	}
	verdict := "allowed"
	if !decision.Allowed {
		verdict = "denied"
	}
	fmt.Fprintf(out, "%s: %s on %s plan (%s used %d of %s)\n",
		action, verdict, decision.Plan, decision.Resource, decision.Current, formatLimit(decision.Limit))
	return nil
}

var recordCmd = &cobra.Command{
	Use:   "record <user> <action>",
	Short: "Record usage for an action in the current period",
	Long: `Record usage directly in the ledger, for example to backfill work that
completed while the ledger was unreachable. No quota is enforced.

Examples:
  usagectl record user_123 generate_post
  usagectl record user_123 classify_topic --count 5`,
	Args: cobra.ExactArgs(2),
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action, err := domain.ParseAction(args[1])
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.ledger.Increment(ctx, args[0], action, recordCount)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, rec)
	}
	fmt.Fprintf(out, "Recorded %d %s for %s in %s (%s now %d)\n",
		recordCount, action, rec.UserID, rec.Period, action.Counter(), rec.Count(action.Counter()))
	return nil
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <user> <plan>",
	Short: "Set a user's subscription",
	Long: `Create or replace a user's subscription. Billing webhooks normally do
this; the command exists for support and testing.

Examples:
  usagectl subscribe user_123 growth
  usagectl subscribe user_123 starter --status past_due`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plan := domain.PlanID(args[1])
	status, err := domain.ParseSubscriptionStatus(subscribeStatus)
	if err != nil {
		return err
	}

	var periodEnd *time.Time
	if subscribePeriodEnd != "" {
		t, err := time.Parse(time.RFC3339, subscribePeriodEnd)
		if err != nil {
			return fmt.Errorf("--period-end must be RFC 3339: %w", err)
		}
		periodEnd = &t
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.plans.Known(plan) {
		return fmt.Errorf("unknown plan %q", plan)
	}

	sub := &domain.Subscription{
		UserID:           args[0],
		Plan:             plan,
		Status:           status,
		CurrentPeriodEnd: periodEnd,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := a.stores.Subscriptions.Upsert(ctx, sub); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Subscribed %s to %s (%s), effective plan %s\n",
		sub.UserID, sub.Plan, sub.Status, a.plans.Resolve(sub.EffectivePlan(a.plans.Default())))
	return nil
}
