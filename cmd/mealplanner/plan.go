package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"mealplanner"
	"mealplanner/internal/app"
	"mealplanner/slack"
	"mealplanner/storage"
	"mealplanner/workflow"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan [query]",
	Short: "Run the planner once and print the plan",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := mealplanner.LoadConfig()
		if err != nil {
			return err
		}

		tel, err := mealplanner.InitOtel(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer tel.Shutdown(context.Background())

		a, err := app.New(ctx, cfg, app.WithTelemetry(tel))
		if err != nil {
			return err
		}
		defer a.Close()

		var query string
		if len(args) == 1 {
			query = args[0]
		}

		onHand, _ := cmd.Flags().GetStringSlice("on-hand")
		if !cmd.Flags().Changed("on-hand") {
			onHand, err = storage.LoadOnHand(ctx, a.Pantry)
			if err != nil {
				return err
			}
		}

		if cfg.Server.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Server.RequestTimeout)
			defer cancel()
		}

		res, err := a.Pipeline.Plan(ctx, query, onHand)
		if err != nil {
			return err
		}

		if notify, _ := cmd.Flags().GetBool("notify"); notify && a.Slack != nil {
			if err := slack.PostPlan(ctx, a.Slack, cfg.Notify.SlackChannel, res.State); err != nil {
				return err
			}
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		dump, _ := cmd.Flags().GetBool("dump")
		return printResult(cmd.OutOrStdout(), res, asJSON, dump)
	},
}

func printResult(w io.Writer, res *workflow.Result, asJSON, dump bool) error {
	switch {
	case dump:
		mealplanner.Fdump(w, res.State)
	case asJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.State); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return nil
	default:
		fmt.Fprint(w, slack.FormatPlan(res.State))
	}

	usage := res.Usage()
	fmt.Fprintf(w, "\nrun %s: %d prompt tokens, %d completion tokens\n", res.RunID, usage.PromptTokens, usage.CompletionTokens)
	return nil
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringSlice("on-hand", nil, "Ingredients already at home (defaults to the configured pantry)")
	planCmd.Flags().Bool("json", false, "Print the full planner state as JSON")
	planCmd.Flags().Bool("dump", false, "Print a debug dump of the planner state")
	planCmd.Flags().Bool("notify", false, "Post the plan to Slack when SLACK_WEBHOOK_URL is set")
}
