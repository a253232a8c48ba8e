package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/service"
)

var (
	campaignID int
	olderThan  time.Duration
	callerID   string
	tier       string
)

var resetStuckCmd = &cobra.Command{
	Use:   "reset-stuck",
	Short: "Return companies stuck in a working state to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		if campaignID <= 0 {
			return eris.New("--campaign is required")
		}
		a, err := app.Open(cmd.Context(), cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.Service.ResetStuck(cmd.Context(), campaignID, olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d companies: %v\n", len(ids), ids)
		return nil
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-queue failed companies and process them now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if campaignID <= 0 {
			return eris.New("--campaign is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.Open(ctx, cfg, app.Options{Browser: true})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Service.RetryFailed(ctx, campaignID, service.Caller{ID: callerID, Tier: tier})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show a caller's allowance for today",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Open(cmd.Context(), cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		usage, err := a.Service.Usage(cmd.Context(), service.Caller{ID: callerID, Tier: tier})
		if err != nil {
			return err
		}
		return printJSON(cmd, usage)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{resetStuckCmd, retryFailedCmd} {
		c.Flags().IntVar(&campaignID, "campaign", 0, "campaign id")
	}
	resetStuckCmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "minimum time since the last status change")
	for _, c := range []*cobra.Command{retryFailedCmd, usageCmd} {
		c.Flags().StringVar(&callerID, "caller", "operator", "caller id charged for the work")
		c.Flags().StringVar(&tier, "tier", "enterprise", "subscription tier of the caller")
	}
	rootCmd.AddCommand(resetStuckCmd, retryFailedCmd, usageCmd)
}
