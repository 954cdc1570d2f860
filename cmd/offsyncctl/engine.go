package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/offsync/internal/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine state, connectivity and queue counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Engine.GetStatus(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Account:   %s\n", resp.Account)
		fmt.Printf("State:     %s (since %s)\n", resp.State, resp.Since.Format(time.RFC3339))
		fmt.Printf("Network:   %s\n", resp.Network)
		fmt.Printf("Pending:   %d\n", resp.Pending)
		fmt.Printf("Failed:    %d\n", resp.Failed)
		fmt.Printf("Conflicts: %d\n", resp.Conflicts)
		if !resp.LastRunAt.IsZero() {
			fmt.Printf("Last run:  %s\n", resp.LastRunAt.Format(time.RFC3339))
		}
		if resp.LastError != "" {
			fmt.Printf("Error:     %s\n", resp.LastError)
		}
		fmt.Printf("Uptime:    %s\n", time.Duration(resp.UptimeMs)*time.Millisecond)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Engine.SyncNow(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		if resp.Skipped {
			fmt.Println("Skipped: offline or a run is already active.")
			return nil
		}
		if len(resp.Results) == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}
		for _, r := range resp.Results {
			line := fmt.Sprintf("%-6d %-15s %-9s retries=%d", r.ItemID, r.Operation, r.Outcome, r.RetriesUsed)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var networkCmd = &cobra.Command{
	Use:   "network <online|offline> [4g|3g|2g|slow-2g] [downlink=N] [rtt=D] [save-data]",
	Short: "Report connectivity to the daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Engine.ReportNetwork(ctx, &rpc.NetworkRequest{Status: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Network: %s\n", resp.Network)
		return nil
	},
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show local storage usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Engine.StorageEstimate(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Usage: %d bytes\n", resp.Usage)
		fmt.Printf("Quota: %d bytes\n", resp.Quota)
		fmt.Printf("Used:  %.2f%%\n", resp.Percent)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every local record, queue item and pending conflict",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("reset discards unsynced data; pass --yes to confirm")
		}
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		if err := c.Engine.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("Local data cleared.")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm the reset")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(resetCmd)
}
