package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve pending conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Conflict.ListConflicts(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		if len(resp.Conflicts) == 0 {
			fmt.Println("No pending conflicts.")
			return nil
		}
		for _, cf := range resp.Conflicts {
			auto := ""
			if cf.AutoResolvable {
				auto = " (auto)"
			}
			fmt.Printf("%-10s %-8s local v%d / remote v%d  fields: %s%s\n",
				cf.ID, cf.Type, cf.Local.Version, cf.Remote.Version, strings.Join(cf.Fields, ","), auto)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <id> <local-wins|remote-wins|latest-wins|merge|manual> [key=value...]",
	Short: "Resolve a conflict; manual takes the resolved fields as key=value",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := conflict.ParseStrategy(args[1])
		if err != nil {
			return err
		}
		var data map[string]any
		if len(args) > 2 {
			if data, err = parseFields(args[2:]); err != nil {
				return err
			}
		}
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Conflict.ResolveConflict(ctx, &rpc.ResolveRequest{ID: args[0], Strategy: strategy, Data: data})
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		if !resp.Resolved {
			fmt.Printf("No pending conflict %q.\n", args[0])
			return nil
		}
		fmt.Printf("Resolved %s with %s.\n", resp.ID, resp.Strategy)
		return nil
	},
}

var conflictsAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Resolve every auto-resolvable conflict",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, c, done, err := connect(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.Conflict.AutoResolveConflicts(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Resolved %d conflicts.\n", len(resp.Resolutions))
		for _, r := range resp.Resolutions {
			fmt.Printf("  %s: %s\n", r.ID, r.Strategy)
		}
		return nil
	},
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd, conflictsAutoCmd)
	rootCmd.AddCommand(conflictsCmd)
}
