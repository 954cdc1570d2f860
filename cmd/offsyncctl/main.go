package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/offsync/internal/account"
	"github.com/matheus3301/offsync/internal/config"
	"github.com/matheus3301/offsync/internal/tui/client"
)

var (
	accountFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "offsyncctl",
	Short:         "Control the offsync daemon of an account",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "account name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "per-call deadline")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the account and dials its daemon. The returned cancel
// closes the connection too.
func connect(cmd *cobra.Command) (context.Context, *client.Client, func(), error) {
	_ = config.LoadDotEnv()
	cfg, err := config.LoadOrDefault(account.ConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, nil, nil, err
	}
	name := account.Resolve(accountFlag, cfg)
	if err := account.ValidateName(name); err != nil {
		return nil, nil, nil, err
	}

	c, err := client.New(account.SocketPath(name))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot connect to daemon for account %q: %w", name, err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	return ctx, c, func() {
		cancel()
		_ = c.Close()
	}, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
