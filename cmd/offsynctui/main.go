package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/offsync/internal/account"
	"github.com/matheus3301/offsync/internal/config"
	"github.com/matheus3301/offsync/internal/tui"
	"github.com/matheus3301/offsync/internal/tui/client"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	stubFlag := flag.Bool("stub-api", false, "start the daemon against the local stub API if it is not running")
	flag.Parse()

	_ = config.LoadDotEnv()
	cfg, err := config.LoadOrDefault(account.ConfigPath())
	if err != nil {
		fail(fmt.Errorf("load config: %w", err))
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		fail(err)
	}
	name := account.Resolve(*accountFlag, cfg)
	if err := account.ValidateName(name); err != nil {
		fail(err)
	}

	socketPath := account.SocketPath(name)

	// Probe daemon health; auto-start if needed.
	if !client.Probe(socketPath, 2*time.Second) {
		fmt.Fprintf(os.Stderr, "daemon not running for account %q, starting...\n", name)
		if err := startDaemon(name, *stubFlag); err != nil {
			fail(fmt.Errorf("start daemon: %w", err))
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fail(fmt.Errorf("daemon did not become ready"))
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fail(fmt.Errorf("connect to daemon: %w", err))
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, name)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startDaemon(name string, stub bool) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	offsyncd := filepath.Join(filepath.Dir(executable), "offsyncd")
	if _, err := os.Stat(offsyncd); err != nil {
		offsyncd = "offsyncd"
	}

	args := []string{"--account", name}
	if stub {
		args = append(args, "--stub-api")
	}
	cmd := exec.Command(offsyncd, args...)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real gRPC call, not just a socket connect.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.Probe(socketPath, time.Second) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
