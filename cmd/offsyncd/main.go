package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/offsync/internal/account"
	"github.com/matheus3301/offsync/internal/config"
	"github.com/matheus3301/offsync/internal/daemon"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.offsync/config.toml)")
	stubFlag := flag.Bool("stub-api", false, "serve the in-memory remote API locally and sync against it")
	verboseFlag := flag.Bool("v", false, "log at debug level")
	stderrFlag := flag.Bool("stderr", false, "also log to stderr")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fail(err)
	}
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = account.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fail(fmt.Errorf("load config %s: %w", cfgPath, err))
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		fail(err)
	}

	name := account.Resolve(*accountFlag, cfg)
	if err := account.ValidateName(name); err != nil {
		fail(err)
	}

	level := zapcore.InfoLevel
	if *verboseFlag {
		level = zapcore.DebugLevel
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Account: name,
			Config:  cfg,
			StubAPI: *stubFlag,
			Stderr:  *stderrFlag,
			Level:   level,
		}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fail(err)
	}

	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
